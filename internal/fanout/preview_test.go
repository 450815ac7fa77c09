package fanout

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"chatcall_realtime/internal/model"
)

func seal(t *testing.T, algorithm string, key, nonce []byte, plain string) string {
	t.Helper()
	var aead cipher.AEAD
	var err error
	switch algorithm {
	case model.AlgorithmAESGCM:
		block, berr := aes.NewCipher(key)
		require.NoError(t, berr)
		aead, err = cipher.NewGCM(block)
	default:
		aead, err = chacha20poly1305.NewX(key)
	}
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, []byte(plain), nil))
}

func TestNotificationPreview_Order(t *testing.T) {
	long := strings.Repeat("a", model.MaxPreviewLength+1)

	tests := []struct {
		name    string
		msg     model.Message
		preview string
		want    string
	}{
		{"client preview wins", model.Message{Type: model.MessageTypeText, Content: "raw"}, "hello", "hello"},
		{"overlong client preview ignored", model.Message{Type: model.MessageTypeText, Content: "raw"}, long, "raw"},
		{"image placeholder", model.Message{Type: model.MessageTypeImage, Content: "https://cdn/x.jpg"}, "", "📷 Photo"},
		{"video placeholder", model.Message{Type: model.MessageTypeVideo}, "", "🎥 Video"},
		{"audio placeholder", model.Message{Type: model.MessageTypeAudio}, "", "🎤 Voice message"},
		{"file placeholder", model.Message{Type: model.MessageTypeFile}, "", "📎 File"},
		{"raw text", model.Message{Type: model.MessageTypeText, Content: "  hi there "}, "", "hi there"},
		{"fallback", model.Message{Type: model.MessageTypeText}, "", FallbackPreview},
		{
			"undecryptable text never shows ciphertext",
			model.Message{Type: model.MessageTypeText, Content: "Zm9v", Encryption: &model.Encryption{Algorithm: model.AlgorithmAESGCM, Nonce: "AAAA"}},
			"", FallbackPreview,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NotificationPreview(&tt.msg, tt.preview, nil))
		})
	}
}

func TestNotificationPreview_DecryptsWithChatKey(t *testing.T) {
	for _, algorithm := range []string{model.AlgorithmAESGCM, model.AlgorithmXChaCha20Poly1305} {
		t.Run(algorithm, func(t *testing.T) {
			key := make([]byte, 32)
			for i := range key {
				key[i] = byte(i)
			}
			nonceSize := 12
			if algorithm == model.AlgorithmXChaCha20Poly1305 {
				nonceSize = chacha20poly1305.NonceSizeX
			}
			nonce := make([]byte, nonceSize)

			msg := &model.Message{
				Type:       model.MessageTypeText,
				Content:    seal(t, algorithm, key, nonce, "see you at 8"),
				Encryption: &model.Encryption{Algorithm: algorithm, Nonce: base64.StdEncoding.EncodeToString(nonce)},
			}
			chatKey := base64.StdEncoding.EncodeToString(key)

			assert.Equal(t, "see you at 8", NotificationPreview(msg, "", &chatKey))

			wrong := base64.StdEncoding.EncodeToString(make([]byte, 32))
			assert.Equal(t, FallbackPreview, NotificationPreview(msg, "", &wrong))
		})
	}
}

func TestTruncate(t *testing.T) {
	s := strings.Repeat("é", 200)
	got := truncate(s)
	assert.Equal(t, model.MaxPreviewLength, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
