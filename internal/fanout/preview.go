package fanout

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"

	"chatcall_realtime/internal/model"
)

// FallbackPreview is shown when nothing better is available.
const FallbackPreview = "New message"

var placeholders = map[string]string{
	model.MessageTypeImage: "📷 Photo",
	model.MessageTypeVideo: "🎥 Video",
	model.MessageTypeAudio: "🎤 Voice message",
	model.MessageTypeFile:  "📎 File",
}

// Placeholder returns the icon+label for non-text message types.
func Placeholder(messageType string) (string, bool) {
	p, ok := placeholders[messageType]
	return p, ok
}

// NotificationPreview picks the push body, in order: the client preview when it
// fits, the locally decrypted body, the type placeholder, the raw text, and
// finally FallbackPreview. chatKey is the chat's base64 symmetric key and may
// be nil. Ciphertext is never returned.
func NotificationPreview(msg *model.Message, clientPreview string, chatKey *string) string {
	if p := strings.TrimSpace(clientPreview); p != "" && utf8.RuneCountInString(p) <= model.MaxPreviewLength {
		return p
	}

	if msg.Encryption != nil {
		if chatKey != nil {
			if plain, err := Decrypt(*chatKey, msg.Encryption, msg.Content); err == nil {
				if plain = strings.TrimSpace(plain); plain != "" {
					return truncate(plain)
				}
			}
		}
		if p, ok := Placeholder(msg.Type); ok {
			return p
		}
		return FallbackPreview
	}

	if p, ok := Placeholder(msg.Type); ok {
		return p
	}
	if c := strings.TrimSpace(msg.Content); c != "" {
		return truncate(c)
	}
	return FallbackPreview
}

// SummaryPreview is the chat-list preview. It never decrypts.
func SummaryPreview(msg *model.Message, clientPreview string) string {
	return NotificationPreview(msg, clientPreview, nil)
}

var errCiphertext = errors.New("ciphertext could not be opened")

// Decrypt opens a base64 body with the chat key. The plaintext is only ever
// used for the notification body and is not stored.
func Decrypt(key string, enc *model.Encryption, content string) (string, error) {
	rawKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("decode key: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(enc.Nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", fmt.Errorf("decode content: %w", err)
	}

	var aead cipher.AEAD
	switch enc.Algorithm {
	case model.AlgorithmAESGCM:
		if len(rawKey) != 32 {
			return "", fmt.Errorf("aes-256-gcm key must be 32 bytes, got %d", len(rawKey))
		}
		block, err := aes.NewCipher(rawKey)
		if err != nil {
			return "", err
		}
		if aead, err = cipher.NewGCM(block); err != nil {
			return "", err
		}
	case model.AlgorithmXChaCha20Poly1305:
		if aead, err = chacha20poly1305.NewX(rawKey); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unsupported algorithm %q", enc.Algorithm)
	}

	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", errCiphertext
	}
	if !utf8.Valid(plain) {
		return "", errCiphertext
	}
	return string(plain), nil
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= model.MaxPreviewLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:model.MaxPreviewLength-1]) + "…"
}
