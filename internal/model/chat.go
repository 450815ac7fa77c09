package model

import "time"

// Chat is the subset of the external chat aggregate this service reads.
type Chat struct {
	ID            int64     `db:"id" json:"id"`
	Name          *string   `db:"name" json:"name"`
	IsGroup       bool      `db:"is_group" json:"is_group"`
	EncryptionKey *string   `db:"encryption_key" json:"-"` // base64, notification-only use
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Message types accepted by send-message.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
)

// MaxPreviewLength caps the notification preview, in runes.
const MaxPreviewLength = 120

// Encryption describes an end-to-end encrypted body.
type Encryption struct {
	Algorithm string `json:"algorithm"`
	Nonce     string `json:"nonce"` // base64
}

// Encryption algorithms the preview decrypter understands.
const (
	AlgorithmAESGCM            = "aes-256-gcm"
	AlgorithmXChaCha20Poly1305 = "xchacha20-poly1305"
)

// FileRef points at an uploaded file handled by the media collaborator.
type FileRef struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a persisted chat message.
type Message struct {
	ID         int64       `db:"id" json:"id"`
	ChatID     int64       `db:"chat_id" json:"chatId"`
	SenderID   int64       `db:"sender_id" json:"senderId"`
	Type       string      `db:"type" json:"type"`
	Content    string      `db:"content" json:"content"`
	File       *FileRef    `db:"-" json:"file,omitempty"`
	Encryption *Encryption `db:"-" json:"encryption,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"createdAt"`

	// CorrelationID ties the socket copy to the push copy for client-side dedupe.
	CorrelationID string `db:"-" json:"correlationId,omitempty"`
}

// MessageSummary is the lightweight per-user chat-updated payload.
type MessageSummary struct {
	ChatID    int64     `json:"chatId"`
	MessageID int64     `json:"messageId"`
	SenderID  int64     `json:"senderId"`
	Type      string    `json:"type"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"createdAt"`
}

// ValidMessageType reports whether t is one of the accepted message types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}
