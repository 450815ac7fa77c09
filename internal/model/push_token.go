package model

import (
	"strings"
	"time"
)

// Push providers a token can belong to.
const (
	ProviderExpo      = "expo"
	ProviderFCM       = "fcm"
	ProviderAPNsAlert = "apns-alert"
	ProviderAPNsVoIP  = "apns-voip"
)

// PushToken is one registered device token, owned by the user aggregate.
// Tokens are unique by value within a provider.
type PushToken struct {
	ID        int64      `db:"id" json:"id"`
	UserID    int64      `db:"user_id" json:"-"`
	Provider  string     `db:"provider" json:"provider"`
	Token     string     `db:"token" json:"-"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	LastUsed  *time.Time `db:"last_used" json:"last_used,omitempty"`
}

// RegisterTokenRequest is the request body for registering a device token.
type RegisterTokenRequest struct {
	Token    string `json:"token"`
	Provider string `json:"provider"` // optional for Expo tokens
}

// ValidProvider reports whether p names a supported push provider.
func ValidProvider(p string) bool {
	switch p {
	case ProviderExpo, ProviderFCM, ProviderAPNsAlert, ProviderAPNsVoIP:
		return true
	}
	return false
}

// IsExpoToken reports whether token has the Expo push token shape.
func IsExpoToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}
