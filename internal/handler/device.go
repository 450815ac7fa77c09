package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"chatcall_realtime/internal/httputil"
	"chatcall_realtime/internal/model"
	"chatcall_realtime/internal/repository"
	"chatcall_realtime/internal/transport/http/middleware"
)

type DeviceHandler struct {
	tokens repository.PushTokenRepository
	logger zerolog.Logger
}

func NewDeviceHandler(tokens repository.PushTokenRepository, logger zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{
		tokens: tokens,
		logger: logger.With().Str("component", "DeviceHandler").Logger(),
	}
}

// RegisterToken handles POST /devices/token
// Registers a device token for push notifications. The provider may be
// omitted for Expo tokens.
func (h *DeviceHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req model.RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		httputil.WriteBadRequest(w, "token is required")
		return
	}
	if req.Provider == "" && model.IsExpoToken(req.Token) {
		req.Provider = model.ProviderExpo
	}
	if !model.ValidProvider(req.Provider) {
		httputil.WriteModelError(w, model.Invalid("provider must be one of expo, fcm, apns-alert, apns-voip"))
		return
	}
	if req.Provider == model.ProviderExpo && !model.IsExpoToken(req.Token) {
		httputil.WriteModelError(w, model.Invalid("token is not an Expo push token"))
		return
	}

	if err := h.tokens.UpsertPushToken(r.Context(), userID, req.Provider, req.Token); err != nil {
		h.logger.Error().Err(err).Int64("user", userID).Str("provider", req.Provider).Msg("register device token failed")
		httputil.WriteInternalError(w, "Failed to register device token")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message":  "Device token registered",
		"provider": req.Provider,
	})
}

// RemoveToken handles DELETE /devices/token
// Removes a device token (e.g., on logout).
func (h *DeviceHandler) RemoveToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req model.RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	if req.Token == "" {
		httputil.WriteBadRequest(w, "token is required")
		return
	}

	if err := h.tokens.DeletePushToken(r.Context(), userID, req.Token); err != nil {
		h.logger.Error().Err(err).Int64("user", userID).Msg("remove device token failed")
		httputil.WriteInternalError(w, "Failed to remove device token")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Device token removed",
	})
}
