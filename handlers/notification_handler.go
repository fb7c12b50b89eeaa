package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"socialzAPI/internal/notification"
	"socialzAPI/middleware"
	"socialzAPI/services"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
	userService         *services.UserService
}

func NewNotificationHandler(notificationService *services.NotificationService, userService *services.UserService) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		userService:         userService,
	}
}

func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.resolveUser(ctx, w, r)
	if !ok {
		return
	}

	var req notification.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.notificationService.RegisterDevice(ctx, userID, &req); err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Device registered successfully"})
}

func (h *NotificationHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.resolveUser(ctx, w, r)
	if !ok {
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondWithError(w, http.StatusBadRequest, "Device token is required")
		return
	}

	if err := h.notificationService.RemoveDevice(ctx, userID, req.Token); err != nil {
		respondWithError(w, http.StatusNotFound, "Device not found")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Device removed successfully"})
}

func (h *NotificationHandler) resolveUser(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	clerkID, ok := middleware.GetClerkID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return "", false
	}

	userID, err := h.userService.ResolveUserID(ctx, clerkID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return "", false
	}

	return userID, true
}
