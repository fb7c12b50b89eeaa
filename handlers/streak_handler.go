package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"socialzAPI/internal/store"
	"socialzAPI/internal/streak"
	"socialzAPI/middleware"
	"socialzAPI/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type StreakHandler struct {
	streakService *services.StreakService
	userService   *services.UserService
	notifier      *services.StreakNotifier
}

func NewStreakHandler(streakService *services.StreakService, userService *services.UserService, notifier *services.StreakNotifier) *StreakHandler {
	return &StreakHandler{
		streakService: streakService,
		userService:   userService,
		notifier:      notifier,
	}
}

func (h *StreakHandler) GetStreak(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.resolveUser(ctx, w, r)
	if !ok {
		return
	}

	record, err := h.streakService.GetOrCreate(ctx, userID)
	if err != nil {
		respondWithStreakError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, record)
}

func (h *StreakHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.resolveUser(ctx, w, r)
	if !ok {
		return
	}

	var req struct {
		ActivityType streak.ActivityType `json:"activity_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.streakService.RecordActivity(ctx, userID, req.ActivityType)
	if err != nil {
		log.Printf("RecordActivity Handler: Service error: %v", err)
		respondWithStreakError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *StreakHandler) ResetStreak(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.resolveUser(ctx, w, r)
	if !ok {
		return
	}

	record, err := h.streakService.Reset(ctx, userID)
	if err != nil {
		respondWithStreakError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, record)
}

func (h *StreakHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.resolveUser(ctx, w, r)
	if !ok {
		return
	}

	scope := r.URL.Query().Get("scope")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	board, err := h.streakService.Leaderboard(ctx, userID, scope, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, board)
}

func (h *StreakHandler) GetRank(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.resolveUser(ctx, w, r)
	if !ok {
		return
	}

	rank, err := h.streakService.Rank(ctx, userID, r.URL.Query().Get("scope"))
	if err != nil {
		respondWithStreakError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, rank)
}

func (h *StreakHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	statistics, err := h.streakService.Statistics(ctx, r.URL.Query().Get("scope"))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, statistics)
}

// LiveStreak streams every change to the caller's streak record over a
// websocket, for the live badge on the profile screen.
func (h *StreakHandler) LiveStreak(w http.ResponseWriter, r *http.Request) {
	resolveCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	userID, err := h.userService.ResolveUserID(resolveCtx, clerkID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("LiveStreak: could not upgrade connection: %v", err)
		return
	}
	defer ws.Close()

	send := make(chan *streak.Record, 8)
	unsubscribe, err := h.notifier.Subscribe(r.Context(), userID, func(rec *streak.Record) {
		select {
		case send <- rec:
		default:
			// Slow consumer, drop the update; the next one carries the
			// full record anyway.
		}
	})
	if err != nil {
		log.Printf("LiveStreak: subscribe failed for user %s: %v", userID, err)
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"))
		return
	}
	defer unsubscribe()

	// Reader only exists to notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.SetReadLimit(512)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			ws.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case rec := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(rec); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// resolveUser maps the authenticated Clerk identity to the internal user id.
func (h *StreakHandler) resolveUser(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
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

func respondWithStreakError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, streak.ErrMissingUserID), errors.Is(err, streak.ErrInvalidActivityType):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "Streak store unavailable")
	case errors.Is(err, store.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
