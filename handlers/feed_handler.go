package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"socialzAPI/internal/feed"
	"socialzAPI/internal/streak"
	"socialzAPI/middleware"
	"socialzAPI/services"
)

type FeedHandler struct {
	feedService *services.FeedService
	userService *services.UserService
}

func NewFeedHandler(feedService *services.FeedService, userService *services.UserService) *FeedHandler {
	return &FeedHandler{
		feedService: feedService,
		userService: userService,
	}
}

func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	posts, err := h.feedService.GetFeed(ctx, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, posts)
}

func (h *FeedHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	userID, ok := h.resolveUser(ctx, w, r)
	if !ok {
		return
	}

	var req feed.CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	post, streakResult, err := h.feedService.CreatePost(ctx, userID, &req)
	if err != nil {
		log.Printf("CreatePost Handler: Service error: %v", err)
		if strings.Contains(err.Error(), "needs content") {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to create post")
		return
	}

	respondWithJSON(w, http.StatusCreated, createResponse{Post: post, Streak: streakResult})
}

func (h *FeedHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	userID, ok := h.resolveUser(ctx, w, r)
	if !ok {
		return
	}

	postID := mux.Vars(r)["postID"]
	if postID == "" {
		respondWithError(w, http.StatusBadRequest, "postID is required")
		return
	}

	var req feed.CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	comment, streakResult, err := h.feedService.CreateComment(ctx, userID, postID, &req)
	if err != nil {
		log.Printf("CreateComment Handler: Service error: %v", err)
		if strings.Contains(err.Error(), "content is required") {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to create comment")
		return
	}

	respondWithJSON(w, http.StatusCreated, createResponse{Comment: comment, Streak: streakResult})
}

func (h *FeedHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	postID := mux.Vars(r)["postID"]
	if postID == "" {
		respondWithError(w, http.StatusBadRequest, "postID is required")
		return
	}

	comments, err := h.feedService.GetComments(ctx, postID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, comments)
}

func (h *FeedHandler) LikePost(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	userID, ok := h.resolveUser(ctx, w, r)
	if !ok {
		return
	}

	postID := mux.Vars(r)["postID"]
	if postID == "" {
		respondWithError(w, http.StatusBadRequest, "postID is required")
		return
	}

	streakResult, err := h.feedService.LikePost(ctx, userID, postID)
	if err != nil {
		log.Printf("LikePost Handler: Service error: %v", err)
		if strings.Contains(err.Error(), "post not found") {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to like post")
		return
	}

	respondWithJSON(w, http.StatusOK, createResponse{Streak: streakResult})
}

func (h *FeedHandler) UnlikePost(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := h.resolveUser(ctx, w, r)
	if !ok {
		return
	}

	postID := mux.Vars(r)["postID"]
	if err := h.feedService.UnlikePost(ctx, userID, postID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to unlike post")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Like removed"})
}

// createResponse bundles the primary entity with the streak outcome so the
// client can show the celebration animation without a second round trip.
// Streak is null when the streak update failed or nothing new happened.
type createResponse struct {
	Post    *feed.Post           `json:"post,omitempty"`
	Comment *feed.Comment        `json:"comment,omitempty"`
	Streak  *streak.UpdateResult `json:"streak,omitempty"`
}

func (h *FeedHandler) resolveUser(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
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
