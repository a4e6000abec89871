package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mikeiscool1/vitchat.xyz/internal/auth"
	"github.com/mikeiscool1/vitchat.xyz/internal/core"
	"github.com/mikeiscool1/vitchat.xyz/internal/proto"
	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
)

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	store store.Store
	auth  *auth.Service
	hub   *core.Hub
	log   *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.Store, authService *auth.Service, hub *core.Hub, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{store: st, auth: authService, hub: hub, log: logger}
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
	Presence string `json:"presence"`
}

// AdminUserResponse extends UserResponse with moderation fields.
type AdminUserResponse struct {
	UserResponse
	State           store.UserState `json:"state"`
	SuspendedUntil  *time.Time      `json:"suspended_until,omitempty"`
	SuspendedReason *string         `json:"suspended_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// UpdateSelfRequest represents the self-update request body. Password is
// the current password and is always required.
type UpdateSelfRequest struct {
	Password    string `json:"password" binding:"required"`
	NewUsername string `json:"new_username"`
	NewPassword string `json:"new_password"`
}

// UpdateAdminRequest represents the admin moderation request body.
// SuspendedUntil takes a bracketed duration like "[72h]" or an RFC3339
// timestamp; empty means an indefinite suspension.
type UpdateAdminRequest struct {
	State           store.UserState `json:"state" binding:"required"`
	SuspendedUntil  string          `json:"suspended_until"`
	SuspendedReason string          `json:"suspended_reason"`
}

func (h *UserHandlers) userResponse(u *store.User) UserResponse {
	presence := proto.PresenceOffline
	if h.hub.IsOnline(u.ID) {
		presence = proto.PresenceOnline
	}
	return UserResponse{
		ID:       u.ID.String(),
		Username: u.Username,
		Admin:    u.Admin,
		Presence: presence,
	}
}

// Register handles account creation. New accounts start on the waitlist.
// POST /users
func (h *UserHandlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
		case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		default:
			h.log.Error().Err(err).Str("username", req.Username).Msg("failed to register user")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("username", user.Username).Msg("user registered")
	c.JSON(http.StatusCreated, gin.H{
		"id":       user.ID.String(),
		"username": user.Username,
		"state":    user.State,
	})
}

// List returns all approved accounts with their presence.
// GET /users
func (h *UserHandlers) List(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context(), false)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, h.userResponse(u))
	}
	c.JSON(http.StatusOK, response)
}

// Get returns a single account by ID.
// GET /users/:id
func (h *UserHandlers) Get(c *gin.Context) {
	id, err := snowflake.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Msg("failed to get user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, h.userResponse(user))
}

// UpdateSelf changes the caller's username or password. Both changes
// require the current password; a password change revokes every open
// gateway session and returns a fresh token.
// PATCH /users
func (h *UserHandlers) UpdateSelf(c *gin.Context) {
	var req UpdateSelfRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.NewUsername == "" && req.NewPassword == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "nothing to update"})
		return
	}

	user := currentUser(c)
	if err := auth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	}

	ctx := c.Request.Context()
	if req.NewUsername != "" {
		if err := h.auth.ChangeUsername(ctx, user, req.NewUsername); err != nil {
			switch {
			case errors.Is(err, auth.ErrUserExists):
				c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
			case errors.Is(err, auth.ErrInvalidUsername):
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			default:
				h.log.Error().Err(err).Msg("failed to change username")
				c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			}
			return
		}
		if err := h.hub.Broadcast(proto.EventUserUpdate, proto.UserUpdateData{
			ID:       user.ID.String(),
			Username: user.Username,
		}); err != nil {
			h.log.Error().Err(err).Msg("failed to broadcast user update")
		}
	}

	response := gin.H{"id": user.ID.String(), "username": user.Username}
	if req.NewPassword != "" {
		if err := h.auth.ChangePassword(ctx, user, req.NewPassword); err != nil {
			if errors.Is(err, auth.ErrInvalidPassword) {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
				return
			}
			h.log.Error().Err(err).Msg("failed to change password")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		// Old tokens keep validating, so force every session to
		// re-authenticate with the fresh one.
		h.hub.DisconnectUser(user.ID, proto.CloseForced, "credentials changed")
		token, err := h.auth.IssueToken(user)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to issue token")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		response["token"] = token
	}

	c.JSON(http.StatusOK, response)
}

// ListAdmin returns every account including waitlisted ones, with
// moderation fields.
// GET /users-admin
func (h *UserHandlers) ListAdmin(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context(), true)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]AdminUserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, AdminUserResponse{
			UserResponse:    h.userResponse(u),
			State:           u.State,
			SuspendedUntil:  u.SuspendedUntil,
			SuspendedReason: u.SuspendedReason,
			CreatedAt:       u.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

// UpdateAdmin moves an account between states. Approving a waitlisted
// account announces it to connected clients; suspending or waitlisting
// force-closes the target's gateway sessions.
// PATCH /users-admin/:id
func (h *UserHandlers) UpdateAdmin(c *gin.Context) {
	id, err := snowflake.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	var req UpdateAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Msg("failed to get user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	switch req.State {
	case store.UserStateActive:
		if err := h.store.SetUserState(ctx, id, store.UserStateActive, nil, nil); err != nil {
			h.log.Error().Err(err).Msg("failed to set user state")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		if user.State == store.UserStateWaitlist {
			if err := h.hub.Broadcast(proto.EventUserUpdate, proto.UserUpdateData{
				Created:  true,
				ID:       user.ID.String(),
				Username: user.Username,
			}); err != nil {
				h.log.Error().Err(err).Msg("failed to broadcast user update")
			}
		}

	case store.UserStateWaitlist:
		if err := h.store.SetUserState(ctx, id, store.UserStateWaitlist, nil, nil); err != nil {
			h.log.Error().Err(err).Msg("failed to set user state")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		h.hub.DisconnectUser(id, proto.CloseForced, "account access revoked")

	case store.UserStateSuspended:
		if req.SuspendedReason == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "suspension requires a reason"})
			return
		}
		until, err := parseSuspendedUntil(req.SuspendedUntil)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		reason := req.SuspendedReason
		if err := h.store.SetUserState(ctx, id, store.UserStateSuspended, until, &reason); err != nil {
			h.log.Error().Err(err).Msg("failed to set user state")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		h.hub.DisconnectUser(id, proto.CloseForced, "account suspended")

	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid state"})
		return
	}

	h.log.Info().
		Str("user_id", id.String()).
		Str("state", string(req.State)).
		Msg("user state changed")
	c.Status(http.StatusNoContent)
}

// parseSuspendedUntil parses a suspension deadline. A bracketed duration
// like "[72h]" counts from now, an RFC3339 timestamp is absolute, and an
// empty string means indefinite.
func parseSuspendedUntil(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		d, err := time.ParseDuration(raw[1 : len(raw)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid suspension duration: %w", err)
		}
		until := time.Now().Add(d)
		return &until, nil
	}
	until, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid suspension time: %w", err)
	}
	return &until, nil
}
