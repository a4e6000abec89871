package http

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mikeiscool1/vitchat.xyz/internal/core"
	"github.com/mikeiscool1/vitchat.xyz/internal/proto"
	"github.com/mikeiscool1/vitchat.xyz/internal/ratelimit"
	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
)

const (
	// MaxContentLength bounds a message's rune count.
	MaxContentLength = 2000
	// MaxContentLines bounds a message's line count.
	MaxContentLines = 20
	// MessagesPerFetch is the page size of the list endpoint.
	MessagesPerFetch = 100
)

// MessageHandlers provides HTTP handlers for message operations.
type MessageHandlers struct {
	store   store.Store
	hub     *core.Hub
	limiter *ratelimit.Limiter
	ids     *snowflake.Generator
	log     *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(st store.Store, hub *core.Hub, limiter *ratelimit.Limiter, ids *snowflake.Generator, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{store: st, hub: hub, limiter: limiter, ids: ids, log: logger}
}

// MessageRequest represents the create and edit request body.
type MessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID      string       `json:"id"`
	Content string       `json:"content"`
	Author  proto.Author `json:"author"`
}

// validateContent trims and bounds message content.
func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("message is empty")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", errors.New("message is too long")
	}
	if strings.Count(content, "\n") >= MaxContentLines {
		return "", errors.New("message has too many lines")
	}
	return content, nil
}

// Create persists a message, subject to the per-user rate limit, and
// broadcasts it.
// POST /messages
func (h *MessageHandlers) Create(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	content, err := validateContent(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	user := currentUser(c)
	if ok, until := h.limiter.Allow(user.ID); !ok {
		c.JSON(http.StatusTooManyRequests, gin.H{"rate_limited_until": until.UnixMilli()})
		return
	}

	msg := &store.Message{
		ID:       h.ids.Generate(),
		AuthorID: user.ID,
		Content:  content,
	}
	if err := h.store.SaveMessage(c.Request.Context(), msg); err != nil {
		h.log.Error().Err(err).Msg("failed to save message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	author := proto.Author{ID: user.ID.String(), Username: user.Username, Admin: user.Admin}
	if err := h.hub.Broadcast(proto.EventMessageCreate, proto.MessageCreateData{
		ID:      msg.ID.String(),
		Content: msg.Content,
		Author:  author,
	}); err != nil {
		h.log.Error().Err(err).Msg("failed to broadcast message create")
	}

	c.JSON(http.StatusCreated, MessageResponse{ID: msg.ID.String(), Content: msg.Content, Author: author})
}

// List returns up to MessagesPerFetch messages between the after and
// before snowflake cursors, oldest first.
// GET /messages?after=&before=
func (h *MessageHandlers) List(c *gin.Context) {
	var after, before snowflake.ID
	before = snowflake.ID(math.MaxInt64)
	if raw := c.Query("after"); raw != "" {
		id, err := snowflake.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid after cursor"})
			return
		}
		after = id
	}
	if raw := c.Query("before"); raw != "" {
		id, err := snowflake.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before cursor"})
			return
		}
		before = id
	}

	ctx := c.Request.Context()
	messages, err := h.store.ListMessages(ctx, after, before, MessagesPerFetch)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	// Resolve authors in one pass; deleted or waitlisted authors still
	// have rows, so include everyone.
	users, err := h.store.ListUsers(ctx, true)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	authors := make(map[snowflake.ID]proto.Author, len(users))
	for _, u := range users {
		authors[u.ID] = proto.Author{ID: u.ID.String(), Username: u.Username, Admin: u.Admin}
	}

	response := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		response = append(response, MessageResponse{
			ID:      msg.ID.String(),
			Content: msg.Content,
			Author:  authors[msg.AuthorID],
		})
	}
	c.JSON(http.StatusOK, response)
}

// Edit replaces a message's content. Only the author may edit.
// PATCH /messages/:id
func (h *MessageHandlers) Edit(c *gin.Context) {
	id, err := snowflake.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid message id"})
		return
	}
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	content, err := validateContent(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	msg, err := h.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
			return
		}
		h.log.Error().Err(err).Msg("failed to get message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if msg.AuthorID != currentUser(c).ID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not the author"})
		return
	}

	if err := h.store.UpdateMessage(ctx, id, content); err != nil {
		h.log.Error().Err(err).Msg("failed to update message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if err := h.hub.Broadcast(proto.EventMessageEdit, proto.MessageEditData{
		ID:      id.String(),
		Content: content,
	}); err != nil {
		h.log.Error().Err(err).Msg("failed to broadcast message edit")
	}

	c.Status(http.StatusNoContent)
}

// Delete removes a message. The author and admins may delete.
// DELETE /messages/:id
func (h *MessageHandlers) Delete(c *gin.Context) {
	id, err := snowflake.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid message id"})
		return
	}

	ctx := c.Request.Context()
	msg, err := h.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
			return
		}
		h.log.Error().Err(err).Msg("failed to get message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	user := currentUser(c)
	if msg.AuthorID != user.ID && !user.Admin {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not the author"})
		return
	}

	if err := h.store.DeleteMessage(ctx, id); err != nil {
		h.log.Error().Err(err).Msg("failed to delete message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if err := h.hub.Broadcast(proto.EventMessageDelete, proto.MessageDeleteData{ID: id.String()}); err != nil {
		h.log.Error().Err(err).Msg("failed to broadcast message delete")
	}

	c.Status(http.StatusNoContent)
}
