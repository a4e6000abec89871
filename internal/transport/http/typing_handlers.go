package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mikeiscool1/vitchat.xyz/internal/core"
	"github.com/mikeiscool1/vitchat.xyz/internal/proto"
)

// TypingHandlers provides the typing notification endpoint.
type TypingHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewTypingHandlers creates a new typing handlers instance.
func NewTypingHandlers(hub *core.Hub, logger *zerolog.Logger) *TypingHandlers {
	return &TypingHandlers{hub: hub, log: logger}
}

// Start broadcasts that the caller began typing. Clients throttle their
// calls to one per couple of seconds; the server just relays.
// POST /typing
func (h *TypingHandlers) Start(c *gin.Context) {
	user := currentUser(c)
	if err := h.hub.Broadcast(proto.EventTypingStart, proto.TypingStartData{Username: user.Username}); err != nil {
		h.log.Error().Err(err).Msg("failed to broadcast typing start")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}
