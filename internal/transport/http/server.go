// Package http exposes the REST API and the WebSocket gateway endpoint.
package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mikeiscool1/vitchat.xyz/internal/auth"
	"github.com/mikeiscool1/vitchat.xyz/internal/config"
	"github.com/mikeiscool1/vitchat.xyz/internal/core"
	"github.com/mikeiscool1/vitchat.xyz/internal/ratelimit"
	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
)

// Deps collects everything the HTTP layer needs.
type Deps struct {
	Store   store.Store
	Auth    *auth.Service
	Hub     *core.Hub
	Limiter *ratelimit.Limiter
	IDs     *snowflake.Generator
	Log     *zerolog.Logger
}

// NewServer builds the HTTP server hosting the API and the gateway.
func NewServer(cfg config.Config, deps Deps) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter wires all routes.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(deps.Log))

	authHandlers := NewAuthHandlers(deps.Auth, deps.Log)
	userHandlers := NewUserHandlers(deps.Store, deps.Auth, deps.Hub, deps.Log)
	messageHandlers := NewMessageHandlers(deps.Store, deps.Hub, deps.Limiter, deps.IDs, deps.Log)
	typingHandlers := NewTypingHandlers(deps.Hub, deps.Log)
	wsHandler := NewWSHandler(deps.Hub, deps.Auth, deps.Log)

	router.GET("/health", healthHandler)
	router.GET("/ws", wsHandler.Handle)
	router.POST("/auth", authHandlers.Login)
	router.POST("/users", userHandlers.Register)

	authed := router.Group("/", AuthMiddleware(deps.Auth, deps.Log))
	{
		authed.GET("/users", userHandlers.List)
		authed.GET("/users/:id", userHandlers.Get)
		authed.PATCH("/users", userHandlers.UpdateSelf)

		authed.POST("/messages", messageHandlers.Create)
		authed.GET("/messages", messageHandlers.List)
		authed.PATCH("/messages/:id", messageHandlers.Edit)
		authed.DELETE("/messages/:id", messageHandlers.Delete)

		authed.POST("/typing", typingHandlers.Start)
	}

	admin := authed.Group("/", AdminMiddleware())
	{
		admin.GET("/users-admin", userHandlers.ListAdmin)
		admin.PATCH("/users-admin/:id", userHandlers.UpdateAdmin)
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
