package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/assistant"
	"github.com/vovakirdan/roomchat-server/internal/auth"
	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/core"
)

// Services are the domain components exposed over HTTP.
type Services struct {
	Hub       *core.Hub
	Auth      *auth.Service
	Assistant *assistant.Service
}

// NewServer builds an HTTP server with the REST API and the websocket endpoint.
func NewServer(svc Services, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(svc, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers all routes on a gin engine.
func NewRouter(svc Services, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(svc, cfg, logger)))

	apiHandlers := NewAPIHandlers(svc.Auth, logger)
	roomHandlers := NewRoomHandlers(svc.Hub, cfg.PublicBaseURL, cfg.RateLimitPerMinute, logger)
	assistantHandlers := NewAssistantHandlers(svc.Assistant, cfg.RateLimitPerMinute, logger)

	api := router.Group("/api")
	api.Use(BodyLimitMiddleware(cfg.MaxMessageBytes))
	{
		api.POST("/register", apiHandlers.Register)
		api.POST("/login", apiHandlers.Login)
		api.POST("/guest", apiHandlers.GuestLogin)

		authed := api.Group("")
		authed.Use(AuthMiddleware(svc.Auth, logger))

		rooms := authed.Group("/rooms")
		{
			rooms.GET("", roomHandlers.ListRooms)
			rooms.POST("", roomHandlers.CreateRoom)
			rooms.GET("/resolve", roomHandlers.ResolveRoom)
			rooms.GET("/:id/share", roomHandlers.ShareRoom)
			rooms.GET("/:id/members", roomHandlers.ListMembers)
			rooms.GET("/:id/messages", roomHandlers.ListMessages)
			rooms.POST("/:id/messages", roomHandlers.SendMessage)
			rooms.POST("/:id/join", roomHandlers.JoinRoom)
			rooms.POST("/:id/leave", roomHandlers.LeaveRoom)
		}

		asst := authed.Group("/assistant")
		{
			asst.POST("", assistantHandlers.Ask)
			asst.GET("/messages", assistantHandlers.History)
			asst.DELETE("/messages", assistantHandlers.Clear)
		}
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
