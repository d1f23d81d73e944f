package delivery

import (
	"context"
	"log"
	"strings"

	"chat-delivery/internal/config"
	"chat-delivery/internal/gateway"
	"chat-delivery/internal/presence"
	"chat-delivery/internal/store"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	config        *config.Config
	gateway       *gateway.Gateway
	presence      *presence.Engine
	conversations store.ConversationStore
}

func NewServer(cfg *config.Config, gw *gateway.Gateway, pres *presence.Engine, conversations store.ConversationStore) *Server {
	return &Server{
		config:        cfg,
		gateway:       gw,
		presence:      pres,
		conversations: conversations,
	}
}

func (s *Server) Start() error {
	app := fiber.New(fiber.Config{
		AppName: "Chat Delivery Server",
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))

	corsConfig := cors.Config{
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With,Access-Control-Request-Method,Access-Control-Request-Headers",
		ExposeHeaders:    "Content-Length,Access-Control-Allow-Origin,Access-Control-Allow-Headers,Content-Type",
		AllowCredentials: s.config.AllowCredentials,
		MaxAge:           86400, // 24 hours
	}

	// Set origins based on environment
	if s.config.IsProduction() {
		corsConfig.AllowOrigins = s.config.GetCORSOrigins()
		log.Printf("CORS configured for production with origins: %s", corsConfig.AllowOrigins)
	} else {
		corsConfig.AllowOrigins = "*"
		corsConfig.AllowCredentials = false // Never allow credentials with wildcard origin
		log.Printf("CORS configured for development with wildcard origin")
	}

	app.Use(cors.New(corsConfig))

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"message":     "Chat delivery server is running",
			"port":        s.config.Port,
			"environment": s.config.Environment,
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// REST API routes
	api := app.Group("/api")
	api.Get("/users/:user_id/presence", s.handleGetUserPresence)
	api.Get("/conversations/:conversation_id/presence", s.handleGetConversationPresence)
	api.Post("/presence/batch", s.handleGetPresenceBatch)

	// WebSocket middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket route. The token comes from the query string or the
	// Authorization header; authentication happens inside the gateway so the
	// failure can be reported over the socket before it closes.
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.Headers("Authorization"), "Bearer ")
		}
		s.gateway.HandleConnection(context.Background(), c, token)
	}))

	log.Printf("Chat delivery server (WebSocket + REST) starting on port %s", s.config.Port)
	return app.Listen(":" + s.config.Port)
}
