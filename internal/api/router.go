package api

import (
	"strings"
	"time"

	"github.com/coderelay/core/internal/api/handlers"
	"github.com/coderelay/core/internal/api/middleware"
	"github.com/coderelay/core/internal/channel"
	"github.com/coderelay/core/internal/config"
	"github.com/coderelay/core/internal/functions/web"
	"github.com/coderelay/core/internal/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Dependencies are the process-scoped objects the routes are served from
type Dependencies struct {
	Config     *config.Config
	APIKeys    *middleware.APIKeyManager
	LogService *services.LogService
	Codes      *services.CodeService
	Delivery   *services.DeliveryService
	Gateway    *channel.Gateway
	Sessions   *web.SessionCache // nil when no page account is configured
	Started    time.Time
}

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.Use(cors.New(corsConfig(deps.Config.CORSOrigins)))

	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}

	healthHandler := handlers.NewHealthHandler(deps.Started)
	codeHandler := handlers.NewCodeHandler(deps.Codes, deps.Delivery)
	channelHandler := handlers.NewChannelHandler(deps.Gateway, deps.Delivery, deps.Config.Channel.SendTimeout.Std())
	sessionHandler := handlers.NewSessionHandler(deps.Sessions, deps.Config.Page.AccountEmail)
	logsHandler := handlers.NewLogsHandler(deps.LogService)
	settingsHandler := handlers.NewSettingsHandler(deps.Config)

	// Unauthenticated: liveness and the device websocket, which carries its own token
	router.GET("/health", healthHandler.Health)
	router.GET(channel.ConnectPath, channelHandler.Connect)

	api := router.Group("/api")
	api.Use(middleware.APIKeyMiddleware(deps.APIKeys))
	api.Use(middleware.RequestLogger(deps.LogService))
	{
		api.GET("/status", channelHandler.Status)
		api.GET("/settings", settingsHandler.GetSettings)

		api.GET("/fetch-latest-code", codeHandler.FetchLatestCode)
		api.POST("/send", codeHandler.Send)
		api.POST("/fetch-and-send", codeHandler.FetchAndSend)
		api.GET("/codes", codeHandler.ListCodes)

		api.GET("/chats", channelHandler.ListChats)
		api.POST("/channel/pair", channelHandler.Pair)
		api.GET("/channel/qr.png", channelHandler.QRCode)

		api.DELETE("/session", sessionHandler.ClearSession)
		api.GET("/logs", logsHandler.ListLogs)
	}

	return router
}

func corsConfig(origins string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.APIKeyHeader},
		ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}

	var allowed []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, o)
		}
	}
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = allowed
	cfg.AllowCredentials = true
	return cfg
}
