package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/fpv/internal/api/handlers"
	"github.com/your-org/fpv/internal/auth"
)

type RouterConfig struct {
	APIKey       string
	MaxBodyBytes int64
	Engine   handlers.Verifier
	Backends handlers.BackendLister
	// Events is nil when no audit store is configured.
	Events handlers.EventStore
	Checks []handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	verifyH := handlers.NewVerifyHandler(cfg.Engine, cfg.MaxBodyBytes)
	v1.POST("/verify", verifyH.Verify)
	v1.POST("/positions", verifyH.Positions)

	backendH := handlers.NewBackendHandler(cfg.Backends)
	v1.GET("/backends", backendH.List)

	if cfg.Events != nil {
		eventH := handlers.NewEventHandler(cfg.Events)
		v1.GET("/events", eventH.List)
		v1.GET("/events/:id", eventH.Get)
	}

	return r
}
