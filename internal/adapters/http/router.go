package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Tandem/internal/adapters/rtc"
	"github.com/dkeye/Tandem/internal/adapters/signal"
	"github.com/dkeye/Tandem/internal/app"
	"github.com/dkeye/Tandem/internal/app/orch"
	"github.com/dkeye/Tandem/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable anonymous token kept
// in the signed session cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) (*gin.Engine, error) {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	ice, err := rtc.ConfigFromURLs(cfg.ICEServers)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("TandemSessions", store))
	r.Use(ClientTokenMiddleware())

	sessionsAPI := &SessionsAPI{
		Orch:    o,
		Limiter: app.NewRateLimiter(cfg.RateLimit.CreateLimit, cfg.RateLimit.CreateWindow),
	}
	ctrl := signal.NewSignalWSController(o, cfg)

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC(), "sessions": o.Sessions.Len()})
	})
	api.GET("/sessions", sessionsAPI.List)
	api.POST("/sessions", sessionsAPI.Create)
	api.GET("/sessions/:id", sessionsAPI.Get)
	api.DELETE("/sessions/:id", sessionsAPI.Delete)
	api.GET("/ice", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": ice.ICEServers})
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Int("ice_servers", len(ice.ICEServers)).Msg("router setup")
	return r, nil
}

// WithCORS wraps the engine with the configured cross-origin policy.
func WithCORS(cfg *config.Config, h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", accessSecretHeader},
		AllowCredentials: true,
		MaxAge:           7200,
	}).Handler(h)
}
