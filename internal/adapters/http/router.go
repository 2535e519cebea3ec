// Package http exposes the call surface to the presentation layer:
// lifecycle state, the four user actions, and a websocket state stream.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/goodwinteam/avatarcall/internal/app"
	"github.com/goodwinteam/avatarcall/internal/config"
	"github.com/goodwinteam/avatarcall/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// startLimit caps call-start attempts per client token.
var startLimit = struct {
	attempts int
	window   time.Duration
}{attempts: 5, window: time.Minute}

func SetupRouter(ctx context.Context, cfg *config.Config, session *app.Session, hub *StateHub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("AvatarCallSessions", store))
	r.Use(ClientTokenMiddleware())

	limiter := NewStartRateLimiter(startLimit.attempts, startLimit.window)

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, session.Snapshot())
	})

	api.POST("/call/start", func(c *gin.Context) {
		if !limiter.Allow(c.GetString("client_token")) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many call attempts"})
			return
		}
		// Negotiation blocks on three network calls; the UI follows
		// progress over the state stream.
		go func() {
			if err := session.Start(ctx); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("call start failed")
			}
		}()
		c.JSON(http.StatusAccepted, session.Snapshot())
	})

	api.POST("/call/stop", func(c *gin.Context) {
		var req struct {
			ShowEnded *bool `json:"show_ended"`
		}
		_ = c.ShouldBindJSON(&req)
		showEnded := req.ShowEnded == nil || *req.ShowEnded
		session.Stop(c.Request.Context(), showEnded)
		c.JSON(http.StatusOK, session.Snapshot())
	})

	api.POST("/call/dismiss", func(c *gin.Context) {
		session.Dismiss()
		c.JSON(http.StatusOK, session.Snapshot())
	})

	api.POST("/call/mute", func(c *gin.Context) {
		if err := session.ToggleMute(); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrRemoteSpeaking) || errors.Is(err, domain.ErrNoConnection) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, session.Snapshot())
	})

	api.POST("/call/unlock", func(c *gin.Context) {
		session.UnlockAudio(c.Request.Context())
		c.JSON(http.StatusOK, session.Snapshot())
	})

	api.GET("/ws/state", func(c *gin.Context) {
		hub.HandleState(ctx, c, session.Snapshot())
	})

	return r
}
