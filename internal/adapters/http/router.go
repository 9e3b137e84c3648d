// Package http wires the control-plane API: token issuance, the
// configuration store and the websocket signaling endpoint.
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/relay"
	"github.com/dkeye/Stage/internal/store"
	"github.com/dkeye/Stage/internal/tokens"
)

// TokenMiddleware verifies the capability token on the signaling endpoint
// and stores its claims on the gin context for the relay.
func TokenMiddleware(issuer *tokens.HMACIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := c.Query("token")
		if tok == "" {
			tok = c.GetHeader("Authorization")
		}
		claims, err := issuer.Verify(tok)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("identity", string(claims.Identity))
		c.Set("room", string(claims.Room))
		c.Set("role", string(claims.Role))
		c.Set("name", claims.Name)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, issuer *tokens.HMACIssuer, settings *store.Store, hub *relay.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.POST("/token", func(c *gin.Context) {
		var req struct {
			Room string `json:"room" binding:"required"`
			Role string `json:"role" binding:"required"`
			Name string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room and role are required"})
			return
		}
		tok, claims, err := issuer.Mint(domain.RoomID(req.Room), domain.Role(req.Role), req.Name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": tok, "identity": claims.Identity})
	})

	api.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, settings.Read())
	})

	api.POST("/config", func(c *gin.Context) {
		var req struct {
			URL       string `json:"url"`
			APIKey    string `json:"api_key"`
			APISecret string `json:"api_secret"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		if err := settings.Write(req.URL, req.APIKey, req.APISecret); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": hub.List()})
	})

	ctl := relay.NewController(hub, cfg.ReadLimit, cfg.PingPeriod)
	r.GET("/ws", TokenMiddleware(issuer), func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	return r
}
