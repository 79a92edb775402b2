package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wisplabs/wisp/internal/adapters/push"
	"github.com/wisplabs/wisp/internal/adapters/signal"
	"github.com/wisplabs/wisp/internal/app"
	"github.com/wisplabs/wisp/internal/config"
	"github.com/wisplabs/wisp/internal/domain"
)

func SetupRouter(ctx context.Context, cfg *config.Config, rooms *app.RoomManager, ctrl *signal.ChatWSController, sender *push.WebPushSender) *gin.Engine {
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

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	api.POST("/rooms", func(c *gin.Context) {
		roomID := uuid.NewString()
		rooms.CreateRoom(domain.RoomID(roomID))
		c.JSON(http.StatusCreated, gin.H{"roomId": roomID})
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": rooms.List()})
	})

	api.GET("/push/key", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"publicKey": sender.PublicKey()})
	})

	api.GET("/ws/chat", func(c *gin.Context) {
		ctrl.HandleChat(ctx, c)
	})

	return r
}
