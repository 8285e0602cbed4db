package server

import (
	"github.com/gin-gonic/gin"

	"github.com/thereayou/article-chat/internal/handlers"
)

func APIEndpoints(r *gin.Engine, authMW gin.HandlerFunc, wsH *handlers.WebSocketHandler, msgH *handlers.HTTPMessageHandler, healthH *handlers.HealthHandler) {
	r.GET("/healthz", healthH.Health)

	// WebSocket: токен в ?token= или в заголовке
	r.GET("/ws", authMW, wsH.HandleWebSocket)

	// API endpoints
	api := r.Group("/api/v1", authMW)
	{
		rooms := api.Group("/rooms/:id")
		rooms.GET("/messages", msgH.GetRoomMessages)
		rooms.POST("/messages", msgH.SendMessage)
		rooms.GET("/presence", msgH.GetPresence)
	}
}
