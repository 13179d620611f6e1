package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter mounts the handler's endpoints behind CORS.
func NewRouter(h *Handler, allowOrigins []string) *gin.Engine {
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", h.Health)
	router.POST("/colorize", h.Colorize)
	router.POST("/colorize/array", h.ColorizeArray)
	return router
}
