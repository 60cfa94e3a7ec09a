package routes

import (
	"log"
	"net/http"

	"factduel/handlers"
	"factduel/middleware"
	"factduel/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newUpgrader(origins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		allowed[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

func SetupRoutes(
	router *gin.Engine,
	duelHandler *handlers.DuelHandler,
	hub *services.Hub,
	verifier services.Verifier,
	allowedOrigins []string,
) {
	api := router.Group("/api")
	{
		// Public duel routes
		api.GET("/duels/:roomId/scores", duelHandler.GetScores)

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(verifier))
		{
			duels := protected.Group("/duels")
			{
				duels.GET("/:roomId", duelHandler.GetDuel)
				duels.GET("/:roomId/ledger", duelHandler.GetLedger)
				duels.POST("/:roomId/end", duelHandler.EndDuel)
			}

			protected.GET("/matchmaking", duelHandler.GetMatchmaking)
		}
	}

	upgrader := newUpgrader(allowedOrigins)

	// The credential is checked before the upgrade so an unverified
	// connection never reaches the hub.
	router.GET("/ws", func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = middleware.BearerToken(c)
		}

		userID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			log.Printf("WebSocket authentication failed from %s: %v", c.ClientIP(), err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed for user %s: %v", userID, err)
			return
		}

		log.Printf("WebSocket connection established for user %s", userID)
		hub.RegisterClient(conn, userID)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
