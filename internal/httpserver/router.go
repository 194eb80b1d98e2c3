package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	wsHandler *WSHandler,
	fanoutHandler *FanoutHandler,
	adminHandler *AdminHandler,
	jwtSecret string,
	brokerUp func() bool,
) *Router {
	r := gin.Default()
	r.Use(TraceMiddleware())

	r.GET("/healthz", healthHandler(brokerUp))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Called by trusted backend services; not exposed publicly.
	internal := r.Group("/internal")
	{
		internal.POST("/notifications/fanout", fanoutHandler.Enqueue)
		internal.GET("/notifications/:id/unread_count", adminHandler.UnreadCount)
		internal.GET("/outbox/failed", adminHandler.ListFailedEvents)
		internal.POST("/outbox/:id/replay", adminHandler.ReplayEvent)
	}

	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.GET("/ws", wsHandler.Serve)
	}

	return &Router{Engine: r}
}

// healthHandler reports degraded when the broker connection is down, since a
// gateway that cannot enqueue fan-out jobs or receive push requests should
// fall out of the load balancer.
func healthHandler(brokerUp func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if brokerUp != nil && !brokerUp() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "mq": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
