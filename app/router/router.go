package router

import (
	"github.com/gin-gonic/gin"

	"fleetkeeper/app/handler"
	"fleetkeeper/app/middleware"
)

// Router wires the controller's internal endpoints and the catch-all
// reverse-proxy route.
type Router struct {
	statusHandler *handler.StatusHandler
	proxyHandler  *handler.ProxyHandler
	streamHandler *handler.StreamHandler
}

// NewRouter creates a new Router.
func NewRouter(statusHandler *handler.StatusHandler, proxyHandler *handler.ProxyHandler, streamHandler *handler.StreamHandler) *Router {
	return &Router{
		statusHandler: statusHandler,
		proxyHandler:  proxyHandler,
		streamHandler: streamHandler,
	}
}

// Setup registers routes on the given gin engine. /lb-status, /health and
// /lb-status/stream are served by the controller and never proxied; every
// other request falls through to the reverse-proxy data path.
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	engine.GET("/lb-status", r.statusHandler.Status)
	engine.GET("/health", r.statusHandler.Health)
	engine.GET("/lb-status/stream", r.streamHandler.Stream)

	engine.NoRoute(r.proxyHandler.Proxy)
}
