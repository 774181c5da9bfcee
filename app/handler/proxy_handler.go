package handler

import (
	"github.com/gin-gonic/gin"

	"fleetkeeper/internal/proxy"
)

// ProxyHandler adapts the internal reverse-proxy data path to gin's handler
// signature.
type ProxyHandler struct {
	proxy *proxy.Proxy
}

// NewProxyHandler builds a ProxyHandler.
func NewProxyHandler(p *proxy.Proxy) *ProxyHandler {
	return &ProxyHandler{proxy: p}
}

// Proxy forwards the request through the reverse-proxy data path.
func (h *ProxyHandler) Proxy(c *gin.Context) {
	h.proxy.ServeHTTP(c.Writer, c.Request)
}
