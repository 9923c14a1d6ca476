// Package admin exposes the control-plane surface (/healthz, /metrics,
// /debug/routing) on a listener separate from the data path, via
// github.com/gin-gonic/gin — the teacher's HTTP framework of choice for
// control-plane surfaces (internal/controller/api), kept off the hot path
// per spec.md's OUT OF SCOPE note that the core is the request-handling
// pipeline, not an admin API.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cbltio/cblt/internal/cbltmetrics"
	"github.com/cbltio/cblt/internal/routing"
)

type Server struct {
	httpServer *http.Server
}

func New(addr string, publisher *routing.Publisher, metrics *cbltmetrics.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		if publisher.Load() == nil {
			c.String(http.StatusServiceUnavailable, "not ready")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	router.GET("/debug/routing", func(c *gin.Context) {
		table := publisher.Load()
		if table == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no routing table published"})
			return
		}
		c.JSON(http.StatusOK, debugRoutingView(table))
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Gatherer, promhttp.HandlerOpts{})))

	return &Server{httpServer: &http.Server{Addr: addr, Handler: router}}
}

func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func debugRoutingView(table *routing.Table) map[string]any {
	out := make(map[string]any, len(table.Listeners))
	for addr, l := range table.Listeners {
		hosts := make([]string, 0, len(l.HostBlocks))
		for _, hb := range l.HostBlocks {
			hosts = append(hosts, hb.HostPattern)
		}
		out[addr] = hosts
	}
	return out
}
