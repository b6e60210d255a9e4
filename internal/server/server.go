// Copyright © 2024 KubeStack-AI Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kafkesc/kcl-lag-exporter/internal/kafkatypes"
	"github.com/kafkesc/kcl-lag-exporter/internal/logger"
	"github.com/kafkesc/kcl-lag-exporter/internal/metrics"
)

// LagRegister is the subset of lagregister.Register the HTTP surface
// reads from.
type LagRegister interface {
	Snapshot() map[string]kafkatypes.GroupWithLag
	IsReady() bool
}

// Server is the HTTP surface: metrics, health, and readiness.
type Server struct {
	router    *gin.Engine
	lagReg    LagRegister
	clusterID string
	log       logger.Logger
}

// New builds a Server exposing lagReg's state, tagging every metric
// series with clusterID.
func New(lagReg LagRegister, clusterID string) *Server {
	s := &Server{
		router:    gin.Default(),
		lagReg:    lagReg,
		clusterID: clusterID,
		log:       logger.New("server"),
	}
	s.router.Use(cors.Default())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "kcl-lag-exporter: Kafka consumer lag metrics\n")
	})

	s.router.GET("/metrics", func(c *gin.Context) {
		body := metrics.Render(s.clusterID, s.lagReg.Snapshot())
		c.Data(http.StatusOK, metrics.ContentType, []byte(body))
	})

	s.router.GET("/status/healthy", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	s.router.GET("/status/ready", func(c *gin.Context) {
		if !s.lagReg.IsReady() {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusOK)
	})
}

// Run starts the HTTP server on addr and blocks until ctx is cancelled, at
// which point it shuts down gracefully with a bounded timeout.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
