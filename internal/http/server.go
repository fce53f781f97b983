// SPDX-License-Identifier: AGPL-3.0-or-later
// DMRHub - Run a DMR network server in a single binary
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/fluxbroker/fluxmq>

// Package http serves fluxmqd's admin surface: read-only topic, subscriber
// and node introspection plus a live event feed for the operator dashboard.
// It never carries publish/subscribe traffic, which stays on the raw TCP
// listener in internal/listener.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fluxbroker/fluxmq/internal/config"
	"github.com/fluxbroker/fluxmq/internal/http/ratelimit"
	"github.com/fluxbroker/fluxmq/internal/http/websocket"
	"github.com/fluxbroker/fluxmq/internal/noderegistry"
	"github.com/fluxbroker/fluxmq/internal/pubsub"
	"github.com/fluxbroker/fluxmq/internal/sdk"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const readTimeout = 3 * time.Second

// TopicSource is the subset of subscription.Manager the admin surface reads.
type TopicSource interface {
	OwnedTopics() []string
	Subscribers(topic string) []string
}

// NodeSource is the subset of noderegistry.Registry the admin surface reads.
type NodeSource interface {
	List(ctx context.Context) ([]noderegistry.Node, error)
}

// CreateRouter builds the admin gin.Engine. It is exported separately from
// CreateAdminServer so tests can exercise routes with httptest without
// binding a real listener.
func CreateRouter(cfg *config.Config, topics TopicSource, nodes NodeSource, bus pubsub.PubSub) *gin.Engine {
	debug := cfg.LogLevel == config.LogLevelDebug
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if err := r.SetTrustedProxies(nil); err != nil {
		slog.Error("failed setting trusted proxies", "error", err)
	}

	if debug {
		pprof.Register(r)
	}
	if cfg.Tracing.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware("fluxmqd-admin"))
	}

	if len(cfg.AdminHTTP.CORSHosts) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AdminHTTP.CORSHosts
		r.Use(cors.New(corsConfig))
	}

	limit := cfg.AdminHTTP.RateLimit
	if limit <= 0 {
		limit = 1
	}
	limiter := ratelimit.PerMinute(uint(limit))

	r.GET("/healthz", limiter, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/meta", limiter, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": sdk.Version, "commit": sdk.GitCommit})
	})
	r.GET("/topics", limiter, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"topics": topics.OwnedTopics()})
	})
	r.GET("/topics/:topic/subscribers", limiter, func(c *gin.Context) {
		topic := c.Param("topic")
		c.JSON(http.StatusOK, gin.H{"topic": topic, "subscribers": topics.Subscribers(topic)})
	})
	r.GET("/nodes", limiter, func(c *gin.Context) {
		nodeList, err := nodes.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": nodeList})
	})

	websocket.NewHandler(bus, cfg.AdminHTTP.CORSHosts).ApplyRoutes(r, limiter)

	return r
}

// CreateAdminServer blocks serving the admin surface on
// Config.AdminHTTP.Bind:Port until the listener fails. It returns nil
// immediately if the admin surface is disabled.
func CreateAdminServer(cfg *config.Config, topics TopicSource, nodes NodeSource, bus pubsub.PubSub) error {
	if !cfg.AdminHTTP.Enabled {
		return nil
	}

	r := CreateRouter(cfg, topics, nodes, bus)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.AdminHTTP.Bind, cfg.AdminHTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: readTimeout,
	}

	slog.Info("admin HTTP server listening", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil {
		return fmt.Errorf("admin HTTP server on %s: %w", server.Addr, err)
	}
	return nil
}
