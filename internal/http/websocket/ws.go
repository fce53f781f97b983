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

// Package websocket serves the admin dashboard's live event feed: a single
// upgrade route that relays every AdminEvent published to the router's
// reserved admin-events topic, for as long as the client stays connected.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fluxbroker/fluxmq/internal/pubsub"
	"github.com/fluxbroker/fluxmq/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const bufferSize = 1024

// Handler upgrades admin dashboard connections and relays the admin-events
// feed to each of them.
type Handler struct {
	bus      pubsub.PubSub
	upgrader websocket.Upgrader
}

// NewHandler builds a Handler reading the admin-events feed off bus.
// corsHosts governs which other browser origins may open the websocket,
// mirroring the admin HTTP surface's CORS configuration; a same-origin
// request is always accepted.
func NewHandler(bus pubsub.PubSub, corsHosts []string) *Handler {
	return &Handler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  bufferSize,
			WriteBufferSize: bufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin != "" && strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://") == r.Host {
					return true
				}
				return originAllowed(origin, corsHosts)
			},
			EnableCompression: true,
		},
	}
}

func originAllowed(origin string, corsHosts []string) bool {
	if origin == "" {
		return false
	}
	for _, host := range corsHosts {
		if strings.HasSuffix(host, ":443") && strings.HasPrefix(origin, "https://") {
			host = strings.TrimSuffix(host, ":443")
		}
		if strings.HasSuffix(host, ":80") && strings.HasPrefix(origin, "http://") {
			host = strings.TrimSuffix(host, ":80")
		}
		if strings.Contains(origin, host) {
			return true
		}
	}
	return false
}

func (h *Handler) feed(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("admin feed: failed to upgrade websocket", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Warn("admin feed: failed to close websocket", "error", err)
		}
	}()

	sub := h.bus.Subscribe(router.AdminEventsTopic)
	defer func() {
		if err := sub.Close(); err != nil {
			slog.Warn("admin feed: failed to close subscription", "error", err)
		}
	}()

	readFailed := make(chan struct{})
	go func() {
		defer close(readFailed)
		for {
			t, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "PING" {
				if err := conn.WriteMessage(t, []byte("PONG")); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readFailed:
			return
		case evt, ok := <-sub.Channel():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, evt); err != nil {
				slog.Warn("admin feed: failed to write event", "error", err)
				return
			}
		}
	}
}

// ApplyRoutes wires the admin feed upgrade route, rate limited like the rest
// of the read-only admin surface since an open websocket still costs a file
// descriptor and a goroutine per client.
func (h *Handler) ApplyRoutes(r *gin.Engine, ratelimit gin.HandlerFunc) {
	r.GET("/ws/events", ratelimit, func(c *gin.Context) {
		h.feed(c.Request.Context(), c.Writer, c.Request)
	})
}
