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

// Package noderegistry tracks which fluxmqd instances are alive in the
// cluster, independent of which topics any of them currently own. The admin
// HTTP surface's GET /nodes reads it for operator visibility, and a draining
// node can consult it to decide whether to wait for its held topics' leases
// to expire or release them immediately because a peer is already up.
package noderegistry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/fluxbroker/fluxmq/internal/kv"
)

const (
	keyPrefix = "fluxmq:node:"
	// ttl must exceed heartbeatInterval so a key survives between refreshes.
	ttl               = 30 * time.Second
	heartbeatInterval = 10 * time.Second
)

// Registry registers this node's address in the shared KV store and
// heartbeats it until Stop is called.
type Registry struct {
	kv      kv.KV
	nodeID  string
	address string
	cancel  context.CancelFunc
}

// New registers nodeID with address (host:port:tlsPort, the same form
// ownership.Registry redirects clients to) and starts a background heartbeat.
func New(ctx context.Context, store kv.KV, nodeID, address string) *Registry {
	r := &Registry{kv: store, nodeID: nodeID, address: address}

	key := keyPrefix + nodeID
	if err := store.Set(ctx, key, []byte(address)); err != nil {
		slog.Error("failed to register node in KV", "node_id", nodeID, "error", err)
	}
	if err := store.Expire(ctx, key, ttl); err != nil {
		slog.Error("failed to set node registration TTL", "node_id", nodeID, "error", err)
	}

	hbCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.heartbeat(hbCtx)

	slog.Info("registered node", "node_id", nodeID, "address", address)
	return r
}

func (r *Registry) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	key := keyPrefix + r.nodeID
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.kv.Set(ctx, key, []byte(r.address)); err != nil {
				slog.Warn("node heartbeat: failed to refresh key", "error", err)
				continue
			}
			if err := r.kv.Expire(ctx, key, ttl); err != nil {
				slog.Warn("node heartbeat: failed to refresh TTL", "error", err)
			}
		}
	}
}

// Node is one live cluster member as reported by List.
type Node struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// List returns every node with a live registration, sorted by ID.
func (r *Registry) List(ctx context.Context) ([]Node, error) {
	var keys []string
	var cursor uint64
	for {
		page, next, err := r.kv.Scan(ctx, cursor, keyPrefix+"*", 0)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		keys = append(keys, page...)
		if next == 0 {
			break
		}
		cursor = next
	}
	out := make([]Node, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, keyPrefix)
		addr, getErr := r.kv.Get(ctx, key)
		if getErr != nil {
			continue
		}
		out = append(out, Node{ID: id, Address: string(addr)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// OthersAlive reports whether any node other than this one has a live
// registration, letting a draining node skip waiting out its lease TTLs.
func (r *Registry) OthersAlive(ctx context.Context) bool {
	nodes, err := r.List(ctx)
	if err != nil {
		slog.Warn("failed to check for live peer nodes", "error", err)
		return false
	}
	for _, n := range nodes {
		if n.ID != r.nodeID {
			return true
		}
	}
	return false
}

// Stop deregisters this node and halts its heartbeat.
func (r *Registry) Stop(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
	}
	key := keyPrefix + r.nodeID
	if err := r.kv.Delete(ctx, key); err != nil {
		slog.Warn("failed to deregister node", "node_id", r.nodeID, "error", err)
	}
	slog.Info("deregistered node", "node_id", r.nodeID)
}
