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

// Package ownership implements the OwnershipRegistry: the metadata-store
// backed claim that "this node owns topic T", built on the same ephemeral
// lease-plus-heartbeat pattern used elsewhere in this codebase to track
// live server instances.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/fluxbroker/fluxmq/internal/config"
	"github.com/fluxbroker/fluxmq/internal/kv"
	"github.com/fluxbroker/fluxmq/internal/metrics"
	"github.com/puzpuzpuz/xsync/v4"
)

const ownerKeyPrefix = "owners/"

// ErrStaleClaim describes a claim attempt lost to an existing owner,
// including one left behind by a previous incarnation of this same node.
// Claim itself does not return it; it reports a lost claim as
// (false, owner, nil).
var ErrStaleClaim = errors.New("topic owned by another node")

// Listeners are fired on topic acquisition and loss. They run synchronously
// on the goroutine that triggers them (the Claim or Release caller, or the
// watch loop for a lease lost externally), so implementations must not block.
type Listeners struct {
	OnAcquired func(topic string)
	OnReleased func(topic string)
}

type heldClaim struct {
	cancel       context.CancelFunc
	lastVerified time.Time
}

// Registry is the OwnershipRegistry: it claims and releases per-topic
// ephemeral leases in the metadata store, heartbeats held leases, and
// watches for leases lost to external expiry or store disconnection.
type Registry struct {
	kvStore   kv.KV
	metrics   *metrics.Metrics
	identity  string
	leaseTTL  time.Duration
	heartbeat time.Duration

	listeners Listeners

	mu     sync.Mutex
	held   map[string]*heldClaim
	claims *xsync.Map[string, struct{}]

	watchCancel context.CancelFunc
}

// New builds a Registry for this node. identity is the address triplet
// (host:port:sslPort) advertised to clients redirected to this node.
func New(kvStore kv.KV, m *metrics.Metrics, cfg config.Node, listeners Listeners) *Registry {
	r := &Registry{
		kvStore:   kvStore,
		metrics:   m,
		identity:  Address(cfg),
		leaseTTL:  time.Duration(cfg.LeaseTTL) * time.Second,
		heartbeat: time.Duration(cfg.HeartbeatInterval) * time.Second,
		listeners: listeners,
		held:      make(map[string]*heldClaim),
		claims:    xsync.NewMap[string, struct{}](),
	}
	return r
}

// Address builds the host:port:sslPort triplet this node advertises as a
// topic owner, preserved as a single opaque string end to end so that
// triedServers equality holds across plain and TLS clients alike.
func Address(cfg config.Node) string {
	return cfg.AdvertiseHost + ":" + strconv.Itoa(cfg.Port) + ":" + strconv.Itoa(cfg.TLSPort)
}

// Start launches the background watch loop that detects leases lost to
// external expiry (e.g. a Redis key evicted by another node's compare-and-
// delete race, or the store itself dropping the connection).
func (r *Registry) Start(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	go r.watchLoop(watchCtx)
}

// Stop cancels the watch loop and every held lease's heartbeat without
// releasing the leases themselves; callers that want a clean shutdown
// should call Release for each topic they still hold first.
func (r *Registry) Stop() {
	if r.watchCancel != nil {
		r.watchCancel()
	}
	r.mu.Lock()
	for _, held := range r.held {
		held.cancel()
	}
	r.mu.Unlock()
}

func ownerKey(topic string) string {
	return ownerKeyPrefix + topic
}

// Claim attempts to acquire ownership of topic. On success it returns
// (true, "", nil) and starts heartbeating the lease; OnAcquired fires
// before Claim returns. On failure it returns (false, owner, nil) with the
// current holder's identity, which callers use as a redirect hint -- this
// also covers a stale claim left behind by a previous incarnation of this
// same node, which is indistinguishable from a foreign owner.
func (r *Registry) Claim(ctx context.Context, topic string) (bool, string, error) {
	start := time.Now()
	key := ownerKey(topic)

	ok, err := r.kvStore.SetNX(ctx, key, []byte(r.identity), r.leaseTTL)
	if err != nil {
		r.recordClaim("error", start)
		return false, "", fmt.Errorf("failed to claim topic %q: %w", topic, err)
	}
	if !ok {
		owner, getErr := r.kvStore.Get(ctx, key)
		if getErr != nil {
			r.recordClaim("error", start)
			return false, "", fmt.Errorf("failed to read current owner of topic %q: %w", topic, getErr)
		}
		r.recordClaim("lost", start)
		return false, string(owner), nil
	}

	r.mu.Lock()
	hbCtx, cancel := context.WithCancel(ctx)
	r.held[topic] = &heldClaim{cancel: cancel, lastVerified: time.Now()}
	r.mu.Unlock()
	r.claims.Store(topic, struct{}{})

	go r.heartbeatLoop(hbCtx, topic)

	r.recordClaim("acquired", start)
	if r.metrics != nil {
		r.metrics.LeasesHeld.Inc()
	}
	if r.listeners.OnAcquired != nil {
		r.listeners.OnAcquired(topic)
	}
	return true, "", nil
}

func (r *Registry) recordClaim(outcome string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordClaim(outcome, time.Since(start).Seconds())
	}
}

// Release voluntarily relinquishes ownership of topic, deleting the lease
// only if it still holds this node's identity so a lease some other node
// has since reclaimed is never clobbered.
func (r *Registry) Release(ctx context.Context, topic string) error {
	r.mu.Lock()
	held, ok := r.held[topic]
	if ok {
		delete(r.held, topic)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	held.cancel()
	r.claims.Delete(topic)

	deleted, err := r.kvStore.DeleteIfEqual(ctx, ownerKey(topic), []byte(r.identity))
	if err != nil {
		return fmt.Errorf("failed to release topic %q: %w", topic, err)
	}
	if r.metrics != nil {
		r.metrics.LeasesHeld.Dec()
	}
	if deleted && r.listeners.OnReleased != nil {
		r.listeners.OnReleased(topic)
	}
	return nil
}

// Lookup resolves topic's current owner without attempting to claim it.
// ownedLocally is true when this node itself holds the lease; otherwise
// owner is the address triplet of whoever does, or "" if nobody currently
// claims the topic at all.
func (r *Registry) Lookup(ctx context.Context, topic string) (owner string, ownedLocally bool, err error) {
	if r.Owns(topic) {
		return r.identity, true, nil
	}
	value, err := r.kvStore.Get(ctx, ownerKey(topic))
	if errors.Is(err, kv.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up owner of topic %q: %w", topic, err)
	}
	return string(value), false, nil
}

// Owns reports whether this node currently believes it holds topic's lease.
// It is a local, in-memory check; use Claim to establish ownership.
func (r *Registry) Owns(topic string) bool {
	_, ok := r.claims.Load(topic)
	return ok
}

// HeldTopics returns the topics this node currently believes it owns.
func (r *Registry) HeldTopics() []string {
	topics := make([]string, 0)
	r.claims.Range(func(topic string, _ struct{}) bool {
		topics = append(topics, topic)
		return true
	})
	return topics
}

func (r *Registry) heartbeatLoop(ctx context.Context, topic string) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	key := ownerKey(topic)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.kvStore.Set(ctx, key, []byte(r.identity)); err != nil {
				slog.Warn("ownership heartbeat: failed to refresh lease", "topic", topic, "error", err)
				continue
			}
			if err := r.kvStore.Expire(ctx, key, r.leaseTTL); err != nil {
				slog.Warn("ownership heartbeat: failed to refresh lease TTL", "topic", topic, "error", err)
				continue
			}
			r.mu.Lock()
			if held, ok := r.held[topic]; ok {
				held.lastVerified = time.Now()
			}
			r.mu.Unlock()
		}
	}
}

// watchLoop periodically verifies every held lease still names this node
// as owner. A lease can disappear externally (session expiry in the
// metadata store) or, under store disconnection, simply stop being
// verifiable; either way, once a lease has gone unverified for longer than
// leaseTTL this node treats it as lost and synthesizes OnReleased so
// in-memory state is purged rather than served stale.
func (r *Registry) watchLoop(ctx context.Context) {
	interval := r.heartbeat
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkHeldLeases(ctx)
		}
	}
}

func (r *Registry) checkHeldLeases(ctx context.Context) {
	r.mu.Lock()
	topics := make([]string, 0, len(r.held))
	for topic := range r.held {
		topics = append(topics, topic)
	}
	r.mu.Unlock()

	for _, topic := range topics {
		value, err := r.kvStore.Get(ctx, ownerKey(topic))
		if err == nil && string(value) == r.identity {
			r.mu.Lock()
			if held, ok := r.held[topic]; ok {
				held.lastVerified = time.Now()
			}
			r.mu.Unlock()
			continue
		}

		r.mu.Lock()
		held, ok := r.held[topic]
		lost := ok && time.Since(held.lastVerified) > r.leaseTTL
		r.mu.Unlock()

		if err != nil {
			slog.Warn("ownership watch: failed to verify lease, treating as uncertain", "topic", topic, "error", err)
		}
		if lost {
			r.purgeLostLease(topic)
		}
	}
}

func (r *Registry) purgeLostLease(topic string) {
	r.mu.Lock()
	held, ok := r.held[topic]
	if ok {
		delete(r.held, topic)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	held.cancel()
	r.claims.Delete(topic)
	if r.metrics != nil {
		r.metrics.LeasesHeld.Dec()
	}
	slog.Warn("ownership: lease lost externally, releasing topic", "topic", topic)
	if r.listeners.OnReleased != nil {
		r.listeners.OnReleased(topic)
	}
}
