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

// Package delivery implements the DeliveryManager: one goroutine per active
// (topic, subscriber) session that scans the persisted log from the
// subscriber's resume point, writes messages to the session's transport and
// blocks on the tail-notification bus between scans instead of polling.
package delivery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fluxbroker/fluxmq/internal/db/models"
	"github.com/fluxbroker/fluxmq/internal/metrics"
	"github.com/fluxbroker/fluxmq/internal/pubsub"
	"github.com/fluxbroker/fluxmq/internal/wire"
)

// waitTimeout bounds how long a session blocks on the tail-notification bus
// before re-checking its own cancellation, so a session wound down by
// Stop never lingers past one tick.
const waitTimeout = 2 * time.Second

// scanLimit and scanByteBudget bound a single pass over the persisted log,
// matching the PersistenceGateway.Scan contract used by every session.
const scanLimit = 256
const scanByteBudget = 1 << 20

// Writer is a session's transport-facing sink. It returns writable=false
// when the underlying connection's send buffer is full, which pauses
// delivery for waitTimeout before the same message is written once more;
// if that retry is still not writable the session ends. A non-nil err means
// the connection is gone and also ends the session.
type Writer interface {
	WriteMessage(msg *wire.Message) (writable bool, err error)
}

// Gateway is the subset of persistence.Gateway a session needs.
type Gateway interface {
	Scan(topic string, fromSeqID uint64, limit int, byteBudget int) ([]*models.Message, error)
}

// Manager is the DeliveryManager.
type Manager struct {
	gateway Gateway
	bus     pubsub.PubSub
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds a Manager.
func New(gateway Gateway, bus pubsub.PubSub, m *metrics.Metrics) *Manager {
	return &Manager{
		gateway:  gateway,
		bus:      bus,
		metrics:  m,
		sessions: make(map[string]*session),
	}
}

type session struct {
	topic        string
	subscriberID string
	cancel       context.CancelFunc
	done         chan struct{}
}

func sessionKey(topic, subscriberID string) string {
	return topic + "\x00" + subscriberID
}

// StartSession begins delivering topic's log to subscriberID starting at
// resumeFrom (inclusive), writing through w and filtering per prefs. It is
// idempotent: a session already running for (topic, subscriberID) is
// stopped and replaced, matching forceAttach eviction semantics.
func (m *Manager) StartSession(ctx context.Context, topic, subscriberID string, resumeFrom uint64, prefs wire.SubscriptionPreferences, w Writer) {
	m.StopSession(topic, subscriberID)

	sessionCtx, cancel := context.WithCancel(ctx)

	s := &session{topic: topic, subscriberID: subscriberID, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.sessions[sessionKey(topic, subscriberID)] = s
	m.mu.Unlock()

	go m.run(sessionCtx, s, resumeFrom, prefs, w)
}

// StopSession cancels any running session for (topic, subscriberID) and
// waits for its goroutine to exit.
func (m *Manager) StopSession(topic, subscriberID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionKey(topic, subscriberID)]
	if ok {
		delete(m.sessions, sessionKey(topic, subscriberID))
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	<-s.done
}

func matchesFilter(payload []byte, filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(string(payload), filter)
}

func (m *Manager) run(ctx context.Context, s *session, resumeFrom uint64, prefs wire.SubscriptionPreferences, w Writer) {
	defer close(s.done)

	sub := m.bus.Subscribe(s.topic)
	defer sub.Close()

	next := resumeFrom
	for {
		rows, err := m.gateway.Scan(s.topic, next, scanLimit, scanByteBudget)
		if err != nil {
			return
		}

		if len(rows) == 0 {
			if !m.waitForTail(ctx, sub) {
				return
			}
			continue
		}

		for _, row := range rows {
			if !matchesFilter(row.Payload, prefs.MessageFilter) {
				next = row.SeqID + 1
				continue
			}
			writable, err := w.WriteMessage(&wire.Message{SeqID: row.SeqID, Payload: row.Payload})
			if err != nil {
				return
			}
			if !writable {
				if !m.waitWritable(ctx) {
					return
				}
				writable, err = w.WriteMessage(&wire.Message{SeqID: row.SeqID, Payload: row.Payload})
				if err != nil {
					return
				}
				if !writable {
					return
				}
			}
			next = row.SeqID + 1
			if m.metrics != nil {
				m.metrics.RecordDelivery("local", time.Since(row.PublishedAt).Seconds())
			}
		}
	}
}

func (m *Manager) waitForTail(ctx context.Context, sub pubsub.Subscription) bool {
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-sub.Channel():
		return ok
	case <-timer.C:
		return true
	}
}

func (m *Manager) waitWritable(ctx context.Context) bool {
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
