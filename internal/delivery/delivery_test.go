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

package delivery_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fluxbroker/fluxmq/internal/config"
	"github.com/fluxbroker/fluxmq/internal/db/models"
	"github.com/fluxbroker/fluxmq/internal/delivery"
	"github.com/fluxbroker/fluxmq/internal/pubsub"
	"github.com/fluxbroker/fluxmq/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu   sync.Mutex
	rows []*models.Message
}

func (g *fakeGateway) add(seqID uint64, payload string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rows = append(g.rows, &models.Message{Topic: "orders", SeqID: seqID, Payload: []byte(payload), PublishedAt: time.Now()})
}

func (g *fakeGateway) Scan(topic string, fromSeqID uint64, limit int, byteBudget int) ([]*models.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*models.Message, 0)
	for _, r := range g.rows {
		if r.SeqID >= fromSeqID {
			out = append(out, r)
		}
	}
	return out, nil
}

type captureWriter struct {
	mu   sync.Mutex
	msgs []*wire.Message
}

func (w *captureWriter) WriteMessage(msg *wire.Message) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
	return true, nil
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func TestStartSessionDeliversExistingBacklog(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	gw.add(0, "a")
	gw.add(1, "b")
	bus, err := pubsub.MakePubSub(context.Background(), &config.Config{})
	require.NoError(t, err)

	m := delivery.New(gw, bus, nil)
	w := &captureWriter{}
	m.StartSession(context.Background(), "orders", "sub-1", 0, wire.SubscriptionPreferences{}, w)
	defer m.StopSession("orders", "sub-1")

	require.Eventually(t, func() bool { return w.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestStartSessionHonorsResumePoint(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	gw.add(0, "a")
	gw.add(1, "b")
	gw.add(2, "c")
	bus, err := pubsub.MakePubSub(context.Background(), &config.Config{})
	require.NoError(t, err)

	m := delivery.New(gw, bus, nil)
	w := &captureWriter{}
	m.StartSession(context.Background(), "orders", "sub-1", 2, wire.SubscriptionPreferences{}, w)
	defer m.StopSession("orders", "sub-1")

	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(2), w.msgs[0].SeqID)
}

func TestStartSessionFiltersByMessageFilter(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	gw.add(0, "keep-me")
	gw.add(1, "drop-this")
	gw.add(2, "keep-again")
	bus, err := pubsub.MakePubSub(context.Background(), &config.Config{})
	require.NoError(t, err)

	m := delivery.New(gw, bus, nil)
	w := &captureWriter{}
	m.StartSession(context.Background(), "orders", "sub-1", 0, wire.SubscriptionPreferences{MessageFilter: "keep"}, w)
	defer m.StopSession("orders", "sub-1")

	require.Eventually(t, func() bool { return w.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestStartSessionReplacesExistingSession(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	bus, err := pubsub.MakePubSub(context.Background(), &config.Config{})
	require.NoError(t, err)

	m := delivery.New(gw, bus, nil)
	w1 := &captureWriter{}
	m.StartSession(context.Background(), "orders", "sub-1", 0, wire.SubscriptionPreferences{}, w1)

	w2 := &captureWriter{}
	m.StartSession(context.Background(), "orders", "sub-1", 0, wire.SubscriptionPreferences{}, w2)
	defer m.StopSession("orders", "sub-1")

	gw.add(0, "only-for-w2")
	require.Eventually(t, func() bool { return w2.count() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, 0, w1.count())
}
