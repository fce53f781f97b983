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

package federation_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fluxbroker/fluxmq/internal/config"
	"github.com/fluxbroker/fluxmq/internal/federation"
	"github.com/fluxbroker/fluxmq/internal/pubsub"
	"github.com/fluxbroker/fluxmq/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakePersistence struct {
	mu      sync.Mutex
	appends []string
}

func (p *fakePersistence) Append(topic string, payload []byte) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appends = append(p.appends, topic+"="+string(payload))
	return uint64(len(p.appends) - 1), nil
}

func (p *fakePersistence) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.appends))
	copy(out, p.appends)
	return out
}

// startFakePeer accepts one connection, acks the first subscribe and pushes
// one message, then holds the connection open for Close.
func startFakePeer(t *testing.T) (addr string, gotSubscriberID chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ids := make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		w := bufio.NewWriter(conn)

		req, err := wire.ReadRequest(r)
		if err != nil {
			return
		}
		ids <- req.Subscribe.SubscriberID

		_ = wire.WriteResponse(w, &wire.PubSubResponse{
			ProtocolVersion: wire.ProtocolVersion,
			StatusCode:      wire.StatusSuccess,
			TxnID:           req.TxnID,
		})
		_ = w.Flush()

		_ = wire.WriteResponse(w, &wire.PubSubResponse{
			ProtocolVersion: wire.ProtocolVersion,
			StatusCode:      wire.StatusSuccess,
			Messages:        []*wire.Message{{SeqID: 0, Payload: []byte("cross-region")}},
		})
		_ = w.Flush()

		// hold the connection open until the test tears it down.
		_, _ = r.ReadByte()
	}()

	return ln.Addr().String(), ids
}

func TestFederatorSubscribesAndRepublishesLocally(t *testing.T) {
	t.Parallel()
	addr, gotSubscriberID := startFakePeer(t)

	persistence := &fakePersistence{}
	bus, err := pubsub.MakePubSub(context.Background(), &config.Config{})
	require.NoError(t, err)

	f := federation.New(config.Federation{
		Enabled:               true,
		HubSubscriberIDPrefix: "hub:",
		Peers:                 []string{addr},
	}, "node-a", persistence, bus, nil)

	listeners := f.Listeners()
	require.NoError(t, listeners.OnFirstLocalSubscribe("orders"))

	select {
	case id := <-gotSubscriberID:
		require.True(t, strings.HasPrefix(id, "hub:"))
	case <-time.After(time.Second):
		t.Fatal("peer never received a subscribe request")
	}

	require.Eventually(t, func() bool {
		for _, c := range persistence.calls() {
			if c == "orders=cross-region" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	listeners.OnLastLocalUnsubscribe("orders")
}

func TestFederatorStartWithoutPeersFails(t *testing.T) {
	t.Parallel()
	persistence := &fakePersistence{}
	bus, err := pubsub.MakePubSub(context.Background(), &config.Config{})
	require.NoError(t, err)

	f := federation.New(config.Federation{Enabled: true, HubSubscriberIDPrefix: "hub:"}, "node-a", persistence, bus, nil)
	listeners := f.Listeners()

	err = listeners.OnFirstLocalSubscribe("orders")
	require.ErrorIs(t, err, federation.ErrNoPeers)
}

func TestFederatorStopWithoutStartIsNoop(t *testing.T) {
	t.Parallel()
	persistence := &fakePersistence{}
	bus, err := pubsub.MakePubSub(context.Background(), &config.Config{})
	require.NoError(t, err)

	f := federation.New(config.Federation{Enabled: true, HubSubscriberIDPrefix: "hub:"}, "node-a", persistence, bus, nil)
	f.Listeners().OnLastLocalUnsubscribe("orders")
}
