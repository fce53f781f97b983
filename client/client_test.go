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

package client_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/fluxbroker/fluxmq/client"
	"github.com/fluxbroker/fluxmq/internal/wire"
	"github.com/stretchr/testify/require"
)

// fakeBroker accepts one connection at a time and answers each request with
// whatever handle returns, so tests can script redirects and pushed
// messages without a real Router behind them.
type fakeBroker struct {
	t        *testing.T
	listener net.Listener
}

func startFakeBroker(t *testing.T, handle func(req *wire.PubSubRequest, w *bufio.Writer) bool) *fakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	b := &fakeBroker{t: t, listener: ln}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				w := bufio.NewWriter(conn)
				for {
					req, err := wire.ReadRequest(r)
					if err != nil {
						return
					}
					if !handle(req, w) {
						return
					}
				}
			}(conn)
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return b
}

func (b *fakeBroker) addr() string {
	return b.listener.Addr().String()
}

func writeResponse(t *testing.T, w *bufio.Writer, resp *wire.PubSubResponse) {
	t.Helper()
	require.NoError(t, wire.WriteResponse(w, resp))
	require.NoError(t, w.Flush())
}

func TestPublishReturnsAssignedSeqID(t *testing.T) {
	t.Parallel()
	broker := startFakeBroker(t, func(req *wire.PubSubRequest, w *bufio.Writer) bool {
		writeResponse(t, w, &wire.PubSubResponse{
			ProtocolVersion: wire.ProtocolVersion,
			StatusCode:      wire.StatusSuccess,
			TxnID:           req.TxnID,
			SeqID:           42,
		})
		return false
	})

	c := client.New(broker.addr())
	seqID, err := c.Publish(context.Background(), "orders", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(42), seqID)
}

func TestPublishFollowsRedirect(t *testing.T) {
	t.Parallel()
	target := startFakeBroker(t, func(req *wire.PubSubRequest, w *bufio.Writer) bool {
		require.True(t, req.ShouldClaim)
		writeResponse(t, w, &wire.PubSubResponse{
			ProtocolVersion: wire.ProtocolVersion,
			StatusCode:      wire.StatusSuccess,
			TxnID:           req.TxnID,
			SeqID:           7,
		})
		return false
	})

	stale := startFakeBroker(t, func(req *wire.PubSubRequest, w *bufio.Writer) bool {
		host, port, err := net.SplitHostPort(target.addr())
		require.NoError(t, err)
		writeResponse(t, w, &wire.PubSubResponse{
			ProtocolVersion: wire.ProtocolVersion,
			StatusCode:      wire.StatusNotResponsibleForTopic,
			TxnID:           req.TxnID,
			StatusMsg:       host + ":" + port + ":0",
		})
		return false
	})

	c := client.New(stale.addr())
	seqID, err := c.Publish(context.Background(), "orders", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(7), seqID)
}

func TestPublishRedirectLoopIsDetected(t *testing.T) {
	t.Parallel()
	var broker *fakeBroker
	broker = startFakeBroker(t, func(req *wire.PubSubRequest, w *bufio.Writer) bool {
		writeResponse(t, w, &wire.PubSubResponse{
			ProtocolVersion: wire.ProtocolVersion,
			StatusCode:      wire.StatusNotResponsibleForTopic,
			TxnID:           req.TxnID,
			StatusMsg:       broker.addr() + ":0",
		})
		return false
	})

	c := client.New(broker.addr())
	_, err := c.Publish(context.Background(), "orders", []byte("hello"))
	require.ErrorIs(t, err, client.ErrRedirectLoop)
}

func TestPublishReturnsStatusError(t *testing.T) {
	t.Parallel()
	broker := startFakeBroker(t, func(req *wire.PubSubRequest, w *bufio.Writer) bool {
		writeResponse(t, w, &wire.PubSubResponse{
			ProtocolVersion: wire.ProtocolVersion,
			StatusCode:      wire.StatusServiceDown,
			TxnID:           req.TxnID,
			StatusMsg:       "persistence unavailable",
		})
		return false
	})

	c := client.New(broker.addr())
	_, err := c.Publish(context.Background(), "orders", []byte("hello"))
	require.Error(t, err)
	var statusErr *client.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, wire.StatusServiceDown, statusErr.Code)
}

func TestSubscribeDeliversPushedMessages(t *testing.T) {
	t.Parallel()
	var acked bool
	broker := startFakeBroker(t, func(req *wire.PubSubRequest, w *bufio.Writer) bool {
		if req.OpType == wire.OpSubscribe && !acked {
			acked = true
			writeResponse(t, w, &wire.PubSubResponse{
				ProtocolVersion: wire.ProtocolVersion,
				StatusCode:      wire.StatusSuccess,
				TxnID:           req.TxnID,
			})
			writeResponse(t, w, &wire.PubSubResponse{
				ProtocolVersion: wire.ProtocolVersion,
				StatusCode:      wire.StatusSuccess,
				Messages:        []*wire.Message{{SeqID: 0, Payload: []byte("first")}},
			})
			return true
		}
		return false
	})

	c := client.New(broker.addr())
	received := make(chan *wire.Message, 1)
	sub, err := c.Subscribe(context.Background(), "orders", "sub-1", client.SubscribeCreateOrAttach, wire.SubscriptionPreferences{}, func(msg *wire.Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer sub.Close()

	select {
	case msg := <-received:
		require.Equal(t, []byte("first"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered message")
	}
	require.Equal(t, "ACTIVE", sub.State())
}

func TestSubscribeRejectsOnStatusError(t *testing.T) {
	t.Parallel()
	broker := startFakeBroker(t, func(req *wire.PubSubRequest, w *bufio.Writer) bool {
		writeResponse(t, w, &wire.PubSubResponse{
			ProtocolVersion: wire.ProtocolVersion,
			StatusCode:      wire.StatusTopicBusy,
			TxnID:           req.TxnID,
		})
		return false
	})

	c := client.New(broker.addr())
	_, err := c.Subscribe(context.Background(), "orders", "sub-1", client.SubscribeCreateOrAttach, wire.SubscriptionPreferences{}, func(*wire.Message) {})
	require.Error(t, err)
	var statusErr *client.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, wire.StatusTopicBusy, statusErr.Code)
}
