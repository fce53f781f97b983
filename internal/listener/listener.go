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

// Package listener runs the wire protocol's accept loop: one goroutine per
// connection, reading length-prefixed PubSubRequest frames and dispatching
// them to a Handler, writing back whatever response (or pushed message) the
// handler produces. It carries the actual publish/subscribe traffic, never
// the admin HTTP surface's introspection routes.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/fluxbroker/fluxmq/internal/wire"
)

// Handler dispatches one decoded request and returns the response to write
// back (nil for none, as with OpConsume, or when the Handler already wrote
// it itself via Conn.WriteResponse) plus whether the caller should close the
// connection afterward. router.Router.Handle/HandleFederated both satisfy
// this signature.
type Handler func(ctx context.Context, conn Conn, req *wire.PubSubRequest) (resp *wire.PubSubResponse, closeConn bool)

// Conn is the minimal interface a listener connection exposes to a Handler,
// matching router.Conn without importing it and creating a cycle.
type Conn interface {
	WriteMessage(msg *wire.Message) (bool, error)
	WriteResponse(resp *wire.PubSubResponse) error
	Close() error
}

// conn wraps a net.Conn, serializing writes since a DeliveryManager session
// can push messages to it from a goroutine unrelated to the one reading and
// answering requests on it.
type conn struct {
	net.Conn
	mu sync.Mutex
}

func (c *conn) WriteMessage(msg *wire.Message) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := wire.WriteResponse(c.Conn, &wire.PubSubResponse{
		ProtocolVersion: wire.ProtocolVersion,
		StatusCode:      wire.StatusSuccess,
		Messages:        []*wire.Message{msg},
	})
	return err == nil, err
}

// WriteResponse writes resp directly, bypassing the Handler's return value.
// A Handler that starts asynchronous delivery (subscribe) must call this
// itself before doing so, so the ack reaches the wire before any message the
// new session pushes; serveConn uses it too, for every response a Handler
// returns normally.
func (c *conn) WriteResponse(resp *wire.PubSubResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.WriteResponse(c.Conn, resp)
}

// Serve accepts connections on ln until it is closed, handling each with
// handle. It blocks and returns the listener's terminal error (nil if ln was
// closed deliberately by the caller).
func Serve(ctx context.Context, ln net.Listener, handle Handler) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go serveConn(ctx, nc, handle)
	}
}

func serveConn(ctx context.Context, nc net.Conn, handle Handler) {
	c := &conn{Conn: nc}
	defer func() {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close connection", "remote", nc.RemoteAddr(), "error", err)
		}
	}()

	for {
		req, err := wire.ReadRequest(nc)
		if err != nil {
			return
		}

		resp, closeConn := handle(ctx, c, req)
		if resp != nil {
			if err := c.WriteResponse(resp); err != nil {
				return
			}
		}
		if closeConn {
			return
		}
	}
}

// ListenTCP opens the plaintext listener at addr.
func ListenTCP(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return ln, nil
}

// ListenTLS opens the TLS listener at addr using certFile/keyFile.
func ListenTLS(addr, certFile, keyFile string) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}
	ln, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("listen tls %s: %w", addr, err)
	}
	return ln, nil
}
