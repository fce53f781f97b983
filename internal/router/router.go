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

// Package router implements the RequestRouter: dispatch by operation type
// after confirming topic ownership, redirecting elsewhere otherwise, and
// wiring successful subscribes to a DeliveryManager session.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fluxbroker/fluxmq/internal/delivery"
	"github.com/fluxbroker/fluxmq/internal/metrics"
	"github.com/fluxbroker/fluxmq/internal/ownership"
	"github.com/fluxbroker/fluxmq/internal/pubsub"
	"github.com/fluxbroker/fluxmq/internal/subscription"
	"github.com/fluxbroker/fluxmq/internal/wire"
)

// AdminEventsTopic is the reserved pubsub topic the admin dashboard's
// websocket feed subscribes to. The RequestRouter does not validate topic
// names, so a client publish to a topic of exactly this name also reaches
// the feed, as an empty event.
const AdminEventsTopic = "__fluxmq_admin_events__"

// AdminEvent is one line of the admin dashboard's live feed.
type AdminEvent struct {
	Type         string    `json:"type"`
	Topic        string    `json:"topic"`
	SubscriberID string    `json:"subscriber_id,omitempty"`
	SeqID        uint64    `json:"seq_id,omitempty"`
	At           time.Time `json:"at"`
}

// Persistence is the subset of persistence.Gateway a router needs.
type Persistence interface {
	Append(topic string, payload []byte) (uint64, error)
}

// Conn is the transport-facing handle a router needs for a client
// connection: it can receive delivered messages, accept a response written
// out of band of a Handler's normal return value, and be torn down when
// evicted by a forceAttach. An unsubscribe only drops the router's
// reference to it and leaves the connection open.
type Conn interface {
	delivery.Writer
	WriteResponse(resp *wire.PubSubResponse) error
	Close() error
}

// Router is the RequestRouter.
type Router struct {
	ownership     *ownership.Registry
	persistence   Persistence
	subscriptions *subscription.Manager
	delivery      *delivery.Manager
	bus           pubsub.PubSub
	metrics       *metrics.Metrics

	mu    sync.Mutex
	conns map[string]Conn
}

// New builds a Router. bus wakes DeliveryManager sessions promptly after a
// successful publish instead of leaving them to rediscover new messages
// only on their poll timeout.
func New(o *ownership.Registry, p Persistence, s *subscription.Manager, d *delivery.Manager, bus pubsub.PubSub, m *metrics.Metrics) *Router {
	return &Router{
		ownership:     o,
		persistence:   p,
		subscriptions: s,
		delivery:      d,
		bus:           bus,
		metrics:       m,
		conns:         make(map[string]Conn),
	}
}

func topicSubKey(topic, subscriberID string) string {
	return topic + "\x00" + subscriberID
}

// Handle dispatches one decoded request from an ordinary client listener.
// Subscribe requests using the hub-reserved subscriber ID prefix are
// rejected; only HandleFederated accepts those.
func (rt *Router) Handle(ctx context.Context, conn Conn, req *wire.PubSubRequest) (resp *wire.PubSubResponse, closeConn bool) {
	return rt.handle(ctx, conn, req, false)
}

// HandleFederated dispatches one decoded request arriving on the dedicated
// federation listener: subscribe requests are expected to carry the
// hub-reserved subscriber ID prefix, registering the caller as this
// topic's upstream hub subscriber instead of an ordinary local one.
func (rt *Router) HandleFederated(ctx context.Context, conn Conn, req *wire.PubSubRequest) (resp *wire.PubSubResponse, closeConn bool) {
	return rt.handle(ctx, conn, req, true)
}

// handle dispatches one decoded request and returns the response to write
// back, plus whether the caller should close conn afterward -- true only
// for NOT_RESPONSIBLE_FOR_TOPIC on a subscribe request, so the client
// re-routes cleanly instead of reusing a channel pinned to the wrong node.
// A successful subscribe writes its own ack through conn and returns a nil
// resp; every other outcome, including a failed subscribe, is returned
// normally for the caller to write.
func (rt *Router) handle(ctx context.Context, conn Conn, req *wire.PubSubRequest, isHubCaller bool) (resp *wire.PubSubResponse, closeConn bool) {
	if req.ProtocolVersion != wire.ProtocolVersion {
		return malformed(req, "unsupported protocol version"), false
	}

	owner, ownedLocally, err := rt.ownership.Lookup(ctx, req.Topic)
	if err != nil {
		return serviceDown(req, err), false
	}
	if !ownedLocally {
		if owner == "" {
			ok, redirectOwner, claimErr := rt.ownership.Claim(ctx, req.Topic)
			if claimErr != nil {
				return serviceDown(req, claimErr), false
			}
			if !ok {
				owner = redirectOwner
			} else {
				ownedLocally = true
			}
		}
	}
	if !ownedLocally {
		if rt.metrics != nil {
			rt.metrics.RecordRedirect("not_responsible")
		}
		resp := &wire.PubSubResponse{
			ProtocolVersion: wire.ProtocolVersion,
			StatusCode:      wire.StatusNotResponsibleForTopic,
			StatusMsg:       owner,
			TxnID:           req.TxnID,
		}
		return resp, req.OpType == wire.OpSubscribe
	}

	switch req.OpType {
	case wire.OpPublish:
		return rt.handlePublish(req), false
	case wire.OpSubscribe:
		return rt.handleSubscribe(ctx, conn, req, isHubCaller), false
	case wire.OpUnsubscribe:
		return rt.handleUnsubscribe(ctx, req), false
	case wire.OpConsume:
		rt.handleConsume(req)
		return nil, false
	default:
		return malformed(req, "unknown operation type"), false
	}
}

func (rt *Router) handlePublish(req *wire.PubSubRequest) *wire.PubSubResponse {
	if req.Publish == nil {
		return malformed(req, "publish request missing body")
	}
	seqID, err := rt.persistence.Append(req.Topic, req.Publish.Payload)
	if err != nil {
		return serviceDown(req, err)
	}
	if rt.bus != nil {
		_ = rt.bus.Publish(req.Topic, nil)
	}
	rt.publishAdminEvent(AdminEvent{Type: "publish", Topic: req.Topic, SeqID: seqID})
	return &wire.PubSubResponse{
		ProtocolVersion: wire.ProtocolVersion,
		StatusCode:      wire.StatusSuccess,
		TxnID:           req.TxnID,
		SeqID:           seqID,
	}
}

func (rt *Router) handleSubscribe(ctx context.Context, conn Conn, req *wire.PubSubRequest, isHubCaller bool) *wire.PubSubResponse {
	if req.Subscribe == nil {
		return malformed(req, "subscribe request missing body")
	}
	sub := req.Subscribe

	key := topicSubKey(req.Topic, sub.SubscriberID)
	rt.mu.Lock()
	existing, busy := rt.conns[key]
	rt.mu.Unlock()
	if busy && !sub.ForceAttach {
		return &wire.PubSubResponse{
			ProtocolVersion: wire.ProtocolVersion,
			StatusCode:      wire.StatusTopicBusy,
			TxnID:           req.TxnID,
		}
	}

	data, err := rt.subscriptions.Subscribe(ctx, req.Topic, sub, isHubCaller)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrAlreadySubscribed):
			return &wire.PubSubResponse{ProtocolVersion: wire.ProtocolVersion, StatusCode: wire.StatusClientAlreadySubscribed, TxnID: req.TxnID}
		case errors.Is(err, subscription.ErrNotSubscribed):
			return &wire.PubSubResponse{ProtocolVersion: wire.ProtocolVersion, StatusCode: wire.StatusClientNotSubscribed, TxnID: req.TxnID}
		case errors.Is(err, subscription.ErrInvalidSubscriberID):
			return &wire.PubSubResponse{ProtocolVersion: wire.ProtocolVersion, StatusCode: wire.StatusInvalidSubscriberID, TxnID: req.TxnID}
		default:
			return serviceDown(req, err)
		}
	}

	if busy && sub.ForceAttach {
		_ = existing.Close()
		rt.delivery.StopSession(req.Topic, sub.SubscriberID)
	}

	rt.mu.Lock()
	rt.conns[key] = conn
	rt.mu.Unlock()

	resp := &wire.PubSubResponse{
		ProtocolVersion: wire.ProtocolVersion,
		StatusCode:      wire.StatusSuccess,
		TxnID:           req.TxnID,
		SeqID:           data.State.LastConsumedSeqID,
	}

	// The ack is written here, synchronously, rather than being handed back
	// for the caller to write: StartSession spawns a delivery goroutine that
	// may push the subscriber's first message immediately, and that message
	// must never reach the wire ahead of the subscribe ack it follows.
	if err := conn.WriteResponse(resp); err != nil {
		return nil
	}

	rt.delivery.StartSession(ctx, req.Topic, sub.SubscriberID, data.State.LastConsumedSeqID, data.Preferences, conn)
	rt.publishAdminEvent(AdminEvent{Type: "subscribe", Topic: req.Topic, SubscriberID: sub.SubscriberID})
	return nil
}

func (rt *Router) handleUnsubscribe(ctx context.Context, req *wire.PubSubRequest) *wire.PubSubResponse {
	if req.Unsubscribe == nil {
		return malformed(req, "unsubscribe request missing body")
	}
	sub := req.Unsubscribe

	rt.delivery.StopSession(req.Topic, sub.SubscriberID)
	rt.mu.Lock()
	delete(rt.conns, topicSubKey(req.Topic, sub.SubscriberID))
	rt.mu.Unlock()

	if err := rt.subscriptions.Unsubscribe(ctx, req.Topic, sub.SubscriberID); err != nil {
		if errors.Is(err, subscription.ErrNotSubscribed) {
			return &wire.PubSubResponse{ProtocolVersion: wire.ProtocolVersion, StatusCode: wire.StatusClientNotSubscribed, TxnID: req.TxnID}
		}
		return serviceDown(req, err)
	}
	rt.publishAdminEvent(AdminEvent{Type: "unsubscribe", Topic: req.Topic, SubscriberID: sub.SubscriberID})
	return &wire.PubSubResponse{ProtocolVersion: wire.ProtocolVersion, StatusCode: wire.StatusSuccess, TxnID: req.TxnID}
}

// publishAdminEvent best-effort notifies the admin dashboard feed. A
// marshal or bus failure is dropped rather than surfaced to the client,
// since the feed is an observability convenience, not part of the wire
// protocol's contract.
func (rt *Router) publishAdminEvent(evt AdminEvent) {
	if rt.bus == nil {
		return
	}
	evt.At = time.Now()
	encoded, err := json.Marshal(evt)
	if err != nil {
		return
	}
	_ = rt.bus.Publish(AdminEventsTopic, encoded)
}

func (rt *Router) handleConsume(req *wire.PubSubRequest) {
	if req.Consume == nil {
		return
	}
	_ = rt.subscriptions.Consume(context.Background(), req.Topic, req.Consume.SubscriberID, req.Consume.SeqID)
}

func malformed(req *wire.PubSubRequest, msg string) *wire.PubSubResponse {
	return &wire.PubSubResponse{
		ProtocolVersion: wire.ProtocolVersion,
		StatusCode:      wire.StatusMalformedRequest,
		StatusMsg:       msg,
		TxnID:           req.TxnID,
	}
}

func serviceDown(req *wire.PubSubRequest, err error) *wire.PubSubResponse {
	return &wire.PubSubResponse{
		ProtocolVersion: wire.ProtocolVersion,
		StatusCode:      wire.StatusServiceDown,
		StatusMsg:       fmt.Sprintf("%v", err),
		TxnID:           req.TxnID,
	}
}
