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

// Package federation implements cross-region delivery to hub subscribers.
// A Federator registers as SubscriptionManager's first-local-subscribe /
// last-local-unsubscribe listener: the first local subscriber to a topic
// starts an upstream ClientSession against a peer region using the
// hub-reserved subscriber ID namespace, republishing every message it
// receives into this node's own PersistenceGateway so local subscribers
// see it like any locally-published message; the last local unsubscriber
// tears the upstream session down.
package federation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fluxbroker/fluxmq/client"
	"github.com/fluxbroker/fluxmq/internal/config"
	"github.com/fluxbroker/fluxmq/internal/metrics"
	"github.com/fluxbroker/fluxmq/internal/pubsub"
	"github.com/fluxbroker/fluxmq/internal/subscription"
	"github.com/fluxbroker/fluxmq/internal/wire"
)

// ErrNoPeers is returned by OnFirstLocalSubscribe when federation is
// enabled but no peer addresses are configured to subscribe upstream from.
var ErrNoPeers = errors.New("federation: no peers configured")

// Persistence is the subset of persistence.Gateway a Federator needs to
// republish a message received from an upstream region.
type Persistence interface {
	Append(topic string, payload []byte) (uint64, error)
}

// Federator is the cross-region federation component. It is not a network
// listener itself: inbound hub subscriptions from other regions are served
// by Router.HandleFederated on the dedicated federation listener, while a
// Federator is the outbound half, consuming from peers as a hub client.
type Federator struct {
	cfg           config.Federation
	hubSubscriber string
	persistence   Persistence
	bus           pubsub.PubSub
	metrics       *metrics.Metrics

	mu      sync.Mutex
	peerIdx int
	subs    map[string]*client.Subscription
}

// New builds a Federator. nodeID distinguishes this node's upstream
// subscriber identity from other nodes in the same cluster subscribing to
// the same peer.
func New(cfg config.Federation, nodeID string, persistence Persistence, bus pubsub.PubSub, m *metrics.Metrics) *Federator {
	return &Federator{
		cfg:           cfg,
		hubSubscriber: cfg.HubSubscriberIDPrefix + nodeID,
		persistence:   persistence,
		bus:           bus,
		metrics:       m,
		subs:          make(map[string]*client.Subscription),
	}
}

// Listeners returns the SubscriptionManager hooks that drive this
// Federator. Callers should only wire these in when cfg.Enabled is true.
func (f *Federator) Listeners() subscription.Listeners {
	return subscription.Listeners{
		OnFirstLocalSubscribe:  f.start,
		OnLastLocalUnsubscribe: f.stop,
	}
}

func (f *Federator) nextPeer() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cfg.Peers) == 0 {
		return "", ErrNoPeers
	}
	peer := f.cfg.Peers[f.peerIdx%len(f.cfg.Peers)]
	f.peerIdx++
	return peer, nil
}

// start subscribes to topic on a peer region and republishes every message
// it delivers into this node's own log. Fired synchronously on the topic's
// serial worker by SubscriptionManager; it must not block on delivery.
func (f *Federator) start(topic string) error {
	peer := ""
	f.mu.Lock()
	_, already := f.subs[topic]
	f.mu.Unlock()
	if already {
		return nil
	}

	peer, err := f.nextPeer()
	if err != nil {
		return err
	}

	c := client.New(peer)
	sub, err := c.Subscribe(context.Background(), topic, f.hubSubscriber, client.SubscribeCreateOrAttach, wire.SubscriptionPreferences{}, f.republish(topic))
	if err != nil {
		return fmt.Errorf("federation: subscribe to peer %q for topic %q: %w", peer, topic, err)
	}

	f.mu.Lock()
	f.subs[topic] = sub
	f.mu.Unlock()
	return nil
}

// stop tears down topic's upstream subscription. Fired synchronously on
// the topic's serial worker once its last local subscriber unsubscribes.
func (f *Federator) stop(topic string) {
	f.mu.Lock()
	sub, ok := f.subs[topic]
	delete(f.subs, topic)
	f.mu.Unlock()
	if !ok {
		return
	}
	_ = sub.Close()
}

func (f *Federator) republish(topic string) client.Handler {
	return func(msg *wire.Message) {
		start := time.Now()
		if _, err := f.persistence.Append(topic, msg.Payload); err != nil {
			return
		}
		if f.bus != nil {
			_ = f.bus.Publish(topic, nil)
		}
		if f.metrics != nil {
			f.metrics.RecordDelivery("federated", time.Since(start).Seconds())
		}
	}
}
