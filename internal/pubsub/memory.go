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

package pubsub

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// notifyBuffer bounds how many pending tail-advance notices a subscriber
// channel holds before Publish starts dropping for that subscriber. A
// dropped notice only delays a poll of the persisted log, it never loses
// data, so Publish never blocks on a slow subscriber.
const notifyBuffer = 8

func makeInMemoryPubSub() PubSub {
	return &inMemoryPubSub{
		topics: xsync.NewMap[string, *topicFanout](),
	}
}

type topicFanout struct {
	mu   sync.Mutex
	subs map[int]chan []byte
	next int
}

type inMemoryPubSub struct {
	topics *xsync.Map[string, *topicFanout]
}

func (ps *inMemoryPubSub) fanoutFor(topic string) *topicFanout {
	f, _ := ps.topics.Compute(topic, func(existing *topicFanout, loaded bool) (*topicFanout, bool) {
		if loaded {
			return existing, false
		}
		return &topicFanout{subs: make(map[int]chan []byte)}, false
	})
	return f
}

func (ps *inMemoryPubSub) Publish(topic string, message []byte) error {
	f, ok := ps.topics.Load(topic)
	if !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- message:
		default:
			// Slow subscriber; the persisted log remains the source of truth.
		}
	}
	return nil
}

func (ps *inMemoryPubSub) Subscribe(topic string) Subscription {
	f := ps.fanoutFor(topic)
	ch := make(chan []byte, notifyBuffer)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	return &inMemorySubscription{fanout: f, id: id, ch: ch}
}

func (ps *inMemoryPubSub) Close() error {
	return nil
}

type inMemorySubscription struct {
	fanout *topicFanout
	id     int
	ch     chan []byte

	closeOnce sync.Once
}

func (s *inMemorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.fanout.mu.Lock()
		delete(s.fanout.subs, s.id)
		s.fanout.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func (s *inMemorySubscription) Channel() <-chan []byte {
	return s.ch
}
