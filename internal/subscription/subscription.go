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

// Package subscription implements the SubscriptionManager: per-topic
// subscriber state, attach/create semantics, lazy consume-pointer
// persistence, and the derived message-bound/consumed-until GC hints fed to
// the PersistenceGateway.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fluxbroker/fluxmq/internal/kv"
	"github.com/fluxbroker/fluxmq/internal/metrics"
	"github.com/fluxbroker/fluxmq/internal/wire"
	"github.com/puzpuzpuz/xsync/v4"
)

const subscriptionKeyPrefix = "sub/"

var (
	// ErrAlreadySubscribed is returned by Subscribe when mode is CREATE and
	// a subscription record already exists for the subscriber.
	ErrAlreadySubscribed = errors.New("subscriber already subscribed")
	// ErrNotSubscribed is returned by Subscribe when mode is ATTACH and no
	// subscription record exists for the subscriber.
	ErrNotSubscribed = errors.New("subscriber not subscribed")
	// ErrInvalidSubscriberID is returned when a subscriber id uses the
	// hub-reserved prefix from the non-hub path or vice versa.
	ErrInvalidSubscriberID = errors.New("subscriber id violates hub/local namespace rule")
	// ErrTopicNotAcquired is returned by any operation invoked before
	// AcquireTopic has completed for the topic.
	ErrTopicNotAcquired = errors.New("topic not acquired by this node")
)

// SeqProvider supplies the persistence layer's current tail position, used
// to seed a newly-created subscription's consume pointer.
type SeqProvider interface {
	CurrentSeqID(topic string) (uint64, error)
}

// Listeners are fired as first-local-subscribe / last-local-unsubscribe
// barriers, used by the cross-region federator to start or stop an
// upstream hub subscription. A non-nil error from OnFirstLocalSubscribe
// rolls back the subscribe that triggered it.
type Listeners struct {
	OnFirstLocalSubscribe func(topic string) error
	OnLastLocalUnsubscribe func(topic string)
}

type subscriberState struct {
	isHub              bool
	lastConsumedSeqID  uint64
	lastPersistedSeqID uint64
	preferences        wire.SubscriptionPreferences
	dirty              bool
}

type topicState struct {
	subscribers map[string]*subscriberState
	localCount  int
	localJobs   chan func()
	hubJobs     chan func()
	cancel      context.CancelFunc
}

// Manager is the SubscriptionManager.
type Manager struct {
	kvStore           kv.KV
	seq               SeqProvider
	metrics           *metrics.Metrics
	listeners         Listeners
	hubPrefix         string
	consumeInterval   uint64

	topics *xsync.Map[string, *topicState]
}

// New builds a Manager. hubSubscriberIDPrefix distinguishes hub from local
// subscriber ids; consumeInterval is the distance in SeqIDs a subscriber's
// consume pointer may drift before it is flushed to the metadata store.
func New(kvStore kv.KV, seq SeqProvider, m *metrics.Metrics, hubSubscriberIDPrefix string, consumeInterval uint64, listeners Listeners) *Manager {
	return &Manager{
		kvStore:         kvStore,
		seq:             seq,
		metrics:         m,
		listeners:       listeners,
		hubPrefix:       hubSubscriberIDPrefix,
		consumeInterval: consumeInterval,
		topics:          xsync.NewMap[string, *topicState](),
	}
}

func (m *Manager) isHub(subscriberID string) bool {
	return m.hubPrefix != "" && strings.HasPrefix(subscriberID, m.hubPrefix)
}

func subscriptionKey(topic, subscriberID string) string {
	return subscriptionKeyPrefix + topic + "/" + subscriberID
}

// hasPreferences reports whether p carries anything beyond its zero value,
// i.e. whether a SubscribeRequest actually asked to change a subscriber's
// preferences rather than just leaving the field unset.
func hasPreferences(p wire.SubscriptionPreferences) bool {
	return p.HasBound || p.MessageFilter != "" || len(p.Options) > 0
}

// run submits fn to topic's serial worker and blocks for its completion.
// Local-subscriber operations are given a dedicated channel from hub
// operations so that slow cross-region work enqueued on the hub channel
// never delays a local subscribe/unsubscribe from being picked up, even
// though both still execute one at a time against the same in-memory map.
func (m *Manager) run(topic string, hub bool, fn func()) error {
	ts, ok := m.topics.Load(topic)
	if !ok {
		return ErrTopicNotAcquired
	}
	done := make(chan struct{})
	job := func() {
		fn()
		close(done)
	}
	if hub {
		ts.hubJobs <- job
	} else {
		ts.localJobs <- job
	}
	<-done
	return nil
}

func worker(ts *topicState, ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-ts.localJobs:
			job()
		default:
			select {
			case <-ctx.Done():
				return
			case job := <-ts.localJobs:
				job()
			case job := <-ts.hubJobs:
				job()
			}
		}
	}
}

// AcquireTopic loads every persisted subscription record for topic into an
// in-memory map and starts its serial worker. If any loaded subscriber is
// local, OnFirstLocalSubscribe fires before AcquireTopic returns.
func (m *Manager) AcquireTopic(ctx context.Context, topic string) error {
	var keys []string
	var cursor uint64
	for {
		page, next, err := m.kvStore.Scan(ctx, cursor, subscriptionKey(topic, "")+"*", 0)
		if err != nil {
			return fmt.Errorf("failed to scan subscriptions for topic %q: %w", topic, err)
		}
		keys = append(keys, page...)
		if next == 0 {
			break
		}
		cursor = next
	}

	subscribers := make(map[string]*subscriberState, len(keys))
	localCount := 0
	prefix := subscriptionKey(topic, "")
	for _, key := range keys {
		subscriberID := strings.TrimPrefix(key, prefix)
		raw, err := m.kvStore.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load subscription %q: %w", key, err)
		}
		var data wire.SubscriptionData
		if _, err := data.UnmarshalMsg(raw); err != nil {
			return fmt.Errorf("failed to decode subscription %q: %w", key, err)
		}
		hub := m.isHub(subscriberID)
		if !hub {
			localCount++
		}
		subscribers[subscriberID] = &subscriberState{
			isHub:              hub,
			lastConsumedSeqID:  data.State.LastConsumedSeqID,
			lastPersistedSeqID: data.State.LastConsumedSeqID,
			preferences:        data.Preferences,
		}
	}

	workerCtx, cancel := context.WithCancel(ctx)
	ts := &topicState{
		subscribers: subscribers,
		localCount:  localCount,
		localJobs:   make(chan func(), 64),
		hubJobs:     make(chan func(), 64),
		cancel:      cancel,
	}
	m.topics.Store(topic, ts)
	go worker(ts, workerCtx)

	if localCount > 0 && m.listeners.OnFirstLocalSubscribe != nil {
		if err := m.listeners.OnFirstLocalSubscribe(topic); err != nil {
			m.topics.Delete(topic)
			cancel()
			return fmt.Errorf("first-local-subscribe listener failed for topic %q: %w", topic, err)
		}
	}
	return nil
}

// ReleaseTopic flushes dirty consume pointers, stops the topic's worker and
// removes its in-memory state, firing OnLastLocalUnsubscribe if the topic
// had any local subscriber.
func (m *Manager) ReleaseTopic(ctx context.Context, topic string) error {
	ts, ok := m.topics.LoadAndDelete(topic)
	if !ok {
		return nil
	}
	defer ts.cancel()

	var firstErr error
	for subscriberID, state := range ts.subscribers {
		if !state.dirty {
			continue
		}
		if err := m.persist(ctx, topic, subscriberID, state); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if ts.localCount > 0 && m.listeners.OnLastLocalUnsubscribe != nil {
		m.listeners.OnLastLocalUnsubscribe(topic)
	}
	return firstErr
}

func (m *Manager) persist(ctx context.Context, topic, subscriberID string, state *subscriberState) error {
	data := wire.SubscriptionData{
		State:       wire.SubscriptionState{LastConsumedSeqID: state.lastConsumedSeqID},
		Preferences: state.preferences,
	}
	encoded, err := data.MarshalMsg(nil)
	if err != nil {
		return fmt.Errorf("failed to encode subscription %q/%q: %w", topic, subscriberID, err)
	}
	if err := m.kvStore.Set(ctx, subscriptionKey(topic, subscriberID), encoded); err != nil {
		return fmt.Errorf("failed to persist subscription %q/%q: %w", topic, subscriberID, err)
	}
	state.lastPersistedSeqID = state.lastConsumedSeqID
	state.dirty = false
	if m.metrics != nil {
		m.metrics.RecordConsumePointerFlush()
	}
	return nil
}

// Subscribe implements create/attach/create-or-attach semantics for a
// subscriber joining a topic. isHubCaller identifies which namespace the
// caller belongs to: the public router always passes false (local clients
// may never use the hub-reserved prefix), while the federation package
// passes true for the upstream subscriptions it maintains. A mismatch
// between isHubCaller and the prefix actually carried by req.SubscriberID
// is rejected regardless of mode. On success it returns the resulting
// SubscriptionData, whose State.LastConsumedSeqID is the SeqID delivery
// resumes from (inclusive): the topic's current tail for a new subscriber,
// one past the last consumed SeqID for an existing one. An existing
// subscriber's preferences are only
// replaced when req.Preferences actually carries a non-zero value; a bare
// reattach with a zero-value Preferences leaves the stored ones untouched.
func (m *Manager) Subscribe(ctx context.Context, topic string, req *wire.SubscribeRequest, isHubCaller bool) (*wire.SubscriptionData, error) {
	hub := m.isHub(req.SubscriberID)
	if hub != isHubCaller {
		return nil, ErrInvalidSubscriberID
	}

	var result *wire.SubscriptionData
	var opErr error

	err := m.run(topic, hub, func() {
		ts, _ := m.topics.Load(topic)
		existing, ok := ts.subscribers[req.SubscriberID]

		switch {
		case ok && req.Mode == wire.SubscribeCreate:
			opErr = ErrAlreadySubscribed
			return
		case ok:
			if hasPreferences(req.Preferences) {
				existing.preferences = req.Preferences
				if req.Synchronous {
					if err := m.persist(ctx, topic, req.SubscriberID, existing); err != nil {
						opErr = err
					}
				}
			}
			result = &wire.SubscriptionData{
				State:       wire.SubscriptionState{LastConsumedSeqID: existing.lastConsumedSeqID + 1},
				Preferences: existing.preferences,
			}
			return
		case req.Mode == wire.SubscribeAttach:
			opErr = ErrNotSubscribed
			return
		}

		startSeq, err := m.seq.CurrentSeqID(topic)
		if err != nil {
			opErr = fmt.Errorf("failed to read current seq id for topic %q: %w", topic, err)
			return
		}

		state := &subscriberState{
			isHub:             hub,
			lastConsumedSeqID: startSeq,
			preferences:       req.Preferences,
		}
		if err := m.persist(ctx, topic, req.SubscriberID, state); err != nil {
			opErr = err
			return
		}

		wasFirstLocal := !hub && ts.localCount == 0
		ts.subscribers[req.SubscriberID] = state
		if !hub {
			ts.localCount++
		}

		if wasFirstLocal && req.Synchronous && m.listeners.OnFirstLocalSubscribe != nil {
			if err := m.listeners.OnFirstLocalSubscribe(topic); err != nil {
				delete(ts.subscribers, req.SubscriberID)
				if !hub {
					ts.localCount--
				}
				_ = m.kvStore.Delete(ctx, subscriptionKey(topic, req.SubscriberID))
				opErr = fmt.Errorf("first-local-subscribe listener failed: %w", err)
				return
			}
		}

		result = &wire.SubscriptionData{
			State:       wire.SubscriptionState{LastConsumedSeqID: startSeq},
			Preferences: req.Preferences,
		}
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return result, nil
}

// Consume advances subscriberID's in-memory consume pointer on topic if
// seqID is newer, flushing to the metadata store only once the pointer has
// drifted past consumeInterval since the last flush.
func (m *Manager) Consume(ctx context.Context, topic, subscriberID string, seqID uint64) error {
	hub := m.isHub(subscriberID)
	var opErr error
	err := m.run(topic, hub, func() {
		ts, _ := m.topics.Load(topic)
		state, ok := ts.subscribers[subscriberID]
		if !ok {
			opErr = ErrNotSubscribed
			return
		}
		if seqID <= state.lastConsumedSeqID {
			return
		}
		state.lastConsumedSeqID = seqID
		state.dirty = true
		if seqID-state.lastPersistedSeqID > m.consumeInterval {
			if err := m.persist(ctx, topic, subscriberID, state); err != nil {
				opErr = err
			}
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// Unsubscribe deletes subscriberID's persisted record and in-memory state,
// firing OnLastLocalUnsubscribe if it was the last local subscriber.
func (m *Manager) Unsubscribe(ctx context.Context, topic, subscriberID string) error {
	hub := m.isHub(subscriberID)
	var opErr error
	err := m.run(topic, hub, func() {
		ts, _ := m.topics.Load(topic)
		state, ok := ts.subscribers[subscriberID]
		if !ok {
			opErr = ErrNotSubscribed
			return
		}
		if err := m.kvStore.Delete(ctx, subscriptionKey(topic, subscriberID)); err != nil {
			opErr = fmt.Errorf("failed to delete subscription %q/%q: %w", topic, subscriberID, err)
			return
		}
		delete(ts.subscribers, subscriberID)
		wasLastLocal := false
		if !state.isHub {
			ts.localCount--
			wasLastLocal = ts.localCount == 0
		}
		if wasLastLocal && m.listeners.OnLastLocalUnsubscribe != nil {
			m.listeners.OnLastLocalUnsubscribe(topic)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// GCHint is the derived state a periodic timer feeds to the
// PersistenceGateway's consumedUntil/setMessageBound/clearMessageBound.
type GCHint struct {
	ConsumedUntil uint64
	HasBound      bool
	Bound         uint64
}

// ComputeGCHint returns the minimum consume pointer across topic's
// subscribers and, if every subscriber has a message bound, their maximum.
func (m *Manager) ComputeGCHint(topic string) (GCHint, bool) {
	ts, ok := m.topics.Load(topic)
	if !ok || len(ts.subscribers) == 0 {
		return GCHint{}, false
	}

	var hint GCHint
	first := true
	allBounded := true
	for _, state := range ts.subscribers {
		if first {
			hint.ConsumedUntil = state.lastConsumedSeqID
			first = false
		} else if state.lastConsumedSeqID < hint.ConsumedUntil {
			hint.ConsumedUntil = state.lastConsumedSeqID
		}
		if !state.preferences.HasBound {
			allBounded = false
			continue
		}
		if state.preferences.MessageBound > hint.Bound {
			hint.Bound = state.preferences.MessageBound
		}
	}
	hint.HasBound = allBounded
	return hint, true
}

// OwnedTopics returns the topics currently acquired by this node.
func (m *Manager) OwnedTopics() []string {
	topics := make([]string, 0)
	m.topics.Range(func(topic string, _ *topicState) bool {
		topics = append(topics, topic)
		return true
	})
	return topics
}

// Subscribers returns the subscriber ids currently known for topic.
func (m *Manager) Subscribers(topic string) []string {
	ts, ok := m.topics.Load(topic)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ts.subscribers))
	for id := range ts.subscribers {
		out = append(out, id)
	}
	return out
}
