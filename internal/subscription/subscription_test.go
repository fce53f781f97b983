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

package subscription_test

import (
	"context"
	"testing"

	"github.com/fluxbroker/fluxmq/internal/config"
	"github.com/fluxbroker/fluxmq/internal/kv"
	"github.com/fluxbroker/fluxmq/internal/subscription"
	"github.com/fluxbroker/fluxmq/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSeqProvider hands back a fixed tail position, standing in for the
// persistence gateway's CurrentSeqID.
type fakeSeqProvider struct {
	seqID uint64
}

func (f *fakeSeqProvider) CurrentSeqID(string) (uint64, error) {
	return f.seqID, nil
}

func makeManager(t *testing.T, seq subscription.SeqProvider, listeners subscription.Listeners) *subscription.Manager {
	t.Helper()
	store, err := kv.MakeKV(context.Background(), &config.Config{Metadata: config.Metadata{Backend: config.MetadataBackendMemory}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	m := subscription.New(store, seq, nil, "hub:", 10, listeners)
	require.NoError(t, m.AcquireTopic(context.Background(), "orders"))
	t.Cleanup(func() { _ = m.ReleaseTopic(context.Background(), "orders") })
	return m
}

func TestSubscribeCreateSeedsResumePointFromCurrentSeqID(t *testing.T) {
	t.Parallel()
	m := makeManager(t, &fakeSeqProvider{seqID: 42}, subscription.Listeners{})

	data, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
	}, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), data.State.LastConsumedSeqID)
}

func TestSubscribeCreateTwiceIsRejected(t *testing.T) {
	t.Parallel()
	m := makeManager(t, &fakeSeqProvider{seqID: 0}, subscription.Listeners{})

	_, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
	}, false)
	require.NoError(t, err)

	_, err = m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
	}, false)
	assert.ErrorIs(t, err, subscription.ErrAlreadySubscribed)
}

func TestSubscribeAttachWithoutExistingRecordIsRejected(t *testing.T) {
	t.Parallel()
	m := makeManager(t, &fakeSeqProvider{seqID: 0}, subscription.Listeners{})

	_, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeAttach,
		Synchronous:  true,
	}, false)
	assert.ErrorIs(t, err, subscription.ErrNotSubscribed)
}

// TestSubscribeAttachAfterConsumeResumesOnePastLastConsumed verifies the
// resume point returned on reattach is exactly one past whatever was last
// consumed, matching the fresh-CREATE branch's CurrentSeqID-seeded value.
func TestSubscribeAttachAfterConsumeResumesOnePastLastConsumed(t *testing.T) {
	t.Parallel()
	m := makeManager(t, &fakeSeqProvider{seqID: 0}, subscription.Listeners{})

	_, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
	}, false)
	require.NoError(t, err)

	require.NoError(t, m.Consume(context.Background(), "orders", "sub-1", 41))

	data, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreateOrAttach,
		Synchronous:  true,
		ForceAttach:  true,
	}, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), data.State.LastConsumedSeqID, "resume point must be last-consumed + 1, not the raw consume pointer")
}

func TestSubscribeAttachWithoutPreferencesLeavesExistingOnesUntouched(t *testing.T) {
	t.Parallel()
	m := makeManager(t, &fakeSeqProvider{seqID: 0}, subscription.Listeners{})

	_, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
		Preferences:  wire.SubscriptionPreferences{HasBound: true, MessageBound: 100},
	}, false)
	require.NoError(t, err)

	data, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeAttach,
		Synchronous:  false,
	}, false)
	require.NoError(t, err)
	assert.True(t, data.Preferences.HasBound)
	assert.Equal(t, uint64(100), data.Preferences.MessageBound)
}

func TestSubscribeAttachWithNewPreferencesReplacesThemRegardlessOfSynchronous(t *testing.T) {
	t.Parallel()
	m := makeManager(t, &fakeSeqProvider{seqID: 0}, subscription.Listeners{})

	_, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
		Preferences:  wire.SubscriptionPreferences{HasBound: true, MessageBound: 100},
	}, false)
	require.NoError(t, err)

	data, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeAttach,
		Synchronous:  false,
		Preferences:  wire.SubscriptionPreferences{MessageFilter: "region=us"},
	}, false)
	require.NoError(t, err)
	assert.False(t, data.Preferences.HasBound)
	assert.Equal(t, "region=us", data.Preferences.MessageFilter)
}

func TestSubscribeRejectsHubPrefixMismatch(t *testing.T) {
	t.Parallel()
	m := makeManager(t, &fakeSeqProvider{seqID: 0}, subscription.Listeners{})

	_, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "hub:region-2",
		Mode:         wire.SubscribeCreateOrAttach,
	}, false)
	assert.ErrorIs(t, err, subscription.ErrInvalidSubscriberID)

	_, err = m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreateOrAttach,
	}, true)
	assert.ErrorIs(t, err, subscription.ErrInvalidSubscriberID)
}

func TestFirstLocalSubscribeListenerFiresOnce(t *testing.T) {
	t.Parallel()
	fired := 0
	m := makeManager(t, &fakeSeqProvider{seqID: 0}, subscription.Listeners{
		OnFirstLocalSubscribe: func(topic string) error {
			fired++
			return nil
		},
	})

	_, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
	}, false)
	require.NoError(t, err)

	_, err = m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-2",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
	}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, fired, "listener fires only for the first local subscriber, not every subsequent one")
}

func TestConsumeIgnoresStaleSeqID(t *testing.T) {
	t.Parallel()
	m := makeManager(t, &fakeSeqProvider{seqID: 0}, subscription.Listeners{})

	_, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
	}, false)
	require.NoError(t, err)

	require.NoError(t, m.Consume(context.Background(), "orders", "sub-1", 10))
	require.NoError(t, m.Consume(context.Background(), "orders", "sub-1", 3))

	data, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeAttach,
		Synchronous:  true,
		ForceAttach:  true,
	}, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), data.State.LastConsumedSeqID)
}

func TestUnsubscribeRemovesRecordAndFiresLastLocalListener(t *testing.T) {
	t.Parallel()
	lastLocal := 0
	m := makeManager(t, &fakeSeqProvider{seqID: 0}, subscription.Listeners{
		OnLastLocalUnsubscribe: func(topic string) { lastLocal++ },
	})

	_, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
	}, false)
	require.NoError(t, err)

	require.NoError(t, m.Unsubscribe(context.Background(), "orders", "sub-1"))
	assert.Equal(t, 1, lastLocal)

	err = m.Unsubscribe(context.Background(), "orders", "sub-1")
	assert.ErrorIs(t, err, subscription.ErrNotSubscribed)
}

func TestComputeGCHintReturnsMinConsumedAndBoundOnlyWhenAllSubscribersBounded(t *testing.T) {
	t.Parallel()
	m := makeManager(t, &fakeSeqProvider{seqID: 0}, subscription.Listeners{})

	_, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
		Preferences:  wire.SubscriptionPreferences{HasBound: true, MessageBound: 50},
	}, false)
	require.NoError(t, err)
	_, err = m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-2",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
	}, false)
	require.NoError(t, err)

	require.NoError(t, m.Consume(context.Background(), "orders", "sub-1", 20))
	require.NoError(t, m.Consume(context.Background(), "orders", "sub-2", 5))

	hint, ok := m.ComputeGCHint("orders")
	require.True(t, ok)
	assert.Equal(t, uint64(5), hint.ConsumedUntil)
	assert.False(t, hint.HasBound, "sub-2 carries no bound, so the topic-wide hint cannot be bounded")

	require.NoError(t, m.Unsubscribe(context.Background(), "orders", "sub-2"))
	hint, ok = m.ComputeGCHint("orders")
	require.True(t, ok)
	assert.Equal(t, uint64(20), hint.ConsumedUntil)
	assert.True(t, hint.HasBound)
	assert.Equal(t, uint64(50), hint.Bound)
}

func TestSubscribersAndOwnedTopics(t *testing.T) {
	t.Parallel()
	m := makeManager(t, &fakeSeqProvider{seqID: 0}, subscription.Listeners{})

	_, err := m.Subscribe(context.Background(), "orders", &wire.SubscribeRequest{
		SubscriberID: "sub-1",
		Mode:         wire.SubscribeCreate,
		Synchronous:  true,
	}, false)
	require.NoError(t, err)

	assert.Contains(t, m.Subscribers("orders"), "sub-1")
	assert.Contains(t, m.OwnedTopics(), "orders")
}
