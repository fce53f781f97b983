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

package wire_test

import (
	"bytes"
	"testing"

	"github.com/fluxbroker/fluxmq/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRequestRoundTrip(t *testing.T) {
	t.Parallel()
	req := &wire.PubSubRequest{
		ProtocolVersion: wire.ProtocolVersion,
		OpType:          wire.OpPublish,
		Topic:           "orders",
		TxnID:           "txn-1",
		Publish:         &wire.PublishRequest{Payload: []byte("hello world")},
	}

	encoded, err := req.MarshalMsg(nil)
	require.NoError(t, err)

	decoded := &wire.PubSubRequest{}
	_, err = decoded.UnmarshalMsg(encoded)
	require.NoError(t, err)

	assert.Equal(t, req.Topic, decoded.Topic)
	assert.Equal(t, req.TxnID, decoded.TxnID)
	assert.Equal(t, wire.OpPublish, decoded.OpType)
	require.NotNil(t, decoded.Publish)
	assert.Equal(t, []byte("hello world"), decoded.Publish.Payload)
}

func TestSubscribeRequestRoundTrip(t *testing.T) {
	t.Parallel()
	req := &wire.PubSubRequest{
		ProtocolVersion: wire.ProtocolVersion,
		OpType:          wire.OpSubscribe,
		Topic:           "orders",
		TxnID:           "txn-2",
		ShouldClaim:     true,
		TriedServers:    []string{"node-a:7000:7443", "node-b:7000:7443"},
		Subscribe: &wire.SubscribeRequest{
			SubscriberID: "worker-1",
			Mode:         wire.SubscribeCreateOrAttach,
			Synchronous:  true,
			Preferences: wire.SubscriptionPreferences{
				HasBound:      true,
				MessageBound:  100,
				MessageFilter: "priority > 5",
				Options:       map[string]string{"region": "us-east"},
			},
		},
	}

	encoded, err := req.MarshalMsg(nil)
	require.NoError(t, err)

	decoded := &wire.PubSubRequest{}
	_, err = decoded.UnmarshalMsg(encoded)
	require.NoError(t, err)

	require.NotNil(t, decoded.Subscribe)
	assert.Equal(t, "worker-1", decoded.Subscribe.SubscriberID)
	assert.Equal(t, wire.SubscribeCreateOrAttach, decoded.Subscribe.Mode)
	assert.True(t, decoded.Subscribe.Synchronous)
	assert.True(t, decoded.Subscribe.Preferences.HasBound)
	assert.Equal(t, uint64(100), decoded.Subscribe.Preferences.MessageBound)
	assert.Equal(t, "us-east", decoded.Subscribe.Preferences.Options["region"])
	assert.Equal(t, []string{"node-a:7000:7443", "node-b:7000:7443"}, decoded.TriedServers)
}

func TestPubSubResponseRoundTrip(t *testing.T) {
	t.Parallel()
	resp := &wire.PubSubResponse{
		ProtocolVersion: wire.ProtocolVersion,
		StatusCode:      wire.StatusSuccess,
		TxnID:           "txn-3",
		Messages: []*wire.Message{
			{SeqID: 1, Payload: []byte("a")},
			{SeqID: 2, Payload: []byte("b")},
		},
	}

	encoded, err := resp.MarshalMsg(nil)
	require.NoError(t, err)

	decoded := &wire.PubSubResponse{}
	_, err = decoded.UnmarshalMsg(encoded)
	require.NoError(t, err)

	assert.Equal(t, wire.StatusSuccess, decoded.StatusCode)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, uint64(1), decoded.Messages[0].SeqID)
	assert.Equal(t, []byte("b"), decoded.Messages[1].Payload)
}

func TestNotResponsibleResponseRoundTrip(t *testing.T) {
	t.Parallel()
	resp := &wire.PubSubResponse{
		ProtocolVersion: wire.ProtocolVersion,
		StatusCode:      wire.StatusNotResponsibleForTopic,
		StatusMsg:       "node-b:7000:7443",
		TxnID:           "txn-4",
	}

	encoded, err := resp.MarshalMsg(nil)
	require.NoError(t, err)

	decoded := &wire.PubSubResponse{}
	_, err = decoded.UnmarshalMsg(encoded)
	require.NoError(t, err)

	assert.Equal(t, wire.StatusNotResponsibleForTopic, decoded.StatusCode)
	assert.Equal(t, "node-b:7000:7443", decoded.StatusMsg)
	assert.Empty(t, decoded.Messages)
}

func TestSubscriptionDataRoundTrip(t *testing.T) {
	t.Parallel()
	data := wire.SubscriptionData{
		State: wire.SubscriptionState{LastConsumedSeqID: 42},
		Preferences: wire.SubscriptionPreferences{
			HasBound:     true,
			MessageBound: 10,
			Options:      map[string]string{},
		},
	}

	encoded, err := data.MarshalMsg(nil)
	require.NoError(t, err)

	var decoded wire.SubscriptionData
	_, err = decoded.UnmarshalMsg(encoded)
	require.NoError(t, err)

	assert.Equal(t, uint64(42), decoded.State.LastConsumedSeqID)
	assert.Equal(t, uint64(10), decoded.Preferences.MessageBound)
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	req := &wire.PubSubRequest{
		ProtocolVersion: wire.ProtocolVersion,
		OpType:          wire.OpUnsubscribe,
		Topic:           "orders",
		TxnID:           "txn-5",
		Unsubscribe:     &wire.UnsubscribeRequest{SubscriberID: "worker-1"},
	}

	var buf bytes.Buffer
	require.NoError(t, wire.WriteRequest(&buf, req))

	decoded, err := wire.ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, wire.OpUnsubscribe, decoded.OpType)
	require.NotNil(t, decoded.Unsubscribe)
	assert.Equal(t, "worker-1", decoded.Unsubscribe.SubscriberID)
}

func TestFrameRoundTripResponse(t *testing.T) {
	t.Parallel()
	resp := &wire.PubSubResponse{
		ProtocolVersion: wire.ProtocolVersion,
		StatusCode:      wire.StatusTopicBusy,
		TxnID:           "txn-6",
	}

	var buf bytes.Buffer
	require.NoError(t, wire.WriteResponse(&buf, resp))

	decoded, err := wire.ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusTopicBusy, decoded.StatusCode)
}

func TestReadFrameRejectsOversized(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	lenBuf[0] = 0xff
	lenBuf[1] = 0xff
	lenBuf[2] = 0xff
	lenBuf[3] = 0xff
	buf.Write(lenBuf)

	_, err := wire.ReadFrame(&buf)
	require.Error(t, err)
}
