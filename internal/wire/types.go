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

// Package wire defines the broker's on-the-wire request/response types and
// their length-prefixed framing. Every type that crosses the wire or is
// persisted to the metadata store carries a go:generate msgp directive and
// hand-maintained MarshalMsg/UnmarshalMsg/Msgsize methods built on the
// tinylib/msgp runtime, in place of a literal protocol-buffer codec (see
// DESIGN.md).
package wire

// ProtocolVersion is bumped whenever the wire format changes incompatibly.
const ProtocolVersion uint8 = 1

// OperationType tags the oneof carried by a PubSubRequest.
type OperationType uint8

const (
	OpPublish OperationType = iota
	OpSubscribe
	OpUnsubscribe
	OpConsume
)

// StatusCode is the result code carried by a PubSubResponse.
type StatusCode uint8

const (
	StatusSuccess StatusCode = iota
	StatusNotResponsibleForTopic
	StatusClientAlreadySubscribed
	StatusClientNotSubscribed
	StatusTopicBusy
	StatusServiceDown
	StatusMalformedRequest
	StatusUncertainState
	StatusInvalidMessageFilter
	StatusInvalidSubscriberID
)

// SubscribeMode controls subscribe() semantics when a subscription record
// for the (topic, subscriberId) pair already exists.
type SubscribeMode uint8

const (
	SubscribeCreate SubscribeMode = iota
	SubscribeAttach
	SubscribeCreateOrAttach
)

//go:generate msgp

// SubscriptionPreferences carries the optional per-subscriber delivery
// constraints set on subscribe and merged on re-subscribe.
type SubscriptionPreferences struct {
	MessageBound  uint64            `msg:"message_bound"`
	HasBound      bool              `msg:"has_bound"`
	MessageFilter string            `msg:"message_filter"`
	Options       map[string]string `msg:"options"`
}

//go:generate msgp

// PublishRequest carries a single message payload to append to a topic.
type PublishRequest struct {
	Payload []byte `msg:"payload"`
}

//go:generate msgp

// SubscribeRequest asks to attach or create a subscription.
type SubscribeRequest struct {
	SubscriberID string                  `msg:"subscriber_id"`
	Mode         SubscribeMode           `msg:"mode"`
	Synchronous  bool                    `msg:"synchronous"`
	ForceAttach  bool                    `msg:"force_attach"`
	Preferences  SubscriptionPreferences `msg:"preferences"`
}

//go:generate msgp

// UnsubscribeRequest terminates a subscription.
type UnsubscribeRequest struct {
	SubscriberID string `msg:"subscriber_id"`
}

//go:generate msgp

// ConsumeRequest advances a subscriber's consume pointer. Fire-and-forget:
// no PubSubResponse is ever sent for it.
type ConsumeRequest struct {
	SubscriberID string `msg:"subscriber_id"`
	SeqID        uint64 `msg:"seq_id"`
}

//go:generate msgp

// PubSubRequest is the single envelope type carried over the wire, with
// exactly one of the typed Request fields populated per OpType.
type PubSubRequest struct {
	ProtocolVersion uint8         `msg:"protocol_version"`
	OpType          OperationType `msg:"op_type"`
	Topic           string        `msg:"topic"`
	TxnID           string        `msg:"txn_id"`
	ShouldClaim     bool          `msg:"should_claim"`
	TriedServers    []string      `msg:"tried_servers"`

	Publish     *PublishRequest     `msg:"publish,omitempty"`
	Subscribe   *SubscribeRequest   `msg:"subscribe,omitempty"`
	Unsubscribe *UnsubscribeRequest `msg:"unsubscribe,omitempty"`
	Consume     *ConsumeRequest     `msg:"consume,omitempty"`
}

//go:generate msgp

// Message is a single delivered wire record.
type Message struct {
	SeqID   uint64 `msg:"seq_id"`
	Payload []byte `msg:"payload"`
}

//go:generate msgp

// PubSubResponse is the single envelope type returned for every request
// except ConsumeRequest, which produces no reply.
type PubSubResponse struct {
	ProtocolVersion uint8      `msg:"protocol_version"`
	StatusCode      StatusCode `msg:"status_code"`
	StatusMsg       string     `msg:"status_msg"`
	TxnID           string     `msg:"txn_id"`

	SeqID    uint64     `msg:"seq_id,omitempty"`
	Messages []*Message `msg:"messages,omitempty"`
}

//go:generate msgp

// SubscriptionState is the persisted consume-pointer half of a
// SubscriptionData record.
type SubscriptionState struct {
	LastConsumedSeqID uint64 `msg:"last_consumed_seq_id"`
}

//go:generate msgp

// SubscriptionData is the opaque record stored under a metadata-store key
// derived from (topic, subscriberId).
type SubscriptionData struct {
	State       SubscriptionState       `msg:"state"`
	Preferences SubscriptionPreferences `msg:"preferences"`
}
