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

// Package wire hand-maintained msgp marshal/unmarshal/size methods, written
// in place of the generated _gen.go the msgp tool would normally produce
// from the go:generate directives in types.go.
package wire

import (
	"github.com/tinylib/msgp/msgp"
)

// MarshalMsg implements msgp.Marshaler.
func (z SubscriptionPreferences) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 4)
	o = msgp.AppendString(o, "message_bound")
	o = msgp.AppendUint64(o, z.MessageBound)
	o = msgp.AppendString(o, "has_bound")
	o = msgp.AppendBool(o, z.HasBound)
	o = msgp.AppendString(o, "message_filter")
	o = msgp.AppendString(o, z.MessageFilter)
	o = msgp.AppendString(o, "options")
	o = msgp.AppendMapHeader(o, uint32(len(z.Options)))
	for k, v := range z.Options {
		o = msgp.AppendString(o, k)
		o = msgp.AppendString(o, v)
	}
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *SubscriptionPreferences) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "message_bound":
			z.MessageBound, bts, err = msgp.ReadUint64Bytes(bts)
		case "has_bound":
			z.HasBound, bts, err = msgp.ReadBoolBytes(bts)
		case "message_filter":
			z.MessageFilter, bts, err = msgp.ReadStringBytes(bts)
		case "options":
			var msz uint32
			msz, bts, err = msgp.ReadMapHeaderBytes(bts)
			if err != nil {
				return bts, err
			}
			z.Options = make(map[string]string, msz)
			for j := uint32(0); j < msz; j++ {
				var k, v string
				k, bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, err
				}
				v, bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, err
				}
				z.Options[k] = v
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

// Msgsize returns an upper bound estimate of the encoded size.
func (z SubscriptionPreferences) Msgsize() int {
	s := 1 + 14 + msgp.Uint64Size + 10 + msgp.BoolSize + 15 + msgp.StringPrefixSize + len(z.MessageFilter) + 8
	for k, v := range z.Options {
		s += msgp.StringPrefixSize + len(k) + msgp.StringPrefixSize + len(v)
	}
	return s
}

// MarshalMsg implements msgp.Marshaler.
func (z PublishRequest) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 1)
	o = msgp.AppendString(o, "payload")
	o = msgp.AppendBytes(o, z.Payload)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *PublishRequest) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "payload":
			z.Payload, bts, err = msgp.ReadBytesBytes(bts, z.Payload)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

func (z PublishRequest) Msgsize() int {
	return 1 + 8 + msgp.BytesPrefixSize + len(z.Payload)
}

// MarshalMsg implements msgp.Marshaler.
func (z SubscribeRequest) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 5)
	o = msgp.AppendString(o, "subscriber_id")
	o = msgp.AppendString(o, z.SubscriberID)
	o = msgp.AppendString(o, "mode")
	o = msgp.AppendUint8(o, uint8(z.Mode))
	o = msgp.AppendString(o, "synchronous")
	o = msgp.AppendBool(o, z.Synchronous)
	o = msgp.AppendString(o, "force_attach")
	o = msgp.AppendBool(o, z.ForceAttach)
	o = msgp.AppendString(o, "preferences")
	o, _ = z.Preferences.MarshalMsg(o)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *SubscribeRequest) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "subscriber_id":
			z.SubscriberID, bts, err = msgp.ReadStringBytes(bts)
		case "mode":
			var m uint8
			m, bts, err = msgp.ReadUint8Bytes(bts)
			z.Mode = SubscribeMode(m)
		case "synchronous":
			z.Synchronous, bts, err = msgp.ReadBoolBytes(bts)
		case "force_attach":
			z.ForceAttach, bts, err = msgp.ReadBoolBytes(bts)
		case "preferences":
			bts, err = z.Preferences.UnmarshalMsg(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

func (z SubscribeRequest) Msgsize() int {
	return 1 + 14 + msgp.StringPrefixSize + len(z.SubscriberID) + 5 + msgp.Uint8Size +
		12 + msgp.BoolSize + 13 + msgp.BoolSize + 12 + z.Preferences.Msgsize()
}

// MarshalMsg implements msgp.Marshaler.
func (z UnsubscribeRequest) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 1)
	o = msgp.AppendString(o, "subscriber_id")
	o = msgp.AppendString(o, z.SubscriberID)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *UnsubscribeRequest) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "subscriber_id":
			z.SubscriberID, bts, err = msgp.ReadStringBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

func (z UnsubscribeRequest) Msgsize() int {
	return 1 + 14 + msgp.StringPrefixSize + len(z.SubscriberID)
}

// MarshalMsg implements msgp.Marshaler.
func (z ConsumeRequest) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 2)
	o = msgp.AppendString(o, "subscriber_id")
	o = msgp.AppendString(o, z.SubscriberID)
	o = msgp.AppendString(o, "seq_id")
	o = msgp.AppendUint64(o, z.SeqID)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *ConsumeRequest) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "subscriber_id":
			z.SubscriberID, bts, err = msgp.ReadStringBytes(bts)
		case "seq_id":
			z.SeqID, bts, err = msgp.ReadUint64Bytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

func (z ConsumeRequest) Msgsize() int {
	return 1 + 14 + msgp.StringPrefixSize + len(z.SubscriberID) + 7 + msgp.Uint64Size
}

// MarshalMsg implements msgp.Marshaler.
func (z *PubSubRequest) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 6)
	o = msgp.AppendString(o, "protocol_version")
	o = msgp.AppendUint8(o, z.ProtocolVersion)
	o = msgp.AppendString(o, "op_type")
	o = msgp.AppendUint8(o, uint8(z.OpType))
	o = msgp.AppendString(o, "topic")
	o = msgp.AppendString(o, z.Topic)
	o = msgp.AppendString(o, "txn_id")
	o = msgp.AppendString(o, z.TxnID)
	o = msgp.AppendString(o, "should_claim")
	o = msgp.AppendBool(o, z.ShouldClaim)
	o = msgp.AppendString(o, "tried_servers")
	o = msgp.AppendArrayHeader(o, uint32(len(z.TriedServers)))
	for _, s := range z.TriedServers {
		o = msgp.AppendString(o, s)
	}

	switch z.OpType {
	case OpPublish:
		if z.Publish != nil {
			o = msgp.AppendString(o, "body")
			o, _ = z.Publish.MarshalMsg(o)
		}
	case OpSubscribe:
		if z.Subscribe != nil {
			o = msgp.AppendString(o, "body")
			o, _ = z.Subscribe.MarshalMsg(o)
		}
	case OpUnsubscribe:
		if z.Unsubscribe != nil {
			o = msgp.AppendString(o, "body")
			o, _ = z.Unsubscribe.MarshalMsg(o)
		}
	case OpConsume:
		if z.Consume != nil {
			o = msgp.AppendString(o, "body")
			o, _ = z.Consume.MarshalMsg(o)
		}
	}
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler. The "body" field's type is
// resolved from OpType, which must decode before "body" appears on the
// wire (true for every encoder in this package, since MarshalMsg always
// writes op_type first).
func (z *PubSubRequest) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "protocol_version":
			z.ProtocolVersion, bts, err = msgp.ReadUint8Bytes(bts)
		case "op_type":
			var t uint8
			t, bts, err = msgp.ReadUint8Bytes(bts)
			z.OpType = OperationType(t)
		case "topic":
			z.Topic, bts, err = msgp.ReadStringBytes(bts)
		case "txn_id":
			z.TxnID, bts, err = msgp.ReadStringBytes(bts)
		case "should_claim":
			z.ShouldClaim, bts, err = msgp.ReadBoolBytes(bts)
		case "tried_servers":
			var asz uint32
			asz, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return bts, err
			}
			z.TriedServers = make([]string, asz)
			for j := range z.TriedServers {
				z.TriedServers[j], bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return bts, err
				}
			}
		case "body":
			switch z.OpType {
			case OpPublish:
				z.Publish = &PublishRequest{}
				bts, err = z.Publish.UnmarshalMsg(bts)
			case OpSubscribe:
				z.Subscribe = &SubscribeRequest{}
				bts, err = z.Subscribe.UnmarshalMsg(bts)
			case OpUnsubscribe:
				z.Unsubscribe = &UnsubscribeRequest{}
				bts, err = z.Unsubscribe.UnmarshalMsg(bts)
			case OpConsume:
				z.Consume = &ConsumeRequest{}
				bts, err = z.Consume.UnmarshalMsg(bts)
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

func (z *PubSubRequest) Msgsize() int {
	s := 1 + 17 + msgp.Uint8Size + 8 + msgp.Uint8Size + 6 + msgp.StringPrefixSize + len(z.Topic) +
		7 + msgp.StringPrefixSize + len(z.TxnID) + 13 + msgp.BoolSize + 14 + msgp.ArrayHeaderSize
	for _, t := range z.TriedServers {
		s += msgp.StringPrefixSize + len(t)
	}
	return s
}

// MarshalMsg implements msgp.Marshaler.
func (z Message) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 2)
	o = msgp.AppendString(o, "seq_id")
	o = msgp.AppendUint64(o, z.SeqID)
	o = msgp.AppendString(o, "payload")
	o = msgp.AppendBytes(o, z.Payload)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *Message) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "seq_id":
			z.SeqID, bts, err = msgp.ReadUint64Bytes(bts)
		case "payload":
			z.Payload, bts, err = msgp.ReadBytesBytes(bts, z.Payload)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

func (z Message) Msgsize() int {
	return 1 + 7 + msgp.Uint64Size + 8 + msgp.BytesPrefixSize + len(z.Payload)
}

// MarshalMsg implements msgp.Marshaler.
func (z *PubSubResponse) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 6)
	o = msgp.AppendString(o, "protocol_version")
	o = msgp.AppendUint8(o, z.ProtocolVersion)
	o = msgp.AppendString(o, "status_code")
	o = msgp.AppendUint8(o, uint8(z.StatusCode))
	o = msgp.AppendString(o, "status_msg")
	o = msgp.AppendString(o, z.StatusMsg)
	o = msgp.AppendString(o, "txn_id")
	o = msgp.AppendString(o, z.TxnID)
	o = msgp.AppendString(o, "seq_id")
	o = msgp.AppendUint64(o, z.SeqID)
	o = msgp.AppendString(o, "messages")
	o = msgp.AppendArrayHeader(o, uint32(len(z.Messages)))
	for _, m := range z.Messages {
		o, _ = m.MarshalMsg(o)
	}
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *PubSubResponse) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "protocol_version":
			z.ProtocolVersion, bts, err = msgp.ReadUint8Bytes(bts)
		case "status_code":
			var c uint8
			c, bts, err = msgp.ReadUint8Bytes(bts)
			z.StatusCode = StatusCode(c)
		case "status_msg":
			z.StatusMsg, bts, err = msgp.ReadStringBytes(bts)
		case "txn_id":
			z.TxnID, bts, err = msgp.ReadStringBytes(bts)
		case "seq_id":
			z.SeqID, bts, err = msgp.ReadUint64Bytes(bts)
		case "messages":
			var asz uint32
			asz, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return bts, err
			}
			z.Messages = make([]*Message, asz)
			for j := range z.Messages {
				z.Messages[j] = &Message{}
				bts, err = z.Messages[j].UnmarshalMsg(bts)
				if err != nil {
					return bts, err
				}
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

func (z *PubSubResponse) Msgsize() int {
	s := 1 + 17 + msgp.Uint8Size + 12 + msgp.Uint8Size + 11 + msgp.StringPrefixSize + len(z.StatusMsg) +
		7 + msgp.StringPrefixSize + len(z.TxnID) + 7 + msgp.Uint64Size + 9 + msgp.ArrayHeaderSize
	for _, m := range z.Messages {
		s += m.Msgsize()
	}
	return s
}

// MarshalMsg implements msgp.Marshaler.
func (z SubscriptionState) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 1)
	o = msgp.AppendString(o, "last_consumed_seq_id")
	o = msgp.AppendUint64(o, z.LastConsumedSeqID)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *SubscriptionState) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "last_consumed_seq_id":
			z.LastConsumedSeqID, bts, err = msgp.ReadUint64Bytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

func (z SubscriptionState) Msgsize() int {
	return 1 + 21 + msgp.Uint64Size
}

// MarshalMsg implements msgp.Marshaler.
func (z SubscriptionData) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 2)
	o = msgp.AppendString(o, "state")
	o, _ = z.State.MarshalMsg(o)
	o = msgp.AppendString(o, "preferences")
	o, _ = z.Preferences.MarshalMsg(o)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *SubscriptionData) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < sz; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "state":
			bts, err = z.State.UnmarshalMsg(bts)
		case "preferences":
			bts, err = z.Preferences.UnmarshalMsg(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

func (z SubscriptionData) Msgsize() int {
	return 1 + 6 + z.State.Msgsize() + 12 + z.Preferences.Msgsize()
}
