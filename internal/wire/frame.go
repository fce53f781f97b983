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

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's body to guard against a malformed
// length prefix forcing an unbounded allocation.
const MaxFrameSize = 16 * 1024 * 1024 // 16mb

// lenPrefixSize is the width, in bytes, of the frame's length header.
const lenPrefixSize = 4

// ReadFrame reads one length-prefixed, msgp-encoded frame from r: a 4-byte
// big-endian length followed by that many bytes of body. It blocks until a
// full frame is available, r is closed, or r's deadline (if any) expires.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lenPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame size (%d) exceeds max frame size (%d)", size, MaxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame writes body to w prefixed with its 4-byte big-endian length.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame size (%d) exceeds max frame size (%d)", len(body), MaxFrameSize)
	}
	var lenBuf [lenPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadRequest reads and decodes one PubSubRequest frame from r.
func ReadRequest(r io.Reader) (*PubSubRequest, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	req := &PubSubRequest{}
	if _, err := req.UnmarshalMsg(body); err != nil {
		return nil, fmt.Errorf("failed to decode request frame: %w", err)
	}
	return req, nil
}

// WriteRequest encodes req and writes it as a length-prefixed frame to w.
func WriteRequest(w io.Writer, req *PubSubRequest) error {
	body, err := req.MarshalMsg(make([]byte, 0, req.Msgsize()))
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return WriteFrame(w, body)
}

// ReadResponse reads and decodes one PubSubResponse frame from r.
func ReadResponse(r io.Reader) (*PubSubResponse, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	resp := &PubSubResponse{}
	if _, err := resp.UnmarshalMsg(body); err != nil {
		return nil, fmt.Errorf("failed to decode response frame: %w", err)
	}
	return resp, nil
}

// WriteResponse encodes resp and writes it as a length-prefixed frame to w.
func WriteResponse(w io.Writer, resp *PubSubResponse) error {
	body, err := resp.MarshalMsg(make([]byte, 0, resp.Msgsize()))
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return WriteFrame(w, body)
}
