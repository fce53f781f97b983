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

package kv

import (
	"context"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

func makeInMemoryKV() KV {
	return &inMemoryKV{
		kv:   xsync.NewMap[string, kvValue](),
		list: xsync.NewMap[string, [][]byte](),
	}
}

type kvValue struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (v kvValue) expired() bool {
	return !v.expires.IsZero() && v.expires.Before(time.Now())
}

type inMemoryKV struct {
	kv   *xsync.Map[string, kvValue]
	list *xsync.Map[string, [][]byte]
}

func (kv *inMemoryKV) Has(_ context.Context, key string) (bool, error) {
	v, ok := kv.kv.Load(key)
	if !ok {
		return false, nil
	}
	if v.expired() {
		kv.kv.Delete(key)
		return false, nil
	}
	return true, nil
}

func (kv *inMemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := kv.kv.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	if v.expired() {
		kv.kv.Delete(key)
		return nil, ErrNotFound
	}
	return v.value, nil
}

func (kv *inMemoryKV) Set(_ context.Context, key string, value []byte) error {
	kv.kv.Store(key, kvValue{value: value})
	return nil
}

func (kv *inMemoryKV) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	newVal := kvValue{value: value, expires: expires}

	stored, loaded := kv.kv.LoadOrStore(key, newVal)
	if !loaded {
		return true, nil
	}
	if stored.expired() {
		// Expired lease: this is effectively a fresh claim. Compare-and-swap
		// so a concurrent claimant doesn't get silently overwritten.
		if kv.kv.CompareAndSwap(key, stored, newVal) {
			return true, nil
		}
	}
	return false, nil
}

func (kv *inMemoryKV) Delete(_ context.Context, key string) error {
	kv.kv.Delete(key)
	kv.list.Delete(key)
	return nil
}

func (kv *inMemoryKV) DeleteIfEqual(_ context.Context, key string, expect []byte) (bool, error) {
	v, ok := kv.kv.Load(key)
	if !ok {
		return false, nil
	}
	if string(v.value) != string(expect) {
		return false, nil
	}
	return kv.kv.CompareAndDelete(key, v), nil
}

func (kv *inMemoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	v, ok := kv.kv.Load(key)
	if !ok {
		return ErrNotFound
	}
	if ttl <= 0 {
		kv.kv.Delete(key)
		return nil
	}
	v.expires = time.Now().Add(ttl)
	kv.kv.Store(key, v)
	return nil
}

func (kv *inMemoryKV) Scan(_ context.Context, _ uint64, match string, count int64) ([]string, uint64, error) {
	prefix := strings.TrimSuffix(match, "*")
	keys := make([]string, 0)
	kv.kv.Range(func(key string, value kvValue) bool {
		if match == "" || strings.HasPrefix(key, prefix) {
			if value.expired() {
				kv.kv.Delete(key)
				return true
			}
			keys = append(keys, key)
		}
		if count > 0 && int64(len(keys)) >= count {
			return false
		}
		return true
	})
	return keys, 0, nil
}

func (kv *inMemoryKV) RPush(_ context.Context, key string, value []byte) (int64, error) {
	updated, _ := kv.list.Compute(key, func(existing [][]byte, loaded bool) (newValue [][]byte, delete bool) {
		return append(existing, value), false
	})
	return int64(len(updated)), nil
}

func (kv *inMemoryKV) LDrain(_ context.Context, key string) ([][]byte, error) {
	values, ok := kv.list.LoadAndDelete(key)
	if !ok {
		return nil, nil
	}
	return values, nil
}

func (kv *inMemoryKV) Close() error {
	return nil
}
