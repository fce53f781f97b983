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

package cmd

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxbroker/fluxmq/client"
	"github.com/fluxbroker/fluxmq/internal/wire"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newBenchCommand builds a throughput smoke-test that drives the client
// package against a running cluster: N publisher goroutines hammer a topic
// while one subscriber drains it, and the command reports messages and
// bytes per second over the run.
func newBenchCommand() *cobra.Command {
	var (
		addr        string
		topic       string
		duration    time.Duration
		publishers  int
		payloadSize int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Publish load against a running fluxmqd and report throughput",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd.Context(), addr, topic, duration, publishers, payloadSize)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7300", "seed address of a fluxmqd node")
	cmd.Flags().StringVar(&topic, "topic", "bench", "topic to publish to")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to run the load")
	cmd.Flags().IntVar(&publishers, "publishers", 4, "number of concurrent publisher goroutines")
	cmd.Flags().IntVar(&payloadSize, "payload-size", 128, "payload size in bytes")

	return cmd
}

func runBench(ctx context.Context, addr, topic string, duration time.Duration, publishers, payloadSize int) error {
	c := client.New(addr)

	var received, receivedBytes int64
	subscriberID := "bench-" + uuid.NewString()
	sub, err := c.Subscribe(ctx, topic, subscriberID, client.SubscribeCreateOrAttach, client.SubscriptionPreferences{}, func(msg *wire.Message) {
		atomic.AddInt64(&received, 1)
		atomic.AddInt64(&receivedBytes, int64(len(msg.Payload)))
	})
	if err != nil {
		return fmt.Errorf("fluxmq bench: subscribe: %w", err)
	}
	defer sub.Close()

	payload := make([]byte, payloadSize)

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var published, publishErrors int64
	wg := new(sync.WaitGroup)
	start := time.Now()
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for runCtx.Err() == nil {
				if _, err := c.Publish(runCtx, topic, payload); err != nil {
					atomic.AddInt64(&publishErrors, 1)
					continue
				}
				atomic.AddInt64(&published, 1)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("published=%d errors=%d received=%d elapsed=%s\n", published, publishErrors, received, elapsed)
	fmt.Printf("publish throughput: %.1f msg/s, %.1f KB/s\n",
		float64(published)/elapsed.Seconds(),
		float64(published*int64(payloadSize))/1024/elapsed.Seconds())
	fmt.Printf("delivery throughput: %.1f msg/s, %.1f KB/s\n",
		float64(received)/elapsed.Seconds(),
		float64(receivedBytes)/1024/elapsed.Seconds())
	return nil
}
