/*
Copyright 2024 Coinvoice Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package failover executes a call against one of several interchangeable
// endpoints with sticky round-robin failover. The current endpoint is tried
// first; on failure every remaining endpoint is tried once, in order, with a
// short constant backoff in between. An endpoint that rescues a call becomes
// the new current one, so a known-bad endpoint is not re-tried on every call.
package failover

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultAttemptBackoff = 500 * time.Millisecond

// Endpoints is a sticky multi-endpoint executor for one logical upstream.
// The sticky index is process-local; losing it on restart just means the
// next call starts at the primary again.
type Endpoints struct {
	mu      sync.Mutex
	name    string
	urls    []string
	current int
	backoff time.Duration
	sleep   func(time.Duration)
}

func New(name string, urls []string) *Endpoints {
	return &Endpoints{
		name:    name,
		urls:    urls,
		backoff: defaultAttemptBackoff,
		sleep:   time.Sleep,
	}
}

// Current returns the sticky endpoint URL.
func (e *Endpoints) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.urls) == 0 {
		return ""
	}
	return e.urls[e.current]
}

// Execute runs op against the current endpoint, failing over through the
// remaining endpoints in round-robin order. If every endpoint fails the last
// error is returned; this layer never invents a success.
func (e *Endpoints) Execute(ctx context.Context, op func(ctx context.Context, url string) error) error {
	e.mu.Lock()
	urls := e.urls
	start := e.current
	e.mu.Unlock()

	if len(urls) == 0 {
		return errors.Errorf("no endpoints configured for %s", e.name)
	}

	wait := backoff.NewConstantBackOff(e.backoff)
	var lastErr error
	for i := 0; i < len(urls); i++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		index := (start + i) % len(urls)
		err := op(ctx, urls[index])
		if err == nil {
			if index != start {
				e.mu.Lock()
				e.current = index
				e.mu.Unlock()
				logrus.WithFields(logrus.Fields{
					"upstream": e.name,
					"endpoint": index,
				}).Info("switched to healthy endpoint")
			}
			return nil
		}

		lastErr = err
		logrus.WithFields(logrus.Fields{
			"upstream": e.name,
			"endpoint": index,
			"error":    err.Error(),
		}).Warn("endpoint attempt failed")

		if i < len(urls)-1 {
			e.sleep(wait.NextBackOff())
		}
	}

	return errors.Wrapf(lastErr, "all %d endpoints failed for %s", len(urls), e.name)
}
