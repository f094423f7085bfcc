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

package failover

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func newTestEndpoints(urls ...string) *Endpoints {
	e := New("test-upstream", urls)
	e.sleep = func(time.Duration) {}
	return e
}

func TestExecute_StickyFailover(t *testing.T) {
	e := newTestEndpoints("a", "b", "c")

	calls := []string{}
	op := func(_ context.Context, url string) error {
		calls = append(calls, url)
		if url == "a" {
			return errors.New("endpoint a is down")
		}
		return nil
	}

	err := e.Execute(context.Background(), op)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, "b", e.Current(), "successful endpoint becomes sticky")

	// A later call starts directly at the sticky endpoint.
	calls = nil
	err = e.Execute(context.Background(), op)
	assert.NoError(t, err)
	assert.Equal(t, []string{"b"}, calls)
}

func TestExecute_AllEndpointsFailPropagatesLastError(t *testing.T) {
	e := newTestEndpoints("a", "b")

	attempts := 0
	err := e.Execute(context.Background(), func(_ context.Context, url string) error {
		attempts++
		return errors.Errorf("%s refused", url)
	})

	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, err.Error(), "b refused")
	assert.Equal(t, "a", e.Current(), "sticky index unchanged when nothing succeeded")
}

func TestExecute_NoEndpointsConfigured(t *testing.T) {
	e := newTestEndpoints()
	err := e.Execute(context.Background(), func(context.Context, string) error { return nil })
	assert.Error(t, err)
}

func TestExecute_ContextCancelledBetweenAttempts(t *testing.T) {
	e := newTestEndpoints("a", "b", "c")
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := e.Execute(ctx, func(_ context.Context, url string) error {
		attempts++
		cancel()
		return errors.New("down")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "no further endpoints tried after cancellation")
}
