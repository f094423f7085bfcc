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

// Package ratelimit provides per-caller-class token buckets for outbound
// calls. Refusal is surfaced to the caller as backpressure; nothing here
// queues or retries. Bucket state is process-local: a restart resets every
// bucket to full capacity, which is a safe default rather than a bug.
package ratelimit

import (
	"sync"
	"time"

	"github.com/coinvoice/coinvoice/config"
)

// TokenBucket is a fixed-capacity bucket refilled continuously at RefillRate
// tokens per second. Refill happens lazily on Allow, based on wall-clock time
// elapsed since the last refill.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes one token if at least one is available, refilling first.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Registry holds the buckets for every caller class and identity the process
// has seen, keyed "class:identity". It is constructed once at startup and
// passed by reference; there are no package-level buckets.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	shapes  map[string]config.BucketConfig
	now     func() time.Time
}

func NewRegistry(shapes map[string]config.BucketConfig) *Registry {
	return &Registry{
		buckets: make(map[string]*TokenBucket),
		shapes:  shapes,
		now:     time.Now,
	}
}

// Allow consumes a token from the bucket for the given caller class and
// identity, creating the bucket on first use with the configured shape for
// the class (or the "default" shape when the class is unknown).
func (r *Registry) Allow(class, identity string) bool {
	key := class + ":" + identity

	r.mu.Lock()
	bucket, ok := r.buckets[key]
	if !ok {
		shape, ok := r.shapes[class]
		if !ok {
			shape = r.shapes["default"]
		}
		if shape.Capacity == 0 {
			shape = config.BucketConfig{Capacity: 20, RefillRate: 2}
		}
		bucket = newTokenBucket(shape.Capacity, shape.RefillRate, r.now)
		r.buckets[key] = bucket
	}
	r.mu.Unlock()

	return bucket.Allow()
}
