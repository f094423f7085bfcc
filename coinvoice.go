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

package coinvoice

import (
	"context"
	"embed"
	"fmt"

	"github.com/coinvoice/coinvoice/config"
	"github.com/coinvoice/coinvoice/database"
	"github.com/coinvoice/coinvoice/internal/analytics"
	"github.com/coinvoice/coinvoice/internal/chainrpc"
	"github.com/coinvoice/coinvoice/internal/ratelimit"
	redis_db "github.com/coinvoice/coinvoice/internal/redis-db"
	"github.com/coinvoice/coinvoice/model"
	"github.com/coinvoice/coinvoice/processor"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Coinvoice is the invoice consistency engine: it owns the invoice store, the
// processor adapter, and the shared rate limiter and chain probe state. All
// mutable coordination state lives on this struct; nothing is package-global.
type Coinvoice struct {
	datasource database.IDataSource
	processor  processor.Processor
	limiter    *ratelimit.Registry
	chain      *chainrpc.Client
	analytics  *analytics.Tracker
	queue      *asynq.Client
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewCoinvoice initializes the engine with the provided datasource and
// processor adapter. Configuration must already be loaded.
func NewCoinvoice(db database.IDataSource, proc processor.Processor) (*Coinvoice, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}

	return &Coinvoice{
		datasource: db,
		processor:  proc,
		limiter:    ratelimit.NewRegistry(configuration.RateLimit.Buckets),
		chain:      chainrpc.NewClient(configuration.Chains),
		analytics:  analytics.NewTracker(configuration.Analytics),
		queue:      asynq.NewClient(redisClient),
	}, nil
}

// Limiter exposes the caller-class token bucket registry to the transport.
func (c *Coinvoice) Limiter() *ratelimit.Registry {
	return c.limiter
}

// ChainClient exposes the chain RPC prober, used by the health endpoint.
func (c *Coinvoice) ChainClient() *chainrpc.Client {
	return c.chain
}

// Ping reports whether the invoice store is reachable.
func (c *Coinvoice) Ping(ctx context.Context) error {
	return c.datasource.Ping(ctx)
}

// Close flushes buffered analytics events and releases the queue connection.
func (c *Coinvoice) Close() {
	c.analytics.Close()
	if c.queue != nil {
		_ = c.queue.Close()
	}
}

// afterTransition runs the side effects of a committed status change:
// outbound merchant webhook and analytics capture. Failures here never undo
// or block the transition itself.
func (c *Coinvoice) afterTransition(invoice *model.Invoice, previousStatus string) {
	if err := c.SendWebhook(NewWebhook{
		Event:   getEventFromStatus(invoice.Status),
		Payload: invoice,
	}); err != nil {
		logrus.WithField("invoice_id", invoice.InvoiceID).WithError(err).Error("failed to enqueue webhook notification")
	}
	c.analytics.TrackTransition(invoice, previousStatus)
}
