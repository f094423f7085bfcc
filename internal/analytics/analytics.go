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

// Package analytics captures invoice lifecycle events in PostHog. The tracker
// is a no-op when no API key is configured, so callers never branch on it.
package analytics

import (
	"time"

	"github.com/coinvoice/coinvoice/config"
	"github.com/coinvoice/coinvoice/model"
	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
)

type Tracker struct {
	client posthog.Client
}

// NewTracker builds a PostHog-backed tracker. A missing API key yields a
// disabled tracker rather than an error.
func NewTracker(conf config.AnalyticsConfig) *Tracker {
	if conf.PosthogApiKey == "" {
		return &Tracker{}
	}

	endpoint := conf.PosthogEndpoint
	if endpoint == "" {
		endpoint = "https://us.i.posthog.com"
	}
	client, err := posthog.NewWithConfig(conf.PosthogApiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		logrus.WithError(err).Warn("analytics disabled, posthog client failed to initialize")
		return &Tracker{}
	}
	return &Tracker{client: client}
}

// TrackTransition records a committed status change. A transition into PAID
// additionally emits a revenue event.
func (t *Tracker) TrackTransition(invoice *model.Invoice, previousStatus string) {
	if t == nil || t.client == nil {
		return
	}

	if err := t.client.Enqueue(posthog.Capture{
		DistinctId: invoice.PayerReference,
		Event:      "invoice_status_changed",
		Properties: map[string]interface{}{
			"invoice_id":      invoice.InvoiceID,
			"status":          invoice.Status,
			"previous_status": previousStatus,
			"amount":          invoice.Amount,
			"currency":        invoice.Currency,
			"timestamp":       time.Now().UTC(),
		},
	}); err != nil {
		logrus.WithError(err).Warn("failed to enqueue analytics event")
	}

	if invoice.Status == model.StatusPaid {
		t.trackRevenue(invoice)
	}
}

func (t *Tracker) trackRevenue(invoice *model.Invoice) {
	if err := t.client.Enqueue(posthog.Capture{
		DistinctId: invoice.PayerReference,
		Event:      "invoice_paid",
		Properties: map[string]interface{}{
			"invoice_id": invoice.InvoiceID,
			"amount":     invoice.Amount,
			"currency":   invoice.Currency,
			"network":    invoice.Network,
			"tx_hash":    invoice.TxHash,
		},
	}); err != nil {
		logrus.WithError(err).Warn("failed to enqueue revenue event")
	}
}

// Close flushes buffered events.
func (t *Tracker) Close() {
	if t != nil && t.client != nil {
		_ = t.client.Close()
	}
}
