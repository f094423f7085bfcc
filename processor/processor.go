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

// Package processor adapts the external payment processor to the invoice
// domain. The service layer never sees processor status strings or wire
// payloads; everything crosses this boundary as domain statuses and Events.
package processor

import (
	"context"

	"github.com/coinvoice/coinvoice/model"
)

// PaymentIntent is the processor-side payment opened for an invoice.
type PaymentIntent struct {
	ProcessorInvoiceID string `json:"processor_invoice_id"`
	PaymentAddress     string `json:"payment_address"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	Status             string `json:"status"`
}

// Event is a parsed processor webhook notification.
type Event struct {
	ProcessorInvoiceID string `json:"payment_id"`
	Status             string `json:"status"`
	TxHash             string `json:"tx_hash"`
	EventID            string `json:"event_id"`
}

// Key returns the idempotency key for the event. Events that arrive without
// their own id fall back to a processorInvoiceID:status pair, which keeps
// replays of the same notification idempotent at the cost of not telling
// apart two distinct events carrying the same status.
func (e *Event) Key() string {
	if e.EventID != "" {
		return e.EventID
	}
	return e.ProcessorInvoiceID + ":" + e.Status
}

// Processor is the contract every payment processor integration satisfies.
type Processor interface {
	// OpenPayment registers a payment with the processor and returns the
	// processor invoice id and deposit address.
	OpenPayment(ctx context.Context, amount, currency, orderRef, payerRef string) (*PaymentIntent, error)
	// FetchStatus returns the processor's current status string for a payment.
	FetchStatus(ctx context.Context, processorInvoiceID string) (string, error)
	// VerifyEvent authenticates a raw webhook body against its signature and
	// timestamp before anything is parsed or applied.
	VerifyEvent(signature string, rawBody []byte, timestamp string) error
	// ParseEvent decodes an authenticated webhook body.
	ParseEvent(rawBody []byte) (*Event, error)
}

// statusMap translates the processor's status vocabulary into domain
// statuses. Values outside this table are ignored by callers; forward
// compatibility with new processor statuses means dropping them, not failing.
var statusMap = map[string]string{
	"waiting":    model.StatusPending,
	"processing": model.StatusDetected,
	"confirming": model.StatusDetected,
	"confirmed":  model.StatusConfirmed,
	"settled":    model.StatusPaid,
	"cancelled":  model.StatusFailed,
	"timeout":    model.StatusExpired,
}

// MapStatus converts a processor status string to a domain status. The second
// return is false for unrecognized values.
func MapStatus(processorStatus string) (string, bool) {
	status, ok := statusMap[processorStatus]
	return status, ok
}
