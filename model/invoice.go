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

package model

import (
	"encoding/json"
	"time"
)

// Invoice statuses. CREATED through CONFIRMED are live states; PAID, FAILED
// and EXPIRED are terminal and an invoice that reaches one of them is
// immutable from then on.
const (
	StatusCreated   = "CREATED"
	StatusPending   = "PENDING"
	StatusDetected  = "DETECTED"
	StatusConfirmed = "CONFIRMED"
	StatusPaid      = "PAID"
	StatusFailed    = "FAILED"
	StatusExpired   = "EXPIRED"
)

// Invoice is the local record of a requested payment and its lifecycle state.
// The processor owns settlement; this record only tracks the authoritative
// status as reported through webhooks and reconciliation.
type Invoice struct {
	ID                 int64     `json:"-"`
	InvoiceID          string    `json:"invoice_id"`
	ProcessorInvoiceID string    `json:"processor_invoice_id,omitempty"`
	PayerReference     string    `json:"payer_reference"`
	WalletAddress      string    `json:"wallet_address"`
	PaymentAddress     string    `json:"payment_address,omitempty"`
	Amount             string    `json:"amount"`
	Currency           string    `json:"currency"`
	Network            string    `json:"network"`
	Status             string    `json:"status"`
	TxHash             string    `json:"tx_hash,omitempty"`
	LastAppliedEventID string    `json:"last_applied_event_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

func (invoice *Invoice) ToJSON() ([]byte, error) {
	return json.Marshal(invoice)
}

// IsTerminal reports whether the invoice has reached a final status.
func (invoice *Invoice) IsTerminal() bool {
	return IsTerminalStatus(invoice.Status)
}

// HasExpired reports whether the invoice's expiry deadline has passed at the
// given instant. Terminal invoices never expire; they already are what they are.
func (invoice *Invoice) HasExpired(now time.Time) bool {
	return !invoice.IsTerminal() && now.After(invoice.ExpiresAt)
}

// IsTerminalStatus reports whether status is one of the final statuses.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusPaid, StatusFailed, StatusExpired:
		return true
	}
	return false
}
