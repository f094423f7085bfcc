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
	"time"

	"github.com/coinvoice/coinvoice/config"
	"github.com/coinvoice/coinvoice/database"
	"github.com/coinvoice/coinvoice/internal/notification"
	"github.com/coinvoice/coinvoice/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// CreateInvoiceRequest carries the validated fields of an invoice creation.
type CreateInvoiceRequest struct {
	Amount         string
	Currency       string
	Network        string
	PayerReference string
	WalletAddress  string
}

// CreateInvoice records a new invoice and opens the corresponding payment at
// the processor. The invoice is first committed as CREATED; only after the
// processor accepted the payment does it move to PENDING with the processor
// id and deposit address attached. A processor failure leaves the invoice in
// FAILED, never in a half-linked state.
func (c *Coinvoice) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*model.Invoice, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	invoice := &model.Invoice{
		InvoiceID:      database.GenerateUUIDWithSuffix("inv"),
		PayerReference: req.PayerReference,
		WalletAddress:  req.WalletAddress,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Network:        req.Network,
		Status:         model.StatusCreated,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Duration(conf.Processor.InvoiceTTLMinutes) * time.Minute),
	}

	if _, err := c.datasource.CreateInvoice(ctx, invoice); err != nil {
		return nil, errors.Wrap(err, "failed to record invoice")
	}

	intent, err := c.processor.OpenPayment(ctx, invoice.Amount, invoice.Currency, invoice.InvoiceID, invoice.PayerReference)
	if err != nil {
		c.failInvoice(ctx, invoice)
		notification.NotifyError(err)
		return nil, errors.Wrap(err, "payment processor rejected the invoice")
	}

	if err := c.datasource.LinkProcessorInvoice(ctx, invoice.InvoiceID, intent.ProcessorInvoiceID, intent.PaymentAddress); err != nil {
		c.failInvoice(ctx, invoice)
		return nil, errors.Wrap(err, "failed to link processor payment")
	}

	previousStatus := invoice.Status
	invoice.Status = model.StatusPending
	invoice.ProcessorInvoiceID = intent.ProcessorInvoiceID
	invoice.PaymentAddress = intent.PaymentAddress

	c.afterTransition(invoice, previousStatus)
	return invoice, nil
}

// failInvoice rolls a freshly created invoice to FAILED. Losing this write is
// tolerable: reconciliation will re-derive the state later.
func (c *Coinvoice) failInvoice(ctx context.Context, invoice *model.Invoice) {
	applied, err := c.datasource.UpdateInvoiceStatus(ctx, invoice.InvoiceID, model.StatusFailed, "", "")
	if err != nil {
		logrus.WithField("invoice_id", invoice.InvoiceID).WithError(err).Error("failed to mark invoice as failed")
		return
	}
	if applied {
		previousStatus := invoice.Status
		invoice.Status = model.StatusFailed
		c.afterTransition(invoice, previousStatus)
	}
}

// GetInvoice returns an invoice by its id.
func (c *Coinvoice) GetInvoice(ctx context.Context, invoiceID string) (*model.Invoice, error) {
	return c.datasource.GetInvoice(ctx, invoiceID)
}
