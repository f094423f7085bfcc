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
	"errors"
	"time"

	"github.com/coinvoice/coinvoice/internal/apierror"
	"github.com/coinvoice/coinvoice/model"
	"github.com/coinvoice/coinvoice/processor"
	"github.com/sirupsen/logrus"
)

// ReconciliationSummary reports what one reconciliation pass did.
type ReconciliationSummary struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

// ReconcilePass re-derives the status of every non-terminal invoice from the
// processor. Invoices past their deadline are expired locally without a
// processor call. A failure on one invoice is recorded and the pass moves on;
// webhooks remain the fast path and this pass is the safety net, so partial
// progress is always worth keeping.
func (c *Coinvoice) ReconcilePass(ctx context.Context) (ReconciliationSummary, error) {
	summary := ReconciliationSummary{}

	invoices, err := c.datasource.GetNonTerminalInvoices(ctx)
	if err != nil {
		return summary, err
	}
	summary.Scanned = len(invoices)

	now := time.Now()
	for _, invoice := range invoices {
		c.reconcileInvoice(ctx, invoice, now, &summary)
	}

	logrus.WithFields(logrus.Fields{
		"scanned": summary.Scanned,
		"updated": summary.Updated,
		"expired": summary.Expired,
		"skipped": summary.Skipped,
		"errored": summary.Errored,
	}).Info("reconciliation pass complete")
	return summary, nil
}

func (c *Coinvoice) reconcileInvoice(ctx context.Context, invoice *model.Invoice, now time.Time, summary *ReconciliationSummary) {
	fields := logrus.Fields{"invoice_id": invoice.InvoiceID, "status": invoice.Status}

	if invoice.HasExpired(now) {
		applied, err := c.datasource.UpdateInvoiceStatus(ctx, invoice.InvoiceID, model.StatusExpired, "", "")
		if err != nil {
			var transitionErr *model.TransitionError
			if errors.As(err, &transitionErr) || apierror.HasCode(err, apierror.ErrConflict) {
				summary.Skipped++
				return
			}
			logrus.WithFields(fields).WithError(err).Error("failed to expire invoice")
			summary.Errored++
			return
		}
		if applied {
			previousStatus := invoice.Status
			invoice.Status = model.StatusExpired
			c.afterTransition(invoice, previousStatus)
			summary.Expired++
		} else {
			summary.Skipped++
		}
		return
	}

	// Nothing to poll before the processor payment is linked.
	if invoice.ProcessorInvoiceID == "" {
		summary.Skipped++
		return
	}

	processorStatus, err := c.processor.FetchStatus(ctx, invoice.ProcessorInvoiceID)
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("failed to fetch processor status")
		summary.Errored++
		return
	}

	nextStatus, ok := processor.MapStatus(processorStatus)
	if !ok {
		logrus.WithFields(fields).WithField("processor_status", processorStatus).Warn("ignoring unrecognized processor status")
		summary.Skipped++
		return
	}
	if nextStatus == invoice.Status {
		summary.Skipped++
		return
	}

	applied, err := c.datasource.UpdateInvoiceStatus(ctx, invoice.InvoiceID, nextStatus, "", "")
	if err != nil {
		var transitionErr *model.TransitionError
		if errors.As(err, &transitionErr) || apierror.HasCode(err, apierror.ErrConflict) {
			// A webhook got there first. That is the expected race.
			summary.Skipped++
			return
		}
		logrus.WithFields(fields).WithError(err).Error("failed to update invoice during reconciliation")
		summary.Errored++
		return
	}

	if applied {
		previousStatus := invoice.Status
		invoice.Status = nextStatus
		c.afterTransition(invoice, previousStatus)
		summary.Updated++
	} else {
		summary.Skipped++
	}
}
