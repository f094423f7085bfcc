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

	"github.com/coinvoice/coinvoice/internal/apierror"
	"github.com/coinvoice/coinvoice/model"
	"github.com/coinvoice/coinvoice/processor"
	"github.com/sirupsen/logrus"
)

// ApplyProcessorEvent ingests one processor webhook delivery. Authenticity
// failures (bad signature, stale timestamp) are returned to the caller so the
// transport can refuse the delivery. Everything after authentication is
// absorbed: unknown invoices, unrecognized statuses, replays, late or
// out-of-order events all resolve to a clean ack so the processor stops
// retrying things that will never apply.
func (c *Coinvoice) ApplyProcessorEvent(ctx context.Context, signature, timestamp string, rawBody []byte) error {
	if err := c.processor.VerifyEvent(signature, rawBody, timestamp); err != nil {
		return err
	}

	event, err := c.processor.ParseEvent(rawBody)
	if err != nil {
		logrus.WithError(err).Warn("discarding malformed processor event")
		return nil
	}

	fields := logrus.Fields{
		"processor_invoice_id": event.ProcessorInvoiceID,
		"processor_status":     event.Status,
		"event_id":             event.Key(),
	}

	invoice, err := c.datasource.GetInvoiceByProcessorID(ctx, event.ProcessorInvoiceID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrNotFound) {
			logrus.WithFields(fields).Warn("processor event references unknown invoice")
			return nil
		}
		return err
	}

	nextStatus, ok := processor.MapStatus(event.Status)
	if !ok {
		logrus.WithFields(fields).Warn("ignoring unrecognized processor status")
		return nil
	}

	applied, err := c.datasource.UpdateInvoiceStatus(ctx, invoice.InvoiceID, nextStatus, event.TxHash, event.Key())
	if err != nil {
		var transitionErr *model.TransitionError
		if errors.As(err, &transitionErr) || apierror.HasCode(err, apierror.ErrConflict) {
			logrus.WithFields(fields).WithError(err).Info("processor event does not apply to current invoice state")
			return nil
		}
		return err
	}

	if applied {
		previousStatus := invoice.Status
		invoice.Status = nextStatus
		if invoice.TxHash == "" {
			invoice.TxHash = event.TxHash
		}
		c.afterTransition(invoice, previousStatus)
	}
	return nil
}
