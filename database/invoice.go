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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/coinvoice/coinvoice/internal/apierror"
	"github.com/coinvoice/coinvoice/model"
)

const invoiceCacheTTL = 5 * time.Minute

func invoiceCacheKey(invoiceID string) string {
	return fmt.Sprintf("invoice:%s", invoiceID)
}

const invoiceColumns = `invoice_id, processor_invoice_id, payer_reference, wallet_address, payment_address, amount, currency, network, status, tx_hash, last_applied_event_id, created_at, expires_at`

func scanInvoice(row interface{ Scan(...interface{}) error }) (*model.Invoice, error) {
	invoice := &model.Invoice{}
	var processorID, txHash, eventID sql.NullString
	err := row.Scan(
		&invoice.InvoiceID,
		&processorID,
		&invoice.PayerReference,
		&invoice.WalletAddress,
		&invoice.PaymentAddress,
		&invoice.Amount,
		&invoice.Currency,
		&invoice.Network,
		&invoice.Status,
		&txHash,
		&eventID,
		&invoice.CreatedAt,
		&invoice.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	invoice.ProcessorInvoiceID = processorID.String
	invoice.TxHash = txHash.String
	invoice.LastAppliedEventID = eventID.String
	return invoice, nil
}

// CreateInvoice inserts a new invoice. Uniqueness is enforced by the insert
// itself (ON CONFLICT DO NOTHING + rows-affected check), not by a prior read,
// so two concurrent creates with the same id cannot both succeed.
func (d Datasource) CreateInvoice(ctx context.Context, invoice *model.Invoice) (*model.Invoice, error) {
	ctx, span := otel.Tracer("invoice.database").Start(ctx, "Saving invoice to db")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO invoices(invoice_id, processor_invoice_id, payer_reference, wallet_address, payment_address, amount, currency, network, status, tx_hash, last_applied_event_id, created_at, expires_at)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, NULLIF($10,''), NULLIF($11,''), $12, $13)
		ON CONFLICT (invoice_id) DO NOTHING
	`, invoice.InvoiceID, invoice.ProcessorInvoiceID, invoice.PayerReference, invoice.WalletAddress, invoice.PaymentAddress, invoice.Amount, invoice.Currency, invoice.Network, invoice.Status, invoice.TxHash, invoice.LastAppliedEventID, invoice.CreatedAt, invoice.ExpiresAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record invoice", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return nil, apierror.NewAPIError(apierror.ErrAlreadyExists, fmt.Sprintf("Invoice with ID '%s' already exists", invoice.InvoiceID), nil)
	}

	return invoice, nil
}

func (d Datasource) GetInvoice(ctx context.Context, invoiceID string) (*model.Invoice, error) {
	ctx, span := otel.Tracer("invoice.database").Start(ctx, "Getting invoice from db")
	defer span.End()

	if d.Cache != nil {
		cached := &model.Invoice{}
		if err := d.Cache.Get(ctx, invoiceCacheKey(invoiceID), cached); err == nil && cached.InvoiceID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE invoice_id = $1
	`, invoiceID)

	invoice, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Invoice with ID '%s' not found", invoiceID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve invoice", err)
	}

	if d.Cache != nil {
		_ = d.Cache.Set(ctx, invoiceCacheKey(invoiceID), invoice, invoiceCacheTTL)
	}

	return invoice, nil
}

func (d Datasource) GetInvoiceByProcessorID(ctx context.Context, processorInvoiceID string) (*model.Invoice, error) {
	ctx, span := otel.Tracer("invoice.database").Start(ctx, "Getting invoice from db by processor id")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE processor_invoice_id = $1
	`, processorInvoiceID)

	invoice, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Invoice with processor ID '%s' not found", processorInvoiceID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve invoice", err)
	}

	return invoice, nil
}

// GetNonTerminalInvoices returns every invoice that can still change status.
// The result is a consistent-enough snapshot for reconciliation; each record
// is re-checked by the conditional update before anything is applied.
func (d Datasource) GetNonTerminalInvoices(ctx context.Context) ([]*model.Invoice, error) {
	ctx, span := otel.Tracer("invoice.database").Start(ctx, "Scanning non-terminal invoices")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE status NOT IN ($1, $2, $3)
		ORDER BY created_at ASC
	`, model.StatusPaid, model.StatusFailed, model.StatusExpired)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan non-terminal invoices", err)
	}
	defer rows.Close()

	var invoices []*model.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan invoice data", err)
		}
		invoices = append(invoices, invoice)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over invoices", err)
	}

	return invoices, nil
}

// LinkProcessorInvoice attaches the processor-side payment to a freshly
// created invoice and moves it CREATED -> PENDING in one conditional write.
// The processor id is immutable once set; the WHERE clause refuses to relink.
func (d Datasource) LinkProcessorInvoice(ctx context.Context, invoiceID, processorInvoiceID, paymentAddress string) error {
	ctx, span := otel.Tracer("invoice.database").Start(ctx, "Linking processor invoice")
	defer span.End()

	if err := model.ValidateTransition(model.StatusCreated, model.StatusPending); err != nil {
		return err
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE invoices
		SET processor_invoice_id = $2, payment_address = $3, status = $4
		WHERE invoice_id = $1 AND status = $5 AND processor_invoice_id IS NULL
	`, invoiceID, processorInvoiceID, paymentAddress, model.StatusPending, model.StatusCreated)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to link processor invoice", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		// Either the invoice is gone or someone else already moved it.
		if _, getErr := d.GetInvoice(ctx, invoiceID); getErr != nil {
			return getErr
		}
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Invoice '%s' was modified concurrently during linking", invoiceID), nil)
	}

	d.invalidate(ctx, invoiceID)
	return nil
}

// UpdateInvoiceStatus is the single mutation entry point for every status
// change after linking. It returns (true, nil) when a row was changed and
// (false, nil) for the two legal no-ops: an already-applied event id and a
// proposed status equal to the current one.
//
// The commit is a compare-and-swap on the status read at the top; losing the
// race yields a CONFLICT error, never a silent overwrite.
func (d Datasource) UpdateInvoiceStatus(ctx context.Context, invoiceID, nextStatus, txHash, eventID string) (bool, error) {
	ctx, span := otel.Tracer("invoice.database").Start(ctx, "Updating invoice status")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT status, COALESCE(tx_hash, ''), COALESCE(last_applied_event_id, '')
		FROM invoices
		WHERE invoice_id = $1
	`, invoiceID)

	var currentStatus, currentTxHash, lastEventID string
	if err := row.Scan(&currentStatus, &currentTxHash, &lastEventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Invoice with ID '%s' not found", invoiceID), err)
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read invoice for update", err)
	}

	// Idempotent replay: the exact event was already applied.
	if eventID != "" && eventID == lastEventID {
		return false, nil
	}

	// Re-deriving the same truth is a no-op, not an illegal transition.
	if nextStatus == currentStatus {
		return false, nil
	}

	if err := model.ValidateTransition(currentStatus, nextStatus); err != nil {
		return false, err
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE invoices
		SET status = $2,
			tx_hash = CASE WHEN (tx_hash IS NULL OR tx_hash = '') AND $3 <> '' THEN $3 ELSE tx_hash END,
			last_applied_event_id = CASE WHEN $4 <> '' THEN $4 ELSE last_applied_event_id END
		WHERE invoice_id = $1 AND status = $5
	`, invoiceID, nextStatus, txHash, eventID, currentStatus)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update invoice status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return false, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Invoice '%s' was modified concurrently; status read as '%s'", invoiceID, currentStatus), nil)
	}

	d.invalidate(ctx, invoiceID)
	return true, nil
}

func (d Datasource) Ping(ctx context.Context) error {
	return d.Conn.PingContext(ctx)
}

func (d Datasource) invalidate(ctx context.Context, invoiceID string) {
	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, invoiceCacheKey(invoiceID))
	}
}
