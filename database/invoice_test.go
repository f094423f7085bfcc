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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/coinvoice/coinvoice/internal/apierror"
	"github.com/coinvoice/coinvoice/model"
	"github.com/stretchr/testify/assert"
)

func testInvoice() *model.Invoice {
	return &model.Invoice{
		InvoiceID:      GenerateUUIDWithSuffix("inv"),
		PayerReference: gofakeit.UUID(),
		WalletAddress:  "0x71C7656EC7ab88b098defB751B7401B5f6d8976F",
		Amount:         "50.00",
		Currency:       "ETH",
		Network:        "ethereum",
		Status:         model.StatusCreated,
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(15 * time.Minute),
	}
}

func TestCreateInvoice_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	invoice := testInvoice()

	mock.ExpectExec("INSERT INTO invoices").
		WithArgs(invoice.InvoiceID, invoice.ProcessorInvoiceID, invoice.PayerReference, invoice.WalletAddress, invoice.PaymentAddress, invoice.Amount, invoice.Currency, invoice.Network, invoice.Status, invoice.TxHash, invoice.LastAppliedEventID, invoice.CreatedAt, invoice.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := ds.CreateInvoice(context.Background(), invoice)
	assert.NoError(t, err)
	assert.Equal(t, invoice, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInvoice_DuplicateRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	invoice := testInvoice()

	// ON CONFLICT DO NOTHING reports zero affected rows for a duplicate.
	mock.ExpectExec("INSERT INTO invoices").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = ds.CreateInvoice(context.Background(), invoice)
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrAlreadyExists))
}

func expectStatusRead(mock sqlmock.Sqlmock, invoiceID, status, txHash, eventID string) {
	mock.ExpectQuery("SELECT status, COALESCE").
		WithArgs(invoiceID).
		WillReturnRows(sqlmock.NewRows([]string{"status", "tx_hash", "last_applied_event_id"}).
			AddRow(status, txHash, eventID))
}

func TestUpdateInvoiceStatus_Applied(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	expectStatusRead(mock, "inv_1", model.StatusPending, "", "")
	mock.ExpectExec("UPDATE invoices").
		WithArgs("inv_1", model.StatusDetected, "", "evt_1", model.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := ds.UpdateInvoiceStatus(context.Background(), "inv_1", model.StatusDetected, "", "evt_1")
	assert.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInvoiceStatus_IdempotentReplay(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	// Same event id as stored: success with no mutation, no UPDATE issued.
	expectStatusRead(mock, "inv_1", model.StatusPaid, "0xabc", "fp_1:confirmed")

	applied, err := ds.UpdateInvoiceStatus(context.Background(), "inv_1", model.StatusPaid, "0xabc", "fp_1:confirmed")
	assert.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInvoiceStatus_NoOpWhenStatusUnchanged(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	// Reconciliation re-deriving the same status must succeed without writing,
	// even though PENDING -> PENDING is not an edge in the transition table.
	expectStatusRead(mock, "inv_1", model.StatusPending, "", "")

	applied, err := ds.UpdateInvoiceStatus(context.Background(), "inv_1", model.StatusPending, "", "")
	assert.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInvoiceStatus_IllegalTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	expectStatusRead(mock, "inv_1", model.StatusPending, "", "")

	_, err = ds.UpdateInvoiceStatus(context.Background(), "inv_1", model.StatusPaid, "", "")
	assert.Error(t, err)

	var transitionErr *model.TransitionError
	assert.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, model.StatusPending, transitionErr.From)
	assert.Equal(t, model.StatusPaid, transitionErr.To)
}

func TestUpdateInvoiceStatus_TerminalInvoiceImmutable(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	for _, terminal := range []string{model.StatusPaid, model.StatusFailed, model.StatusExpired} {
		expectStatusRead(mock, "inv_1", terminal, "", "")
		_, err := ds.UpdateInvoiceStatus(context.Background(), "inv_1", model.StatusDetected, "", "")
		assert.Error(t, err, "terminal status %s must not be mutable", terminal)
	}
}

func TestUpdateInvoiceStatus_ConcurrentWriterWins(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	// Status moved between our read and our conditional write.
	expectStatusRead(mock, "inv_1", model.StatusDetected, "", "")
	mock.ExpectExec("UPDATE invoices").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = ds.UpdateInvoiceStatus(context.Background(), "inv_1", model.StatusConfirmed, "", "")
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
}

func TestUpdateInvoiceStatus_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT status, COALESCE").
		WithArgs("inv_missing").
		WillReturnRows(sqlmock.NewRows([]string{"status", "tx_hash", "last_applied_event_id"}))

	_, err = ds.UpdateInvoiceStatus(context.Background(), "inv_missing", model.StatusPending, "", "")
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestLinkProcessorInvoice_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE invoices").
		WithArgs("inv_1", "fp_abc123", "0xPaymentAddress", model.StatusPending, model.StatusCreated).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.LinkProcessorInvoice(context.Background(), "inv_1", "fp_abc123", "0xPaymentAddress")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkProcessorInvoice_AlreadyLinked(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	existing := testInvoice()
	existing.InvoiceID = "inv_1"
	existing.Status = model.StatusPending

	mock.ExpectExec("UPDATE invoices").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM invoices").
		WithArgs("inv_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"invoice_id", "processor_invoice_id", "payer_reference", "wallet_address", "payment_address",
			"amount", "currency", "network", "status", "tx_hash", "last_applied_event_id", "created_at", "expires_at",
		}).AddRow(existing.InvoiceID, "fp_other", existing.PayerReference, existing.WalletAddress, existing.PaymentAddress,
			existing.Amount, existing.Currency, existing.Network, existing.Status, nil, nil, existing.CreatedAt, existing.ExpiresAt))

	err = ds.LinkProcessorInvoice(context.Background(), "inv_1", "fp_abc123", "0xPaymentAddress")
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
}

func TestGetNonTerminalInvoices(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM invoices").
		WithArgs(model.StatusPaid, model.StatusFailed, model.StatusExpired).
		WillReturnRows(sqlmock.NewRows([]string{
			"invoice_id", "processor_invoice_id", "payer_reference", "wallet_address", "payment_address",
			"amount", "currency", "network", "status", "tx_hash", "last_applied_event_id", "created_at", "expires_at",
		}).
			AddRow("inv_1", "fp_1", "payer_1", "0xwallet", "0xpay", "50.00", "ETH", "ethereum", model.StatusPending, nil, nil, now, now.Add(time.Hour)).
			AddRow("inv_2", nil, "payer_2", "0xwallet", "", "10.00", "BTC", "bitcoin", model.StatusCreated, nil, nil, now, now.Add(time.Hour)))

	invoices, err := ds.GetNonTerminalInvoices(context.Background())
	assert.NoError(t, err)
	assert.Len(t, invoices, 2)
	assert.Equal(t, "fp_1", invoices[0].ProcessorInvoiceID)
	assert.Empty(t, invoices[1].ProcessorInvoiceID)
}

func TestGetInvoiceByProcessorID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM invoices").
		WithArgs("fp_missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"invoice_id", "processor_invoice_id", "payer_reference", "wallet_address", "payment_address",
			"amount", "currency", "network", "status", "tx_hash", "last_applied_event_id", "created_at", "expires_at",
		}))

	_, err = ds.GetInvoiceByProcessorID(context.Background(), "fp_missing")
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}
