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

	"github.com/coinvoice/coinvoice/model"
)

// IDataSource defines the interface for data source operations.
type IDataSource interface {
	invoice
	Ping(ctx context.Context) error
}

// invoice defines the persistence contract for invoice records. Every status
// mutation goes through UpdateInvoiceStatus or LinkProcessorInvoice; both are
// conditional writes that fail with a CONFLICT error when a concurrent writer
// got there first.
type invoice interface {
	CreateInvoice(ctx context.Context, invoice *model.Invoice) (*model.Invoice, error)                                    // Inserts a new invoice; ALREADY_EXISTS on duplicate id
	GetInvoice(ctx context.Context, invoiceID string) (*model.Invoice, error)                                             // Retrieves an invoice by its id
	GetInvoiceByProcessorID(ctx context.Context, processorInvoiceID string) (*model.Invoice, error)                       // Retrieves an invoice by the processor-side id
	GetNonTerminalInvoices(ctx context.Context) ([]*model.Invoice, error)                                                 // Retrieves all invoices not yet in a terminal status
	LinkProcessorInvoice(ctx context.Context, invoiceID, processorInvoiceID, paymentAddress string) error                 // Links the processor payment and moves CREATED -> PENDING
	UpdateInvoiceStatus(ctx context.Context, invoiceID, nextStatus, txHash, eventID string) (bool, error)                 // Conditionally applies a status change; returns whether a row changed
}
