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

package mocks

import (
	"context"

	"github.com/coinvoice/coinvoice/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of database.IDataSource.
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) CreateInvoice(ctx context.Context, invoice *model.Invoice) (*model.Invoice, error) {
	args := m.Called(ctx, invoice)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invoice), args.Error(1)
}

func (m *MockDataSource) GetInvoice(ctx context.Context, invoiceID string) (*model.Invoice, error) {
	args := m.Called(ctx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invoice), args.Error(1)
}

func (m *MockDataSource) GetInvoiceByProcessorID(ctx context.Context, processorInvoiceID string) (*model.Invoice, error) {
	args := m.Called(ctx, processorInvoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invoice), args.Error(1)
}

func (m *MockDataSource) GetNonTerminalInvoices(ctx context.Context) ([]*model.Invoice, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Invoice), args.Error(1)
}

func (m *MockDataSource) LinkProcessorInvoice(ctx context.Context, invoiceID, processorInvoiceID, paymentAddress string) error {
	args := m.Called(ctx, invoiceID, processorInvoiceID, paymentAddress)
	return args.Error(0)
}

func (m *MockDataSource) UpdateInvoiceStatus(ctx context.Context, invoiceID, nextStatus, txHash, eventID string) (bool, error) {
	args := m.Called(ctx, invoiceID, nextStatus, txHash, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
