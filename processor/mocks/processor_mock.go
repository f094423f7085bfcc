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

	"github.com/coinvoice/coinvoice/processor"
	"github.com/stretchr/testify/mock"
)

// MockProcessor is a mock implementation of processor.Processor.
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) OpenPayment(ctx context.Context, amount, currency, orderRef, payerRef string) (*processor.PaymentIntent, error) {
	args := m.Called(ctx, amount, currency, orderRef, payerRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.PaymentIntent), args.Error(1)
}

func (m *MockProcessor) FetchStatus(ctx context.Context, processorInvoiceID string) (string, error) {
	args := m.Called(ctx, processorInvoiceID)
	return args.String(0), args.Error(1)
}

func (m *MockProcessor) VerifyEvent(signature string, rawBody []byte, timestamp string) error {
	args := m.Called(signature, rawBody, timestamp)
	return args.Error(0)
}

func (m *MockProcessor) ParseEvent(rawBody []byte) (*processor.Event, error) {
	args := m.Called(rawBody)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Event), args.Error(1)
}
