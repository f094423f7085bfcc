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
	"testing"
	"time"

	"github.com/coinvoice/coinvoice/database/mocks"
	"github.com/coinvoice/coinvoice/internal/apierror"
	"github.com/coinvoice/coinvoice/model"
	procmocks "github.com/coinvoice/coinvoice/processor/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestReconcilePass_ExpiresWithoutProcessorCall(t *testing.T) {
	ds := new(mocks.MockDataSource)
	proc := new(procmocks.MockProcessor)
	engine := newTestEngine(ds, proc)

	expired := &model.Invoice{
		InvoiceID:          "inv_1",
		ProcessorInvoiceID: "fp_1",
		Status:             model.StatusPending,
		ExpiresAt:          time.Now().Add(-time.Minute),
	}
	ds.On("GetNonTerminalInvoices", mock.Anything).Return([]*model.Invoice{expired}, nil).Once()
	ds.On("UpdateInvoiceStatus", mock.Anything, "inv_1", model.StatusExpired, "", "").Return(true, nil).Once()

	summary, err := engine.ReconcilePass(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Expired)
	proc.AssertNotCalled(t, "FetchStatus", mock.Anything, mock.Anything)
}

func TestReconcilePass_AppliesStatusChange(t *testing.T) {
	ds := new(mocks.MockDataSource)
	proc := new(procmocks.MockProcessor)
	engine := newTestEngine(ds, proc)

	live := &model.Invoice{
		InvoiceID:          "inv_1",
		ProcessorInvoiceID: "fp_1",
		Status:             model.StatusPending,
		ExpiresAt:          time.Now().Add(time.Hour),
	}
	ds.On("GetNonTerminalInvoices", mock.Anything).Return([]*model.Invoice{live}, nil).Once()
	proc.On("FetchStatus", mock.Anything, "fp_1").Return("confirming", nil).Once()
	ds.On("UpdateInvoiceStatus", mock.Anything, "inv_1", model.StatusDetected, "", "").Return(true, nil).Once()

	summary, err := engine.ReconcilePass(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 0, summary.Errored)
}

func TestReconcilePass_SkipsWhenStatusUnchanged(t *testing.T) {
	ds := new(mocks.MockDataSource)
	proc := new(procmocks.MockProcessor)
	engine := newTestEngine(ds, proc)

	live := &model.Invoice{
		InvoiceID:          "inv_1",
		ProcessorInvoiceID: "fp_1",
		Status:             model.StatusPending,
		ExpiresAt:          time.Now().Add(time.Hour),
	}
	ds.On("GetNonTerminalInvoices", mock.Anything).Return([]*model.Invoice{live}, nil).Once()
	proc.On("FetchStatus", mock.Anything, "fp_1").Return("waiting", nil).Once()

	summary, err := engine.ReconcilePass(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	ds.AssertNotCalled(t, "UpdateInvoiceStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcilePass_IsolatesPerInvoiceFailures(t *testing.T) {
	ds := new(mocks.MockDataSource)
	proc := new(procmocks.MockProcessor)
	engine := newTestEngine(ds, proc)

	broken := &model.Invoice{
		InvoiceID:          "inv_broken",
		ProcessorInvoiceID: "fp_broken",
		Status:             model.StatusPending,
		ExpiresAt:          time.Now().Add(time.Hour),
	}
	healthy := &model.Invoice{
		InvoiceID:          "inv_ok",
		ProcessorInvoiceID: "fp_ok",
		Status:             model.StatusDetected,
		ExpiresAt:          time.Now().Add(time.Hour),
	}
	ds.On("GetNonTerminalInvoices", mock.Anything).Return([]*model.Invoice{broken, healthy}, nil).Once()
	proc.On("FetchStatus", mock.Anything, "fp_broken").
		Return("", apierror.NewAPIError(apierror.ErrExternalService, "processor unreachable", nil)).Once()
	proc.On("FetchStatus", mock.Anything, "fp_ok").Return("confirmed", nil).Once()
	ds.On("UpdateInvoiceStatus", mock.Anything, "inv_ok", model.StatusConfirmed, "", "").Return(true, nil).Once()

	summary, err := engine.ReconcilePass(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, 1, summary.Updated)
	ds.AssertExpectations(t)
}

func TestReconcilePass_WebhookRaceCountsAsSkip(t *testing.T) {
	ds := new(mocks.MockDataSource)
	proc := new(procmocks.MockProcessor)
	engine := newTestEngine(ds, proc)

	live := &model.Invoice{
		InvoiceID:          "inv_1",
		ProcessorInvoiceID: "fp_1",
		Status:             model.StatusPending,
		ExpiresAt:          time.Now().Add(time.Hour),
	}
	ds.On("GetNonTerminalInvoices", mock.Anything).Return([]*model.Invoice{live}, nil).Once()
	proc.On("FetchStatus", mock.Anything, "fp_1").Return("confirming", nil).Once()
	ds.On("UpdateInvoiceStatus", mock.Anything, "inv_1", model.StatusDetected, "", "").
		Return(false, apierror.NewAPIError(apierror.ErrConflict, "webhook got there first", nil)).Once()

	summary, err := engine.ReconcilePass(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Errored)
}

func TestReconcilePass_UnlinkedInvoiceSkipped(t *testing.T) {
	ds := new(mocks.MockDataSource)
	proc := new(procmocks.MockProcessor)
	engine := newTestEngine(ds, proc)

	unlinked := &model.Invoice{
		InvoiceID: "inv_1",
		Status:    model.StatusCreated,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	ds.On("GetNonTerminalInvoices", mock.Anything).Return([]*model.Invoice{unlinked}, nil).Once()

	summary, err := engine.ReconcilePass(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	proc.AssertNotCalled(t, "FetchStatus", mock.Anything, mock.Anything)
}
