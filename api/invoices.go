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
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/coinvoice/coinvoice"
	model2 "github.com/coinvoice/coinvoice/api/model"
	"github.com/coinvoice/coinvoice/internal/apierror"
	"github.com/gin-gonic/gin"
)

const (
	signatureHeader = "X-Forumpay-Signature"
	timestampHeader = "X-Forumpay-Timestamp"

	healthProbeTimeout = 2 * time.Second
)

// CreateInvoice opens a new invoice and its processor-side payment.
func (a Api) CreateInvoice(c *gin.Context) {
	var newInvoice model2.CreateInvoice
	if err := c.ShouldBindJSON(&newInvoice); err != nil {
		c.JSON(http.StatusBadRequest, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid invoice data", err))
		return
	}
	if err := newInvoice.ValidateCreateInvoice(); err != nil {
		c.JSON(http.StatusBadRequest, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err))
		return
	}

	invoice, err := a.service.CreateInvoice(c.Request.Context(), coinvoice.CreateInvoiceRequest{
		Amount:         newInvoice.Amount,
		Currency:       newInvoice.Currency,
		Network:        newInvoice.Network,
		PayerReference: newInvoice.PayerReference,
		WalletAddress:  newInvoice.WalletAddress,
	})
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, model2.ToInvoiceResponse(invoice))
}

// GetInvoice returns the public view of an invoice.
func (a Api) GetInvoice(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /invoices/:id"})
		return
	}

	invoice, err := a.service.GetInvoice(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model2.ToInvoiceResponse(invoice))
}

// ProcessorWebhook ingests a processor event. The raw body is read before
// anything else because the signature covers the exact bytes on the wire.
// Authenticity failures get a 401 so the processor knows the delivery was
// refused; everything else is acked with a 200 to stop redelivery of events
// that will never apply.
func (a Api) ProcessorWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	err = a.service.ApplyProcessorEvent(
		c.Request.Context(),
		c.GetHeader(signatureHeader),
		c.GetHeader(timestampHeader),
		rawBody,
	)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunReconciliation triggers one reconciliation pass and returns its summary.
func (a Api) RunReconciliation(c *gin.Context) {
	summary, err := a.service.ReconcilePass(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Health reports liveness of the store and the chain RPC upstreams. Probe
// failures degrade the response to 503 without hiding which check failed.
func (a Api) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	healthy := true
	checks := gin.H{}

	if err := a.service.Ping(ctx); err != nil {
		checks["database"] = "error: " + err.Error()
		healthy = false
	} else {
		checks["database"] = "connected"
	}

	for _, chain := range a.service.ChainClient().Chains() {
		if err := a.service.ChainClient().Probe(ctx, chain); err != nil {
			checks["rpc_"+chain] = "error: " + err.Error()
			healthy = false
		} else {
			checks["rpc_"+chain] = "connected"
		}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}
