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

package processor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"context"

	"github.com/coinvoice/coinvoice/config"
	"github.com/coinvoice/coinvoice/internal/apierror"
	"github.com/coinvoice/coinvoice/internal/request"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// demo deposit address served in mock mode.
const mockPaymentAddress = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"

// ForumPay talks to the ForumPay payments API. In mock mode every call is
// answered locally with deterministic data so the rest of the system can be
// exercised without credentials or network access.
type ForumPay struct {
	conf   config.ProcessorConfig
	client *http.Client

	// injectable clock for replay-window tests
	now func() time.Time
}

// NewForumPay builds the adapter from the processor section of the loaded
// configuration.
func NewForumPay(conf config.ProcessorConfig) *ForumPay {
	return &ForumPay{
		conf: conf,
		client: &http.Client{
			Timeout: time.Duration(conf.TimeoutSec) * time.Second,
		},
		now: time.Now,
	}
}

type startPaymentRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	ReferenceNo string `json:"reference_no"`
	PayerID     string `json:"payer_id,omitempty"`
}

type paymentResponse struct {
	PaymentID   string `json:"payment_id"`
	Address     string `json:"address"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	ReferenceNo string `json:"reference_no"`
	Status      string `json:"status"`
	Inserted    string `json:"inserted"`
}

func (f *ForumPay) mockMode() bool {
	if f.conf.Mode == config.ProcessorModeMock {
		return true
	}
	// Live mode without credentials cannot make an authenticated call.
	// Degrade loudly rather than fail every invoice creation.
	if f.conf.ApiUser == "" || f.conf.ApiSecret == "" {
		logrus.Warn("processor credentials missing in live mode, serving mock responses")
		return true
	}
	return false
}

// OpenPayment registers a payment with ForumPay and returns the payment id
// and deposit address the payer must use.
func (f *ForumPay) OpenPayment(ctx context.Context, amount, currency, orderRef, payerRef string) (*PaymentIntent, error) {
	if f.mockMode() {
		return &PaymentIntent{
			ProcessorInvoiceID: fmt.Sprintf("fp_%s", uuid.New().String()[:8]),
			PaymentAddress:     mockPaymentAddress,
			Amount:             amount,
			Currency:           currency,
			Status:             "waiting",
		}, nil
	}

	payload, err := request.ToJsonReq(&startPaymentRequest{
		Amount:      amount,
		Currency:    currency,
		ReferenceNo: orderRef,
		PayerID:     payerRef,
	})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode payment request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/payments/start", f.conf.ApiUrl), payload)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to build payment request", err)
	}
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(f.conf.ApiUser, f.conf.ApiSecret))

	var response paymentResponse
	resp, err := request.CallWithClient(f.client, req, &response)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrExternalService, "Payment processor unreachable", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, apierror.NewAPIError(apierror.ErrExternalService, fmt.Sprintf("Payment processor returned status %d", resp.StatusCode), nil)
	}

	return &PaymentIntent{
		ProcessorInvoiceID: response.PaymentID,
		PaymentAddress:     response.Address,
		Amount:             response.Amount,
		Currency:           response.Currency,
		Status:             response.Status,
	}, nil
}

// FetchStatus asks ForumPay for the current status of a payment. The returned
// string is the processor's vocabulary; callers map it with MapStatus.
func (f *ForumPay) FetchStatus(ctx context.Context, processorInvoiceID string) (string, error) {
	if f.mockMode() {
		return "confirmed", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/payments/%s", f.conf.ApiUrl, processorInvoiceID), nil)
	if err != nil {
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to build status request", err)
	}
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(f.conf.ApiUser, f.conf.ApiSecret))

	var response paymentResponse
	resp, err := request.CallWithClient(f.client, req, &response)
	if err != nil {
		return "", apierror.NewAPIError(apierror.ErrExternalService, "Payment processor unreachable", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", apierror.NewAPIError(apierror.ErrExternalService, fmt.Sprintf("Payment processor returned status %d", resp.StatusCode), nil)
	}

	return response.Status, nil
}

// VerifyEvent authenticates a webhook delivery. The signature is an HMAC-SHA256
// hex digest over the raw body; the timestamp is unix seconds and must fall
// inside the configured replay window. Without a configured secret the check
// passes only in mock mode.
func (f *ForumPay) VerifyEvent(signature string, rawBody []byte, timestamp string) error {
	if f.conf.WebhookSecret == "" {
		if f.conf.Mode == config.ProcessorModeMock {
			return nil
		}
		return apierror.NewAPIError(apierror.ErrSignature, "Webhook secret not configured", nil)
	}

	if err := f.checkReplayWindow(timestamp); err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(f.conf.WebhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return apierror.NewAPIError(apierror.ErrSignature, "Webhook signature mismatch", nil)
	}
	return nil
}

func (f *ForumPay) checkReplayWindow(timestamp string) error {
	if timestamp == "" {
		return apierror.NewAPIError(apierror.ErrReplay, "Webhook timestamp missing", nil)
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrReplay, "Webhook timestamp malformed", err)
	}

	window := time.Duration(f.conf.ReplayWindowSec) * time.Second
	age := f.now().Sub(time.Unix(ts, 0))
	if age > window || age < -window {
		return apierror.NewAPIError(apierror.ErrReplay, "Webhook timestamp outside replay window", nil)
	}
	return nil
}

// ParseEvent decodes an authenticated webhook body into an Event.
func (f *ForumPay) ParseEvent(rawBody []byte) (*Event, error) {
	event := &Event{}
	if err := json.Unmarshal(rawBody, event); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Webhook payload is not valid JSON", err)
	}
	if event.ProcessorInvoiceID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Webhook payload missing payment_id", nil)
	}
	return event, nil
}
