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
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coinvoice/coinvoice/config"
	"github.com/coinvoice/coinvoice/internal/apierror"
	"github.com/coinvoice/coinvoice/model"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func liveConf() config.ProcessorConfig {
	return config.ProcessorConfig{
		ApiUrl:          "https://api.forumpay.test/pay/v2",
		ApiUser:         "merchant",
		ApiSecret:       "s3cret",
		WebhookSecret:   "whsec",
		Mode:            config.ProcessorModeLive,
		TimeoutSec:      5,
		ReplayWindowSec: 300,
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestOpenPayment_Live(t *testing.T) {
	fp := NewForumPay(liveConf())
	httpmock.ActivateNonDefault(fp.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://api.forumpay.test/pay/v2/payments/start",
		func(req *http.Request) (*http.Response, error) {
			assert.True(t, strings.HasPrefix(req.Header.Get("Authorization"), "Basic "))
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"payment_id":   "fp_live_1",
				"address":      "0xDepositAddress",
				"amount":       "25.00",
				"currency":     "ETH",
				"reference_no": "inv_1",
				"status":       "waiting",
			})
		})

	intent, err := fp.OpenPayment(context.Background(), "25.00", "ETH", "inv_1", "payer_1")
	assert.NoError(t, err)
	assert.Equal(t, "fp_live_1", intent.ProcessorInvoiceID)
	assert.Equal(t, "0xDepositAddress", intent.PaymentAddress)
	assert.Equal(t, "waiting", intent.Status)
}

func TestOpenPayment_LiveServerError(t *testing.T) {
	fp := NewForumPay(liveConf())
	httpmock.ActivateNonDefault(fp.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://api.forumpay.test/pay/v2/payments/start",
		httpmock.NewStringResponder(500, `{}`))

	_, err := fp.OpenPayment(context.Background(), "25.00", "ETH", "inv_1", "")
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrExternalService))
}

func TestOpenPayment_MockMode(t *testing.T) {
	conf := liveConf()
	conf.Mode = config.ProcessorModeMock
	fp := NewForumPay(conf)

	intent, err := fp.OpenPayment(context.Background(), "10.00", "BTC", "inv_2", "")
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(intent.ProcessorInvoiceID, "fp_"))
	assert.Equal(t, mockPaymentAddress, intent.PaymentAddress)
	assert.Equal(t, "waiting", intent.Status)
}

func TestFetchStatus_Live(t *testing.T) {
	fp := NewForumPay(liveConf())
	httpmock.ActivateNonDefault(fp.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://api.forumpay.test/pay/v2/payments/fp_live_1",
		httpmock.NewStringResponder(200, `{"payment_id":"fp_live_1","status":"confirming"}`))

	status, err := fp.FetchStatus(context.Background(), "fp_live_1")
	assert.NoError(t, err)
	assert.Equal(t, "confirming", status)
}

func TestVerifyEvent_ValidSignature(t *testing.T) {
	fp := NewForumPay(liveConf())
	body := []byte(`{"payment_id":"fp_1","status":"confirmed"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	assert.NoError(t, fp.VerifyEvent(sign("whsec", body), body, ts))
}

func TestVerifyEvent_InvalidSignature(t *testing.T) {
	fp := NewForumPay(liveConf())
	body := []byte(`{"payment_id":"fp_1","status":"confirmed"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	err := fp.VerifyEvent(sign("wrong-secret", body), body, ts)
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrSignature))
}

func TestVerifyEvent_MissingSecretFailsClosedInLiveMode(t *testing.T) {
	conf := liveConf()
	conf.WebhookSecret = ""
	fp := NewForumPay(conf)

	err := fp.VerifyEvent("anything", []byte(`{}`), "0")
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrSignature))
}

func TestVerifyEvent_MissingSecretBypassedInMockMode(t *testing.T) {
	conf := liveConf()
	conf.WebhookSecret = ""
	conf.Mode = config.ProcessorModeMock
	fp := NewForumPay(conf)

	assert.NoError(t, fp.VerifyEvent("anything", []byte(`{}`), ""))
}

func TestVerifyEvent_ReplayWindow(t *testing.T) {
	fp := NewForumPay(liveConf())
	fp.now = func() time.Time { return time.Unix(10_000, 0) }
	body := []byte(`{"payment_id":"fp_1","status":"confirmed"}`)
	signature := sign("whsec", body)

	// inside the window
	assert.NoError(t, fp.VerifyEvent(signature, body, strconv.FormatInt(10_000-299, 10)))

	// too old
	err := fp.VerifyEvent(signature, body, strconv.FormatInt(10_000-301, 10))
	assert.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrReplay))

	// missing timestamp
	err = fp.VerifyEvent(signature, body, "")
	assert.True(t, apierror.HasCode(err, apierror.ErrReplay))
}

func TestParseEvent(t *testing.T) {
	fp := NewForumPay(liveConf())

	event, err := fp.ParseEvent([]byte(`{"payment_id":"fp_1","status":"confirmed","tx_hash":"0xabc","event_id":"evt_9"}`))
	assert.NoError(t, err)
	assert.Equal(t, "fp_1", event.ProcessorInvoiceID)
	assert.Equal(t, "0xabc", event.TxHash)
	assert.Equal(t, "evt_9", event.Key())

	_, err = fp.ParseEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = fp.ParseEvent([]byte(`{"status":"confirmed"}`))
	assert.Error(t, err)
}

func TestEventKey_SynthesizedWhenMissing(t *testing.T) {
	event := &Event{ProcessorInvoiceID: "fp_1", Status: "confirmed"}
	assert.Equal(t, "fp_1:confirmed", event.Key())
}

func TestMapStatus_TotalOverProcessorVocabulary(t *testing.T) {
	expectations := map[string]string{
		"waiting":    model.StatusPending,
		"processing": model.StatusDetected,
		"confirming": model.StatusDetected,
		"confirmed":  model.StatusConfirmed,
		"settled":    model.StatusPaid,
		"cancelled":  model.StatusFailed,
		"timeout":    model.StatusExpired,
	}
	for processorStatus, want := range expectations {
		got, ok := MapStatus(processorStatus)
		assert.True(t, ok, fmt.Sprintf("status %s must be mapped", processorStatus))
		assert.Equal(t, want, got)
	}

	_, ok := MapStatus("some-future-status")
	assert.False(t, ok)
}
