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
package model

import (
	"errors"
	"strings"
	"time"

	"github.com/coinvoice/coinvoice/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// CreateInvoice is the request body for opening a new invoice.
type CreateInvoice struct {
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Network        string `json:"network"`
	PayerReference string `json:"payer_reference"`
	WalletAddress  string `json:"wallet_address"`
}

func amountValidation(value interface{}) error {
	amount, ok := value.(string)
	if !ok {
		return errors.New("amount must be a string")
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return errors.New("amount must be a decimal number string")
	}
	if parsed.LessThanOrEqual(decimal.Zero) {
		return errors.New("amount must be greater than zero")
	}
	return nil
}

func walletAddressValidation(value interface{}) error {
	address, ok := value.(string)
	if !ok {
		return errors.New("wallet address must be a string")
	}
	if !strings.HasPrefix(address, "0x") {
		return errors.New("wallet address must start with 0x")
	}
	if len(address) != 42 {
		return errors.New("wallet address must be 42 characters long")
	}
	return nil
}

func (i *CreateInvoice) ValidateCreateInvoice() error {
	return validation.ValidateStruct(i,
		validation.Field(&i.Amount, validation.Required, validation.By(amountValidation)),
		validation.Field(&i.Currency, validation.Required, validation.Length(2, 5)),
		validation.Field(&i.PayerReference, validation.Required),
		validation.Field(&i.WalletAddress, validation.Required, validation.By(walletAddressValidation)),
	)
}

// InvoiceResponse is the public view of an invoice returned by the API.
type InvoiceResponse struct {
	InvoiceID      string    `json:"invoice_id"`
	Status         string    `json:"status"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Network        string    `json:"network,omitempty"`
	PaymentAddress string    `json:"payment_address,omitempty"`
	TxHash         string    `json:"tx_hash,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ToInvoiceResponse strips internal fields (processor id, event bookkeeping)
// from an invoice before it leaves the service.
func ToInvoiceResponse(invoice *model.Invoice) InvoiceResponse {
	return InvoiceResponse{
		InvoiceID:      invoice.InvoiceID,
		Status:         invoice.Status,
		Amount:         invoice.Amount,
		Currency:       invoice.Currency,
		Network:        invoice.Network,
		PaymentAddress: invoice.PaymentAddress,
		TxHash:         invoice.TxHash,
		CreatedAt:      invoice.CreatedAt,
		ExpiresAt:      invoice.ExpiresAt,
	}
}
