package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation marks malformed or incomplete scoring requests.
// Wrapped with the offending field so callers can branch on errors.Is.
var ErrValidation = errors.New("validation error")

// TransactionRecord is an incoming transaction to be scored.
// It is created by the caller and never mutated by the pipeline.
type TransactionRecord struct {
	ID               string  `json:"id"`
	UserID           string  `json:"userId"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	MerchantID       string  `json:"merchantId"`
	MerchantCategory string  `json:"merchantCategory"`

	// AccountBalance is the user's balance at the time of the transaction.
	AccountBalance float64 `json:"accountBalance"`

	// PaymentMethod (e.g., "credit_card", "debit_card", "wallet", "cash")
	PaymentMethod string `json:"paymentMethod"`

	// DeviceFingerprint is optional; empty means unknown device.
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`

	// Location is optional; nil means unknown location.
	Location *Geolocation `json:"location,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Geolocation is a geographic point attached to a transaction.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
}

// ScoreRequest is the API request payload for transaction scoring.
type ScoreRequest struct {
	TransactionID     string       `json:"transaction_id,omitempty"`
	UserID            string       `json:"user_id"`
	Amount            float64      `json:"amount"`
	Currency          string       `json:"currency"`
	MerchantID        string       `json:"merchant_id"`
	MerchantCategory  string       `json:"merchant_category,omitempty"`
	AccountBalance    float64      `json:"account_balance"`
	PaymentMethod     string       `json:"payment_method,omitempty"`
	DeviceFingerprint string       `json:"device_fingerprint,omitempty"`
	Location          *Geolocation `json:"location,omitempty"`
	Timestamp         *time.Time   `json:"timestamp,omitempty"`
}

// Validate checks required fields. Optional fields (location, device,
// merchant category) are allowed to be absent; the feature extractor
// treats them as "unknown" rather than zero-risk.
func (r *ScoreRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if r.MerchantID == "" {
		return fmt.Errorf("%w: merchant_id is required", ErrValidation)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if r.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if r.AccountBalance < 0 {
		return fmt.Errorf("%w: account_balance must not be negative", ErrValidation)
	}
	return nil
}

// ToTransaction converts a validated request into a TransactionRecord.
// generatedID is used when the caller did not supply a transaction id.
func (r *ScoreRequest) ToTransaction(generatedID string) *TransactionRecord {
	ts := time.Now().UTC()
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC()
	}

	id := r.TransactionID
	if id == "" {
		id = generatedID
	}

	return &TransactionRecord{
		ID:                id,
		UserID:            r.UserID,
		Amount:            r.Amount,
		Currency:          r.Currency,
		MerchantID:        r.MerchantID,
		MerchantCategory:  r.MerchantCategory,
		AccountBalance:    r.AccountBalance,
		PaymentMethod:     r.PaymentMethod,
		DeviceFingerprint: r.DeviceFingerprint,
		Location:          r.Location,
		Timestamp:         ts,
	}
}
