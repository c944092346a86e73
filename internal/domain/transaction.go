package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInput is returned when a transaction request fails boundary validation.
var ErrInvalidInput = errors.New("invalid input")

// Transaction represents a payment submitted for fraud analysis.
// It is immutable once handed to the analysis pipeline.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Parties involved
	UserID     string `json:"userId,omitempty"`
	MerchantID string `json:"merchantId"`

	// Financial details
	Amount        float64 `json:"amount"`
	Source        string  `json:"source"`        // Free text describing fund origin
	PaymentMethod string  `json:"paymentMethod"` // e.g. "credit_card", "crypto", "digital_wallet"
	Location      string  `json:"location"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata, never read by the scorer
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RecentActivityRecord is a historical transaction projection used for
// velocity and geographic comparison.
type RecentActivityRecord struct {
	TransactionID string    `json:"transactionId"`
	Timestamp     time.Time `json:"timestamp"`
	Location      string    `json:"location"`
	Amount        float64   `json:"amount"`
	MerchantID    string    `json:"merchantId"`
}

// TransactionRequest is the API request payload for transaction analysis.
type TransactionRequest struct {
	Amount        float64                `json:"amount"`
	Source        string                 `json:"source"`
	MerchantID    string                 `json:"merchantId"`
	PaymentMethod string                 `json:"paymentMethod"`
	Location      string                 `json:"location"`
	UserID        string                 `json:"userId,omitempty"`
	Timestamp     *time.Time             `json:"timestamp,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Validate rejects requests the scorer must never see.
func (r *TransactionRequest) Validate() error {
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	var missing []string
	if strings.TrimSpace(r.MerchantID) == "" {
		missing = append(missing, "merchantId")
	}
	if strings.TrimSpace(r.PaymentMethod) == "" {
		missing = append(missing, "paymentMethod")
	}
	if strings.TrimSpace(r.Source) == "" {
		missing = append(missing, "source")
	}
	if strings.TrimSpace(r.Location) == "" {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidInput, strings.Join(missing, ", "))
	}

	return nil
}

// ToTransaction converts a validated request to a Transaction domain object.
// A missing timestamp defaults to now.
func (r *TransactionRequest) ToTransaction(tenantID, txID string, now time.Time) *Transaction {
	now = now.UTC()
	ts := now
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		ts = r.Timestamp.UTC()
	}

	return &Transaction{
		ID:            txID,
		TenantID:      tenantID,
		UserID:        strings.TrimSpace(r.UserID),
		MerchantID:    strings.TrimSpace(r.MerchantID),
		Amount:        r.Amount,
		Source:        r.Source,
		PaymentMethod: strings.TrimSpace(r.PaymentMethod),
		Location:      r.Location,
		Timestamp:     ts,
		CreatedAt:     now,
		Metadata:      r.Metadata,
	}
}
