package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalOrder tracks one broker order submission from creation until the
// reconciler confirms conversion, rejection, or expiry. The deal reference is
// generated locally before any broker call, so a crash between row creation
// and submission leaves an orphan row the reconciler can expire, never a
// broker order we have no record of attempting.
type LocalOrder struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	InstrumentID  uuid.UUID
	DealReference string
	DealID        string // empty until the broker accepts
	IsOpen        bool
	CreatedAt     time.Time
}

// NewLocalOrder creates an order row for an instrument with a fresh deal
// reference.
func NewLocalOrder(userID, instrumentID uuid.UUID) *LocalOrder {
	return &LocalOrder{
		ID:            uuid.New(),
		UserID:        userID,
		InstrumentID:  instrumentID,
		DealReference: NewDealReference(),
		IsOpen:        true,
		CreatedAt:     time.Now().UTC(),
	}
}

// NewDealReference generates a globally unique, broker-safe reference.
// The broker accepts up to 30 alphanumeric characters.
func NewDealReference() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "TH" + raw[:28]
}
