package model

import "time"

// ChargeRequest is the raw debit request as it arrives from a transport.
// Unit is left untyped so that the validator sees exactly what the caller sent.
type ChargeRequest struct {
	ServiceType string `json:"serviceType,omitempty"`
	Unit        any    `json:"unit"`
	Delay       string `json:"delay,omitempty"`
}

type ChargeResult struct {
	RemainingBalance int64 `json:"remainingBalance"`
	IsAuthorized     bool  `json:"isAuthorized"`
	Charges          int64 `json:"charges"`
}

type ResetResult struct {
	Balance int64 `json:"balance"`
}

// ChargeEvent is published after a debit has been committed by the store.
type ChargeEvent struct {
	ID               string    `json:"id"`
	Backend          string    `json:"backend"`
	AccountKey       string    `json:"account_key"`
	ServiceType      string    `json:"service_type,omitempty"`
	Charges          int64     `json:"charges"`
	RemainingBalance int64     `json:"remaining_balance"`
	CreatedAt        time.Time `json:"created_at"`
}
