package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is one normalized listing entry. It is built once by the extractor
// and never mutated afterwards.
type Product struct {
	RequestID    uuid.UUID `json:"request_id"`
	StoreID      int64     `json:"store_id"`
	Store        string    `json:"store"`
	Image        string    `json:"image"`
	Title        string    `json:"title"`
	Rating       float64   `json:"rating"`
	ReviewCount  int       `json:"review_count"`
	Price        float64   `json:"price"`
	IsBestSeller bool      `json:"is_best_seller"`
	SalesCount   int       `json:"sales_count"`
	Link         string    `json:"link"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	UsesProxies bool   `json:"uses_proxies"`
}

type APIKey struct {
	ID       int64  `json:"id"`
	Token    string `json:"-"`
	IsActive bool   `json:"is_active"`
}

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// StoreOutcome records how one store's task ended for a request.
type StoreOutcome struct {
	RequestID  uuid.UUID     `json:"request_id"`
	StoreID    int64         `json:"store_id"`
	Store      string        `json:"store"`
	Status     OutcomeStatus `json:"status"`
	Products   int           `json:"products"`
	Error      string        `json:"error,omitempty"`
	ProxyUsed  bool          `json:"proxy_used"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}
