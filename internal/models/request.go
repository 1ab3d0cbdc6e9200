package models

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	StatusToDo    RequestStatus = "to-do"
	StatusWorking RequestStatus = "working"
	StatusDone    RequestStatus = "done"
)

func (s RequestStatus) rank() int {
	switch s {
	case StatusToDo:
		return 0
	case StatusWorking:
		return 1
	case StatusDone:
		return 2
	default:
		return -1
	}
}

func (s RequestStatus) Valid() bool {
	return s.rank() >= 0
}

// CanAdvanceTo reports whether next is the single step after s.
// Requests move to-do -> working -> done and never go back.
func (s RequestStatus) CanAdvanceTo(next RequestStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() == s.rank()+1
}

// Previous returns the status a request must hold before moving to s.
func (s RequestStatus) Previous() (RequestStatus, bool) {
	switch s {
	case StatusWorking:
		return StatusToDo, true
	case StatusDone:
		return StatusWorking, true
	default:
		return "", false
	}
}

type Request struct {
	ID        uuid.UUID     `json:"id"`
	APIKeyID  int64         `json:"api_key_id"`
	Keyword   string        `json:"keyword"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
