// internal/event/header.go
package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Header carries the fields every command shares. Embedding it supplies
// all Event methods except EventType and SaleScope.
type Header struct {
	Key      uuid.UUID      `json:"idempotency_key"`
	Sender   common.Address `json:"sender"`
	Source   string         `json:"source"`
	Sequence int64          `json:"source_sequence"`
	Now      int64          `json:"now"`
}

// Meta exposes the header so shells can stamp fields before submission.
func (h *Header) Meta() *Header { return h }

func (h *Header) IdempotencyKey() string { return h.Key.String() }

func (h *Header) SourceSequence() int64 { return h.Sequence }

func (h *Header) Caller() common.Address { return h.Sender }

func (h *Header) OccurredAt() int64 { return h.Now }

func (h *Header) SourceName() string {
	if h.Source == "" {
		return "default"
	}
	return h.Source
}

func saleScope(id uint64) *uint64 {
	v := id
	return &v
}
