package event

import "github.com/holiman/uint256"

type RegisterInsurance struct {
	Header
	SaleID uint64 `json:"sale_id"`
}

func (e *RegisterInsurance) EventType() EventType { return EventTypeInsuranceRegister }
func (e *RegisterInsurance) SaleScope() *uint64   { return saleScope(e.SaleID) }

type CreateInsurance struct {
	Header
	SaleID uint64 `json:"sale_id"`
}

func (e *CreateInsurance) EventType() EventType { return EventTypeInsuranceCreate }
func (e *CreateInsurance) SaleScope() *uint64   { return saleScope(e.SaleID) }

// Redeem returns TokenAmount of the launched token to the fund at the floor rate.
type Redeem struct {
	Header
	SaleID      uint64       `json:"sale_id"`
	TokenAmount *uint256.Int `json:"token_amount"`
}

func (e *Redeem) EventType() EventType { return EventTypeInsuranceRedeem }
func (e *Redeem) SaleScope() *uint64   { return saleScope(e.SaleID) }

// ClaimInsurance releases vested fees and tokens to stakeholders.
type ClaimInsurance struct {
	Header
	SaleID uint64 `json:"sale_id"`
}

func (e *ClaimInsurance) EventType() EventType { return EventTypeInsuranceClaim }
func (e *ClaimInsurance) SaleScope() *uint64   { return saleScope(e.SaleID) }
