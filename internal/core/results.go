package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Results are JSON-encoded into EventEnvelope.Result and Result.Output.

type SaleCreatedResult struct {
	SaleID uint64 `json:"sale_id"`
}

type ContributionResult struct {
	SaleID       uint64         `json:"sale_id"`
	Beneficiary  common.Address `json:"beneficiary"`
	Contributed  *uint256.Int   `json:"contributed"`
	TotalIgnited *uint256.Int   `json:"total_ignited"`
	EndTime      int64          `json:"end_time"`
}

type WithdrawResult struct {
	SaleID       uint64       `json:"sale_id"`
	Amount       *uint256.Int `json:"amount"`
	TotalIgnited *uint256.Int `json:"total_ignited"`
}

type FinalizeResult struct {
	SaleID       uint64         `json:"sale_id"`
	Status       string         `json:"status"`
	Token        common.Address `json:"token,omitempty"`
	Pair         common.Address `json:"pair,omitempty"`
	Supply       *uint256.Int   `json:"supply,omitempty"`
	RewardSupply *uint256.Int   `json:"reward_supply,omitempty"`
}

type RewardResult struct {
	SaleID      uint64         `json:"sale_id"`
	Beneficiary common.Address `json:"beneficiary"`
	Reward      *uint256.Int   `json:"reward"`
}

type RefundResult struct {
	SaleID      uint64         `json:"sale_id"`
	Beneficiary common.Address `json:"beneficiary"`
	Refund      *uint256.Int   `json:"refund"`
	Status      string         `json:"status"`
}

type EndTimeResult struct {
	SaleID  uint64 `json:"sale_id"`
	EndTime int64  `json:"end_time"`
}

type InsuranceRegisteredResult struct {
	SaleID uint64 `json:"sale_id"`
}

type InsuranceCreatedResult struct {
	SaleID           uint64       `json:"sale_id"`
	TokensPerEthWad  *uint256.Int `json:"tokens_per_eth_wad"`
	BaseXEth         *uint256.Int `json:"base_xeth"`
	BaseTokenLidPool *uint256.Int `json:"base_token_lid_pool"`
}

type RedeemResult struct {
	SaleID  uint64       `json:"sale_id"`
	XEthOut *uint256.Int `json:"xeth_out"`
	Unwound bool         `json:"unwound"`
}

type ClaimResult struct {
	SaleID  uint64       `json:"sale_id"`
	Cycle   int64        `json:"cycle"`
	XEth    *uint256.Int `json:"xeth"`
	Tokens  *uint256.Int `json:"tokens"`
	BaseFee *uint256.Int `json:"base_fee"`
}

type DepositResult struct {
	Recipient common.Address `json:"recipient"`
	Amount    *uint256.Int   `json:"amount"`
}
