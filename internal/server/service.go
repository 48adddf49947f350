package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"LiftoffLedger/internal/errs"
	"LiftoffLedger/internal/event"
	"LiftoffLedger/internal/projection"
	"LiftoffLedger/internal/query"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// --- Requests and responses ---

type SubmitRequest struct {
	EventType string          `json:"event_type"`
	Command   json.RawMessage `json:"command"`
}

type SubmitResponse struct {
	Sequence  int64            `json:"sequence"`
	Duplicate bool             `json:"duplicate"`
	Status    string           `json:"status"`
	Rejection *event.Rejection `json:"rejection,omitempty"`
	Result    json.RawMessage  `json:"result,omitempty"`
}

type SaleRequest struct {
	SaleID uint64 `json:"sale_id"`
}

type ListSalesRequest struct {
	Limit    int     `json:"limit"`
	BeforeID *uint64 `json:"before_id,omitempty"`
}

type ListSalesResponse struct {
	Sales []query.SaleResponse `json:"sales"`
}

type ContributionRequest struct {
	SaleID      uint64 `json:"sale_id"`
	Contributor string `json:"contributor"`
}

// InsuranceRequest evaluates views at Now; zero means the server clock.
type InsuranceRequest struct {
	SaleID uint64 `json:"sale_id"`
	Now    int64  `json:"now"`
}

type RedeemValueRequest struct {
	SaleID      uint64 `json:"sale_id"`
	TokenAmount string `json:"token_amount"`
	Now         int64  `json:"now"`
}

type WalletBalancesRequest struct {
	Owner string `json:"owner"`
}

type WalletBalancesResponse struct {
	Balances []query.BalanceResponse `json:"balances"`
}

type AccountBalanceRequest struct {
	AccountPath string `json:"account_path"`
}

type JournalRequest struct {
	AccountPath    string `json:"account_path"`
	Limit          int    `json:"limit"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type JournalResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

type IntegrityRequest struct {
	FromSequence int64 `json:"from_sequence"`
	Limit        int   `json:"limit"`
}

type EventLogInfoRequest struct{}

type EventLogInfoResponse struct {
	LastSequence int64  `json:"last_sequence"`
	Uptime       string `json:"uptime"`
}

type SnapshotRequest struct{}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildRequest struct{}

type RebuildResponse struct {
	Rebuilt bool `json:"rebuilt"`
}

// LedgerServer is the RPC surface: command submission, read views and
// admin operations.
type LedgerServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetSale(context.Context, *SaleRequest) (*query.SaleResponse, error)
	ListSales(context.Context, *ListSalesRequest) (*ListSalesResponse, error)
	GetContribution(context.Context, *ContributionRequest) (*query.ContributionResponse, error)
	GetInsurance(context.Context, *InsuranceRequest) (*query.InsuranceResponse, error)
	GetRedeemValue(context.Context, *RedeemValueRequest) (*query.RedeemQuote, error)
	GetWalletBalances(context.Context, *WalletBalancesRequest) (*WalletBalancesResponse, error)
	GetAccountBalance(context.Context, *AccountBalanceRequest) (*query.BalanceResponse, error)
	ListJournals(context.Context, *JournalRequest) (*JournalResponse, error)
	VerifyIntegrity(context.Context, *IntegrityRequest) (*query.IntegrityReport, error)
	GetEventLogInfo(context.Context, *EventLogInfoRequest) (*EventLogInfoResponse, error)
	TakeSnapshot(context.Context, *SnapshotRequest) (*SnapshotResponse, error)
	RebuildProjections(context.Context, *RebuildRequest) (*RebuildResponse, error)
}

// SnapshotFunc asks the core goroutine for a snapshot and returns its sequence.
type SnapshotFunc func(ctx context.Context) (int64, error)

type ledgerService struct {
	deps *ServerDeps
	now  func() time.Time
}

var _ LedgerServer = (*ledgerService)(nil)

func (s *ledgerService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if s.deps.IngestService == nil {
		return nil, status.Error(codes.Unavailable, "ingest disabled")
	}
	res, err := s.deps.IngestService.Submit(ctx, req.EventType, req.Command)
	if err != nil {
		return nil, err
	}

	resp := &SubmitResponse{Sequence: res.Sequence, Duplicate: res.Duplicate, Result: res.Output}
	switch {
	case res.Duplicate:
		resp.Status = "duplicate"
	case res.Rejected != nil:
		resp.Status = "rejected"
		resp.Rejection = &event.Rejection{
			Kind:    errs.KindOf(res.Rejected).String(),
			Code:    errs.CodeOf(res.Rejected),
			Message: res.Rejected.Error(),
		}
	default:
		resp.Status = "applied"
	}
	return resp, nil
}

func (s *ledgerService) GetSale(ctx context.Context, req *SaleRequest) (*query.SaleResponse, error) {
	return s.deps.QueryService.GetSale(ctx, req.SaleID)
}

func (s *ledgerService) ListSales(ctx context.Context, req *ListSalesRequest) (*ListSalesResponse, error) {
	sales, err := s.deps.QueryService.ListSales(ctx, pageSize(req.Limit), req.BeforeID)
	if err != nil {
		return nil, err
	}
	return &ListSalesResponse{Sales: sales}, nil
}

func (s *ledgerService) GetContribution(ctx context.Context, req *ContributionRequest) (*query.ContributionResponse, error) {
	addr, err := parseAddress(req.Contributor)
	if err != nil {
		return nil, err
	}
	return s.deps.QueryService.GetContribution(ctx, req.SaleID, addr)
}

func (s *ledgerService) GetInsurance(ctx context.Context, req *InsuranceRequest) (*query.InsuranceResponse, error) {
	return s.deps.QueryService.GetInsurance(ctx, req.SaleID, s.at(req.Now))
}

func (s *ledgerService) GetRedeemValue(ctx context.Context, req *RedeemValueRequest) (*query.RedeemQuote, error) {
	amount, err := uint256.FromDecimal(req.TokenAmount)
	if err != nil {
		return nil, errs.ErrInvalidAmount.Withf("token_amount %q: %v", req.TokenAmount, err)
	}
	return s.deps.QueryService.GetRedeemValue(ctx, req.SaleID, amount, s.at(req.Now))
}

func (s *ledgerService) GetWalletBalances(ctx context.Context, req *WalletBalancesRequest) (*WalletBalancesResponse, error) {
	addr, err := parseAddress(req.Owner)
	if err != nil {
		return nil, err
	}
	balances, err := s.deps.QueryService.GetWalletBalances(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &WalletBalancesResponse{Balances: balances}, nil
}

func (s *ledgerService) GetAccountBalance(ctx context.Context, req *AccountBalanceRequest) (*query.BalanceResponse, error) {
	return s.deps.QueryService.GetAccountBalance(ctx, req.AccountPath)
}

func (s *ledgerService) ListJournals(ctx context.Context, req *JournalRequest) (*JournalResponse, error) {
	entries, err := s.deps.QueryService.GetJournalHistory(ctx, req.AccountPath, pageSize(req.Limit), req.BeforeSequence)
	if err != nil {
		return nil, err
	}
	return &JournalResponse{Entries: entries}, nil
}

func (s *ledgerService) VerifyIntegrity(ctx context.Context, req *IntegrityRequest) (*query.IntegrityReport, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10_000
	}
	return s.deps.QueryService.VerifyIntegrity(ctx, req.FromSequence, limit)
}

func (s *ledgerService) GetEventLogInfo(ctx context.Context, _ *EventLogInfoRequest) (*EventLogInfoResponse, error) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest sequence: %w", err)
	}
	return &EventLogInfoResponse{
		LastSequence: latestSeq,
		Uptime:       s.now().Sub(s.deps.StartTime).Round(time.Second).String(),
	}, nil
}

func (s *ledgerService) TakeSnapshot(ctx context.Context, _ *SnapshotRequest) (*SnapshotResponse, error) {
	if s.deps.Snapshot == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots disabled")
	}
	seq, err := s.deps.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &SnapshotResponse{Sequence: seq}, nil
}

func (s *ledgerService) RebuildProjections(ctx context.Context, _ *RebuildRequest) (*RebuildResponse, error) {
	if err := projection.RebuildBalances(ctx, s.deps.DB); err != nil {
		return nil, fmt.Errorf("rebuild failed: %w", err)
	}
	return &RebuildResponse{Rebuilt: true}, nil
}

// at resolves a request's evaluation time.
func (s *ledgerService) at(now int64) int64 {
	if now > 0 {
		return now
	}
	return s.now().Unix()
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errs.ErrInvalidAddress.Withf("%q is not an address", s)
	}
	return common.HexToAddress(s), nil
}
