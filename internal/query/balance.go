package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"LiftoffLedger/internal/errs"
	"LiftoffLedger/internal/ledger"
)

// BalanceResponse is one ledger account balance. External accounts may be
// negative; every other account is non-negative.
type BalanceResponse struct {
	AccountPath  string `json:"account_path"`
	Asset        string `json:"asset"`
	Balance      string `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetWalletBalance returns a user's wallet balance for one asset
// ("XETH" or "token.<saleID>").
func (qs *QueryService) GetWalletBalance(ctx context.Context, owner common.Address, asset string) (*BalanceResponse, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, errs.ErrInvalidAsset.Withf("unknown asset %q", asset)
	}
	return qs.GetAccountBalance(ctx, ledger.NewUserAccountKey(owner, assetID).AccountPath())
}

// GetAccountBalance returns the projected balance of any account path.
func (qs *QueryService) GetAccountBalance(ctx context.Context, accountPath string) (*BalanceResponse, error) {
	key, err := ledger.ParseAccountPath(accountPath)
	if err != nil {
		return nil, errs.ErrInvalidAsset.Withf("account %q: %v", accountPath, err)
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var balance string
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		balance = "0"
	} else if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		AccountPath:  accountPath,
		Asset:        ledger.GetAssetName(key.AssetID),
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetWalletBalances returns every non-zero wallet balance of a user.
func (qs *QueryService) GetWalletBalances(ctx context.Context, owner common.Address) ([]BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("user:%s:wallet:", owner.Hex())
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset_id, balance::text FROM projections.balances
		WHERE account_path LIKE $1 || '%' AND balance <> 0
		ORDER BY account_path
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceResponse
	for rows.Next() {
		var b BalanceResponse
		var assetID uint64
		if err := rows.Scan(&b.AccountPath, &assetID, &b.Balance); err != nil {
			return nil, err
		}
		b.Asset = ledger.GetAssetName(ledger.AssetID(assetID))
		b.AsOfSequence = asOfSeq
		out = append(out, b)
	}
	return out, rows.Err()
}
