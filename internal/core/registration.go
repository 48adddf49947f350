package core

import (
	"github.com/ethereum/go-ethereum/common"

	"LiftoffLedger/internal/errs"
	"LiftoffLedger/internal/event"
	"LiftoffLedger/internal/ledger"
	"LiftoffLedger/internal/state"
)

// handleRegisterProject is the registration gate: it bounds the launch
// time and supply, then creates the sale with the gate as caller and the
// registrant as dev address.
func (c *DeterministicCore) handleRegisterProject(e *event.RegisterProject, now int64) (any, error) {
	timing := c.config.GetTiming()
	if e.LaunchTime < now+timing.MinLaunchTime {
		return nil, errs.ErrLaunchTooEarly.Withf("launch %d before %d", e.LaunchTime, now+timing.MinLaunchTime)
	}
	if e.LaunchTime > now+timing.MaxLaunchTime {
		return nil, errs.ErrLaunchTooLate.Withf("launch %d after %d", e.LaunchTime, now+timing.MaxLaunchTime)
	}
	if e.TotalSupply != nil && !e.TotalSupply.Lt(state.MaxSupply) {
		return nil, errs.ErrInvalidSupply.Withf("supply must be below %s", state.MaxSupply.Dec())
	}

	return c.createSale(state.SaleParams{
		CreatedAt:   now,
		StartTime:   e.LaunchTime,
		EndTime:     e.LaunchTime + timing.SoftCapTimer,
		SoftCap:     e.SoftCap,
		HardCap:     e.HardCap,
		TotalSupply: e.TotalSupply,
		Name:        e.Name,
		Symbol:      e.Symbol,
		IPFSHash:    e.IPFSHash,
		DevAddress:  e.Sender,
	})
}

// handleBaseDeposit credits bridged XETH. Only the base asset token
// (the bridge minter) may deposit.
func (c *DeterministicCore) handleBaseDeposit(e *event.BaseDeposit, now int64) (any, error) {
	if caller := e.Caller(); caller != c.config.GetPeerAddresses().BaseAssetToken {
		return nil, errs.ErrSenderNotAuthorized.Withf("%s is not the base asset token", caller.Hex())
	}
	if e.Recipient == (common.Address{}) {
		return nil, errs.ErrInvalidAddress.Withf("deposit recipient must be set")
	}
	if e.Amount == nil || e.Amount.IsZero() {
		return nil, errs.ErrInvalidAmount.Withf("deposit must be positive")
	}

	c.journalGen.Deposit(ledger.NewUserAccountKey(e.Recipient, ledger.AssetXETH), e.Amount)
	return &DepositResult{Recipient: e.Recipient, Amount: e.Amount.Clone()}, nil
}

func (c *DeterministicCore) handleSettingsUpdate(e *event.SettingsUpdate, now int64) (any, error) {
	if caller := e.Caller(); caller != c.settings.Snapshot().Owner {
		return nil, errs.ErrSenderNotAuthorized.Withf("%s is not the settings owner", caller.Hex())
	}
	if err := c.settings.Update(e.Settings); err != nil {
		return nil, err
	}
	return nil, nil
}
