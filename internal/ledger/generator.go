package ledger

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalGenerator creates balanced journal batches for one event at a time.
// Legs are appended in the order the caller records them; zero-amount legs
// are skipped so callers can record unconditionally.
type JournalGenerator struct {
	batch *Batch
}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

// Begin starts a new batch for the event identified by eventRef.
func (jg *JournalGenerator) Begin(sequence int64, eventRef string, timestamp int64) {
	jg.batch = &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 4),
	}
}

// Transfer moves amount of asset from credit to debit.
func (jg *JournalGenerator) Transfer(
	debit AccountKey,
	credit AccountKey,
	amount *uint256.Int,
	journalType JournalType,
) {
	if jg.batch == nil || amount == nil || amount.IsZero() {
		return
	}
	jg.batch.Journals = append(jg.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       jg.batch.BatchID,
		EventRef:      jg.batch.EventRef,
		Sequence:      jg.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        *amount,
		JournalType:   journalType,
		Timestamp:     jg.batch.Timestamp,
	})
}

// Pending returns the legs recorded so far for the current batch.
func (jg *JournalGenerator) Pending() []Journal {
	if jg.batch == nil {
		return nil
	}
	return jg.batch.Journals
}

// Finish returns the current batch, or nil when no legs were recorded.
func (jg *JournalGenerator) Finish() *Batch {
	b := jg.batch
	jg.batch = nil
	if b == nil || len(b.Journals) == 0 {
		return nil
	}
	return b
}

// Discard drops the current batch.
func (jg *JournalGenerator) Discard() {
	jg.batch = nil
}

// ============================================================================
// Common legs
// ============================================================================

// Deposit credits a wallet with bridged base asset.
// Moves funds from external:deposits to the user wallet.
func (jg *JournalGenerator) Deposit(recipient AccountKey, amount *uint256.Int) {
	jg.Transfer(recipient, NewExternalAccountKey(SubTypeExternalDeposits, AssetXETH), amount, JournalTypeDeposit)
}
