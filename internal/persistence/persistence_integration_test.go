package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LiftoffLedger/internal/event"
	"LiftoffLedger/internal/persistence"
	"LiftoffLedger/internal/testutil"
)

func envelope(seq int64, key string, hash byte) *event.EventEnvelope {
	saleID := uint64(1)
	env := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: key,
		EventType:      event.EventTypeContribution,
		SaleID:         &saleID,
		Timestamp:      time.Unix(1_700_000_000+seq, 0).UTC(),
		SourceSequence: seq,
		Payload:        []byte(`{"sale_id":1,"amount":"1000","form":1}`),
	}
	env.StateHash[0] = hash
	env.PrevHash[0] = hash - 1
	return env
}

func TestPersistenceRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	applied, err := persistence.NewEventRow(envelope(0, uuid.NewString(), 0x10), []byte("digest-0"))
	require.NoError(t, err)

	rejectedEnv := envelope(1, uuid.NewString(), 0x11)
	rejectedEnv.Rejection = &event.Rejection{Kind: "StateError", Code: "NotIgniting", Message: "sale 1 is Pending"}
	rejected, err := persistence.NewEventRow(rejectedEnv, []byte("digest-1"))
	require.NoError(t, err)

	journal := persistence.JournalRow{
		JournalID:     uuid.NewString(),
		BatchID:       uuid.NewString(),
		EventRef:      applied.IdempotencyKey,
		Sequence:      0,
		DebitAccount:  "system:sale.1:escrow:XETH",
		CreditAccount: "external:native:source:XETH",
		AssetID:       0,
		Amount:        "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		JournalType:   1,
		Timestamp:     1_700_000_000,
	}

	in := make(chan persistence.CoreOutput, 2)
	in <- persistence.CoreOutput{EventRow: applied, JournalRows: []persistence.JournalRow{journal}, EmittedAt: time.Now()}
	in <- persistence.CoreOutput{EventRow: rejected}
	close(in)

	worker := persistence.NewPersistenceWorker(db, in, 10, 5*time.Millisecond, nil, zerolog.Nop())
	require.NoError(t, worker.Run(ctx))

	mgr := persistence.NewSnapshotManager(db)
	latest, err := mgr.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest)

	rows, err := mgr.LoadEventsFrom(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "applied", rows[0].Status)
	assert.Nil(t, rows[0].Rejection)
	assert.Equal(t, "rejected", rows[1].Status)
	assert.JSONEq(t, `{"kind":"StateError","code":"NotIgniting","message":"sale 1 is Pending"}`, string(rows[1].Rejection))
	assert.Equal(t, []byte("digest-1"), rows[1].StateDelta)
	assert.True(t, rows[1].SaleID.Valid)

	var amount string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT amount::text FROM event_log.journal WHERE sequence = 0`).Scan(&amount))
	assert.Equal(t, journal.Amount, amount)

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("Contribution", applied.IdempotencyKey)
	require.NoError(t, err)
	assert.True(t, dup)
	dup, err = checker.IsDuplicate("RewardClaim", applied.IdempotencyKey)
	require.NoError(t, err)
	assert.False(t, dup)

	keys, err := checker.RecentKeys(ctx, 10)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, rejected.IdempotencyKey, keys[0][1], "newest first")
}

func TestSnapshotVerification(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	row, err := persistence.NewEventRow(envelope(0, uuid.NewString(), 0x20), []byte("d"))
	require.NoError(t, err)
	in := make(chan persistence.CoreOutput, 1)
	in <- persistence.CoreOutput{EventRow: row}
	close(in)
	require.NoError(t, persistence.NewPersistenceWorker(db, in, 10, time.Millisecond, nil, zerolog.Nop()).Run(ctx))

	mgr := persistence.NewSnapshotManager(db)

	// Unverified snapshots are invisible to recovery.
	require.NoError(t, mgr.SaveSnapshot(ctx, persistence.SnapshotRecord{
		Sequence: 0, StateHash: row.StateHash, FormatVersion: 1, Data: []byte(`{"sequence":0}`),
	}))
	snap, err := mgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	// A snapshot ahead of the log waits; one that matches is promoted.
	require.NoError(t, mgr.SaveSnapshot(ctx, persistence.SnapshotRecord{
		Sequence: 5, StateHash: []byte{0xff}, FormatVersion: 1, Data: []byte(`{}`),
	}))
	verified, mismatched, err := mgr.VerifyPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, verified)
	assert.Empty(t, mismatched)

	snap, err = mgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(0), snap.Sequence)
	assert.Equal(t, row.StateHash, snap.StateHash)
}
