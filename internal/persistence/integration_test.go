package persistence_test

import (
	"context"
	"testing"
	"time"

	"HookLedger/internal/persistence"
	"HookLedger/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_EventLogReplay(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	c := newCore(t)
	outs := seed(t, c)

	var (
		events   []persistence.EventRow
		journals []persistence.JournalRow
	)
	for _, out := range outs {
		rec := persistence.RecordFromOutput(*out)
		events = append(events, rec.EventRow)
		journals = append(journals, rec.JournalRows...)
	}

	w := persistence.NewEventLogWriter(db)
	require.NoError(t, w.WriteEventBatch(ctx, db, events))
	require.NoError(t, w.WriteJournalBatch(ctx, db, journals))
	// Rewrites are ignored.
	require.NoError(t, w.WriteEventBatch(ctx, db, events))

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(outs)-1), latest)

	rows, err := sm.LoadEventsFrom(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, len(outs))
	assert.Equal(t, "rejected", rows[3].Outcome)

	fresh := newCore(t)
	for _, row := range rows {
		evt, hash, err := row.Decode()
		require.NoError(t, err)
		require.NoError(t, fresh.Replay(evt, hash))
	}
	assert.Equal(t, c.GetStateHash(), fresh.GetStateHash())

	idem := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := idem.IsDuplicate("CollateralDeposited", "dep")
	require.NoError(t, err)
	assert.True(t, dup)
	dup, err = idem.IsDuplicate("CollateralDeposited", "never-seen")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestIntegration_SnapshotVerification(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	c := newCore(t)
	outs := seed(t, c)
	w := persistence.NewEventLogWriter(db)
	for _, out := range outs {
		require.NoError(t, w.WriteEventBatch(ctx, db, []persistence.EventRow{persistence.RecordFromOutput(*out).EventRow}))
	}

	sm := persistence.NewSnapshotManager(db)
	snap := persistence.SnapshotFromState(c.CreateSnapshotState(), time.Now().UTC())
	_, err := sm.SaveSnapshot(ctx, snap)
	require.NoError(t, err)

	// Unverified snapshots are never loaded.
	loaded, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, sm.MarkVerified(ctx, snap.Sequence))
	loaded, err = sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snap.Sequence, loaded.Sequence)

	st, err := loaded.State()
	require.NoError(t, err)
	restored := newCore(t)
	require.NoError(t, restored.RestoreFromSnapshot(st))
	assert.Equal(t, c.GetStateHash(), restored.GetStateHash())

	// A snapshot ahead of the log cannot be verified.
	ahead := *snap
	ahead.Sequence = 99
	_, err = sm.SaveSnapshot(ctx, &ahead)
	require.NoError(t, err)
	assert.Error(t, sm.MarkVerified(ctx, 99))
}

func TestIntegration_MigrationsReversible(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	m := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop())
	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, s := range status {
		assert.True(t, s.Applied, s.Filename)
	}

	require.NoError(t, m.Down(ctx))
	status, err = m.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status[len(status)-1].Applied)

	require.NoError(t, m.Up(ctx))
}
