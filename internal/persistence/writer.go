package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"HookLedger/internal/core"
	"HookLedger/internal/event"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes the operation log and journals to Postgres using
// multi-row INSERTs. Writes are idempotent on sequence / journal_id.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	PoolID         string
	Payload        []byte // JSON-encoded operation
	Outcome        string
	Reason         string
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	PoolID        string
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   string
	Timestamp     int64
}

// Record is everything one core output writes to the event log.
type Record struct {
	EventRow    EventRow
	JournalRows []JournalRow
}

// RecordFromOutput converts a core output into log rows.
func RecordFromOutput(out core.CoreOutput) Record {
	env := out.Envelope
	rec := Record{EventRow: EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PoolID:         env.PoolID,
		Payload:        env.Payload,
		Outcome:        string(env.Outcome),
		Reason:         env.Reason,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      time.Unix(env.Timestamp, 0).UTC(),
		SourceSequence: env.SourceSequence,
	}}

	if out.Batch == nil {
		return rec
	}
	for _, j := range out.Batch.Journals {
		rec.JournalRows = append(rec.JournalRows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			PoolID:        j.DebitAccount.PoolID,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		})
	}
	return rec
}

// Decode parses the logged operation back into its typed form together with
// the state hash it produced.
func (r EventRow) Decode() (event.Event, [32]byte, error) {
	var hash [32]byte
	if len(r.StateHash) != len(hash) {
		return nil, hash, fmt.Errorf("seq %d: state hash has %d bytes", r.Sequence, len(r.StateHash))
	}
	copy(hash[:], r.StateHash)

	evt, err := event.Decode(r.EventType, r.Payload)
	if err != nil {
		return nil, hash, fmt.Errorf("seq %d: %w", r.Sequence, err)
	}
	return evt, hash, nil
}

// StateHashHex is the hash in the form used by logs and the query API.
func (r EventRow) StateHashHex() string {
	return hex.EncodeToString(r.StateHash)
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of operations to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 11
	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, pool_id, payload, outcome, reason,
		 state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.PoolID, e.Payload,
			e.Outcome, e.Reason, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 10
	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, pool_id, debit_account, credit_account,
		 amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence, j.PoolID,
			j.DebitAccount, j.CreditAccount, j.Amount, j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}
