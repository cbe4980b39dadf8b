package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"HookLedger/internal/core"
	"HookLedger/internal/event"
	"HookLedger/internal/query"
	"HookLedger/internal/state"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

// Queries is the projection-backed read side (*query.QueryService).
type Queries interface {
	GetPool(ctx context.Context, poolID string) (*query.PoolResponse, error)
	GetPosition(ctx context.Context, poolID string, account uuid.UUID) (*query.PositionResponse, error)
	GetStake(ctx context.Context, poolID string, account uuid.UUID) (*query.StakeResponse, error)
	GetBalance(ctx context.Context, poolID string, account uuid.UUID) (*query.BalanceResponse, error)
	GetJournalHistory(ctx context.Context, poolID string, account uuid.UUID, limit int, afterSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// LiveState runs reads against the live core (*core.Runner).
type LiveState interface {
	Read(ctx context.Context, fn func(*core.DeterministicCore)) error
}

// Operations submits operator commands (*ingestion.AdminIngestService).
type Operations interface {
	Submit(ctx context.Context, eventType string, payload json.RawMessage) (*core.CoreOutput, error)
}

// --- Messages ---

type PoolRequest struct {
	PoolID string `json:"pool_id"`
}

type AccountRequest struct {
	PoolID  string    `json:"pool_id"`
	Account uuid.UUID `json:"account"`
}

type JournalRequest struct {
	PoolID        string    `json:"pool_id"`
	Account       uuid.UUID `json:"account"`
	Limit         int       `json:"limit,omitempty"`
	AfterSequence *int64    `json:"after_sequence,omitempty"`
}

type JournalResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

// LiveRequest evaluates against the live core at Now (unix seconds). Zero
// means the current time.
type LiveRequest struct {
	PoolID  string    `json:"pool_id"`
	Account uuid.UUID `json:"account"`
	Now     int64     `json:"now,omitempty"`
}

type PendingFeesResponse struct {
	PoolID  string           `json:"pool_id"`
	Account uuid.UUID        `json:"account"`
	Now     int64            `json:"now"`
	Fees    core.PendingFees `json:"fees"`
}

type LiquidationCheckResponse struct {
	PoolID       string                    `json:"pool_id"`
	Account      uuid.UUID                 `json:"account"`
	Now          int64                     `json:"now"`
	Liquidatable bool                      `json:"liquidatable"`
	Reason       string                    `json:"reason,omitempty"`
	Outcome      *state.LiquidationOutcome `json:"outcome,omitempty"`
}

type Empty struct{}

type SubmitRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// SubmitResponse reports a logged operation. Duplicate means the key was
// already processed and nothing was logged.
type SubmitResponse struct {
	Duplicate bool   `json:"duplicate,omitempty"`
	Sequence  int64  `json:"sequence"`
	Outcome   string `json:"outcome,omitempty"`
	Reason    string `json:"reason,omitempty"`
	StateHash string `json:"state_hash,omitempty"`
}

// LedgerServer is the RPC surface shared by gRPC and the HTTP gateway.
type LedgerServer interface {
	GetPool(context.Context, *PoolRequest) (*query.PoolResponse, error)
	GetPosition(context.Context, *AccountRequest) (*query.PositionResponse, error)
	GetStake(context.Context, *AccountRequest) (*query.StakeResponse, error)
	GetBalance(context.Context, *AccountRequest) (*query.BalanceResponse, error)
	ListJournal(context.Context, *JournalRequest) (*JournalResponse, error)
	GetPendingFees(context.Context, *LiveRequest) (*PendingFeesResponse, error)
	CheckLiquidation(context.Context, *LiveRequest) (*LiquidationCheckResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	SubmitOperation(context.Context, *SubmitRequest) (*SubmitResponse, error)
}

// LedgerService implements LedgerServer. Live and Ops may be nil, in which
// case their methods report Unavailable.
type LedgerService struct {
	Queries Queries
	Live    LiveState
	Ops     Operations
	Clock   func() time.Time
}

var _ LedgerServer = (*LedgerService)(nil)

func (s *LedgerService) GetPool(ctx context.Context, req *PoolRequest) (*query.PoolResponse, error) {
	if req.PoolID == "" {
		return nil, status.Error(codes.InvalidArgument, "pool_id is required")
	}
	resp, err := s.Queries.GetPool(ctx, req.PoolID)
	return resp, toStatus(err)
}

func (s *LedgerService) GetPosition(ctx context.Context, req *AccountRequest) (*query.PositionResponse, error) {
	if err := validateAccount(req.PoolID, req.Account); err != nil {
		return nil, err
	}
	resp, err := s.Queries.GetPosition(ctx, req.PoolID, req.Account)
	return resp, toStatus(err)
}

func (s *LedgerService) GetStake(ctx context.Context, req *AccountRequest) (*query.StakeResponse, error) {
	if err := validateAccount(req.PoolID, req.Account); err != nil {
		return nil, err
	}
	resp, err := s.Queries.GetStake(ctx, req.PoolID, req.Account)
	return resp, toStatus(err)
}

func (s *LedgerService) GetBalance(ctx context.Context, req *AccountRequest) (*query.BalanceResponse, error) {
	if err := validateAccount(req.PoolID, req.Account); err != nil {
		return nil, err
	}
	resp, err := s.Queries.GetBalance(ctx, req.PoolID, req.Account)
	return resp, toStatus(err)
}

func (s *LedgerService) ListJournal(ctx context.Context, req *JournalRequest) (*JournalResponse, error) {
	if err := validateAccount(req.PoolID, req.Account); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	limit = min(limit, maxJournalLimit)

	entries, err := s.Queries.GetJournalHistory(ctx, req.PoolID, req.Account, limit, req.AfterSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	return &JournalResponse{Entries: entries}, nil
}

func (s *LedgerService) GetPendingFees(ctx context.Context, req *LiveRequest) (*PendingFeesResponse, error) {
	if err := validateAccount(req.PoolID, req.Account); err != nil {
		return nil, err
	}
	if s.Live == nil {
		return nil, status.Error(codes.Unavailable, "live state not available")
	}
	now := s.now(req.Now)

	var (
		fees   core.PendingFees
		feeErr error
	)
	if err := s.Live.Read(ctx, func(c *core.DeterministicCore) {
		fees, feeErr = c.PendingFees(req.PoolID, req.Account, now)
	}); err != nil {
		return nil, toStatus(err)
	}
	if feeErr != nil {
		return nil, toStatus(feeErr)
	}
	return &PendingFeesResponse{PoolID: req.PoolID, Account: req.Account, Now: now, Fees: fees}, nil
}

func (s *LedgerService) CheckLiquidation(ctx context.Context, req *LiveRequest) (*LiquidationCheckResponse, error) {
	if err := validateAccount(req.PoolID, req.Account); err != nil {
		return nil, err
	}
	if s.Live == nil {
		return nil, status.Error(codes.Unavailable, "live state not available")
	}
	now := s.now(req.Now)

	var (
		outcome  state.LiquidationOutcome
		checkErr error
	)
	if err := s.Live.Read(ctx, func(c *core.DeterministicCore) {
		outcome, checkErr = c.CheckLiquidation(req.PoolID, req.Account, now)
	}); err != nil {
		return nil, toStatus(err)
	}

	resp := &LiquidationCheckResponse{PoolID: req.PoolID, Account: req.Account, Now: now}
	switch {
	case checkErr == nil:
		resp.Liquidatable = true
		resp.Outcome = &outcome
	case errors.Is(checkErr, state.ErrNotLiquidatable):
		resp.Reason = checkErr.Error()
	default:
		return nil, toStatus(checkErr)
	}
	return resp, nil
}

func (s *LedgerService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	resp, err := s.Queries.VerifyIntegrity(ctx)
	return resp, toStatus(err)
}

func (s *LedgerService) SubmitOperation(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if s.Ops == nil {
		return nil, status.Error(codes.Unavailable, "operations not accepted")
	}
	if req.EventType == "" || len(req.Payload) == 0 {
		return nil, status.Error(codes.InvalidArgument, "event_type and payload are required")
	}
	if _, err := event.ParseEventType(req.EventType); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	output, err := s.Ops.Submit(ctx, req.EventType, req.Payload)
	if output == nil {
		if err != nil {
			return nil, toStatus(err)
		}
		return &SubmitResponse{Duplicate: true}, nil
	}

	// Rejections are logged outcomes, not RPC failures.
	env := output.Envelope
	return &SubmitResponse{
		Sequence:  env.Sequence,
		Outcome:   string(env.Outcome),
		Reason:    env.Reason,
		StateHash: hex.EncodeToString(env.StateHash[:]),
	}, nil
}

func (s *LedgerService) now(requested int64) int64 {
	if requested > 0 {
		return requested
	}
	if s.Clock != nil {
		return s.Clock().Unix()
	}
	return time.Now().Unix()
}

func validateAccount(poolID string, account uuid.UUID) error {
	if poolID == "" {
		return status.Error(codes.InvalidArgument, "pool_id is required")
	}
	if account == uuid.Nil {
		return status.Error(codes.InvalidArgument, "account is required")
	}
	return nil
}

// toStatus maps domain errors onto gRPC codes. nil stays nil.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, query.ErrNotFound), errors.Is(err, state.ErrPoolNotFound):
		code = codes.NotFound
	case errors.Is(err, event.ErrMalformed):
		code = codes.InvalidArgument
	case errors.Is(err, core.ErrSequenceGap), errors.Is(err, core.ErrOutOfOrder):
		code = codes.Aborted
	case errors.Is(err, core.ErrRunnerStopped):
		code = codes.Unavailable
	case errors.Is(err, state.ErrNotLiquidatable),
		errors.Is(err, state.ErrInsufficientCollateral),
		errors.Is(err, state.ErrPositionNotFlat),
		errors.Is(err, state.ErrNoLiquidity):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
