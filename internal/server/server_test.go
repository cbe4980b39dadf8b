package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"HookLedger/internal/core"
	"HookLedger/internal/event"
	"HookLedger/internal/ingestion"
	"HookLedger/internal/observability"
	"HookLedger/internal/query"
	"HookLedger/internal/server"
	"HookLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const (
	testPool = testutil.Pool
	t0       = testutil.T0
)

// --- fakes ---

type fakeQueries struct{}

func (fakeQueries) GetPool(_ context.Context, poolID string) (*query.PoolResponse, error) {
	if poolID != testPool {
		return nil, fmt.Errorf("pool %s: %w", poolID, query.ErrNotFound)
	}
	return &query.PoolResponse{PoolID: poolID, CollateralToken: "USDC", AssetToken: "ETH", AsOfSequence: 7}, nil
}

func (fakeQueries) GetPosition(_ context.Context, poolID string, account uuid.UUID) (*query.PositionResponse, error) {
	return &query.PositionResponse{PoolID: poolID, Account: account, Size: -250}, nil
}

func (fakeQueries) GetStake(_ context.Context, poolID string, account uuid.UUID) (*query.StakeResponse, error) {
	return &query.StakeResponse{PoolID: poolID, Account: account, Liquidity: 1_000}, nil
}

func (fakeQueries) GetBalance(_ context.Context, poolID string, account uuid.UUID) (*query.BalanceResponse, error) {
	return &query.BalanceResponse{PoolID: poolID, Account: account, Balance: query.Amount{Raw: 1_500_000, Display: "1.500000"}}, nil
}

func (fakeQueries) GetJournalHistory(_ context.Context, _ string, _ uuid.UUID, limit int, _ *int64) ([]query.JournalHistoryEntry, error) {
	entries := make([]query.JournalHistoryEntry, 0, limit)
	for i := 0; i < min(limit, 3); i++ {
		entries = append(entries, query.JournalHistoryEntry{Sequence: int64(10 - i)})
	}
	return entries, nil
}

func (fakeQueries) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true, AsOfSequence: 7}, nil
}

// directLive runs reads inline against a core owned by the test.
type directLive struct{ core *core.DeterministicCore }

func (d directLive) Read(_ context.Context, fn func(*core.DeterministicCore)) error {
	fn(d.core)
	return nil
}

type fakeOps struct {
	output *core.CoreOutput
	err    error
}

func (f fakeOps) Submit(context.Context, string, json.RawMessage) (*core.CoreOutput, error) {
	return f.output, f.err
}

func newService(t *testing.T, ops server.Operations) *server.LedgerService {
	return &server.LedgerService{
		Queries: fakeQueries{},
		Live:    directLive{core: testutil.NewEngine(t, core.Config{Logger: zerolog.Nop()})},
		Ops:     ops,
		Clock:   func() time.Time { return time.Unix(t0, 0) },
	}
}

// newClient serves svc over an in-memory listener.
func newClient(t *testing.T, svc server.LedgerServer, metrics *observability.Metrics) *server.LedgerClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())

	srv := server.NewGRPCServer("bufnet", svc, metrics, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return server.NewLedgerClient(conn)
}

// --- gRPC ---

func TestGRPC_Queries(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	client := newClient(t, newService(t, nil), metrics)
	ctx := context.Background()
	account := uuid.New()

	pool, err := client.GetPool(ctx, &server.PoolRequest{PoolID: testPool})
	require.NoError(t, err)
	assert.Equal(t, "ETH", pool.AssetToken)
	assert.Equal(t, int64(7), pool.AsOfSequence)

	pos, err := client.GetPosition(ctx, &server.AccountRequest{PoolID: testPool, Account: account})
	require.NoError(t, err)
	assert.Equal(t, account, pos.Account)
	assert.Equal(t, int64(-250), pos.Size)

	bal, err := client.GetBalance(ctx, &server.AccountRequest{PoolID: testPool, Account: account})
	require.NoError(t, err)
	assert.Equal(t, "1.500000", bal.Balance.Display)

	journal, err := client.ListJournal(ctx, &server.JournalRequest{PoolID: testPool, Account: account, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, journal.Entries, 2)

	report, err := client.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)

	assert.Equal(t, 1.0, promtest.ToFloat64(
		metrics.QueryRequests.WithLabelValues("/hookledger.v1.Ledger/GetPool", "OK")))
}

func TestGRPC_ErrorCodes(t *testing.T) {
	client := newClient(t, newService(t, nil), nil)
	ctx := context.Background()

	_, err := client.GetPool(ctx, &server.PoolRequest{PoolID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetPool(ctx, &server.PoolRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetStake(ctx, &server.AccountRequest{PoolID: testPool})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetPendingFees(ctx, &server.LiveRequest{PoolID: "missing", Account: uuid.New()})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.SubmitOperation(ctx, &server.SubmitRequest{EventType: "PositionAdjusted", Payload: json.RawMessage(`{}`)})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestGRPC_LiveReads(t *testing.T) {
	client := newClient(t, newService(t, nil), nil)
	ctx := context.Background()
	account := uuid.New()

	fees, err := client.GetPendingFees(ctx, &server.LiveRequest{PoolID: testPool, Account: account})
	require.NoError(t, err)
	assert.Equal(t, t0, fees.Now, "zero now falls back to the clock")
	assert.Equal(t, core.PendingFees{}, fees.Fees)

	check, err := client.CheckLiquidation(ctx, &server.LiveRequest{PoolID: testPool, Account: account, Now: t0 + 60})
	require.NoError(t, err)
	assert.False(t, check.Liquidatable)
	assert.Contains(t, check.Reason, "no open position")
	assert.Nil(t, check.Outcome)
	assert.Equal(t, t0+60, check.Now)
}

func TestGRPC_SubmitOperation(t *testing.T) {
	var hash [32]byte
	hash[31] = 1
	rejected := &core.CoreOutput{Envelope: &event.EventEnvelope{
		Sequence:  9,
		Outcome:   event.OutcomeRejected,
		Reason:    "insufficient collateral",
		StateHash: hash,
	}}
	ctx := context.Background()
	req := &server.SubmitRequest{EventType: "PositionAdjusted", Payload: json.RawMessage(`{"size":1}`)}

	t.Run("rejected is not an rpc error", func(t *testing.T) {
		client := newClient(t, newService(t, fakeOps{output: rejected, err: fmt.Errorf("boom")}), nil)
		resp, err := client.SubmitOperation(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(9), resp.Sequence)
		assert.Equal(t, "rejected", resp.Outcome)
		assert.Equal(t, "insufficient collateral", resp.Reason)
		assert.True(t, strings.HasSuffix(resp.StateHash, "01"))
	})

	t.Run("duplicate", func(t *testing.T) {
		client := newClient(t, newService(t, fakeOps{}), nil)
		resp, err := client.SubmitOperation(ctx, req)
		require.NoError(t, err)
		assert.True(t, resp.Duplicate)
	})

	t.Run("gap", func(t *testing.T) {
		client := newClient(t, newService(t, fakeOps{err: fmt.Errorf("x: %w", core.ErrSequenceGap)}), nil)
		_, err := client.SubmitOperation(ctx, req)
		assert.Equal(t, codes.Aborted, status.Code(err))
	})

	t.Run("malformed", func(t *testing.T) {
		client := newClient(t, newService(t, fakeOps{err: fmt.Errorf("x: %w", event.ErrMalformed)}), nil)
		_, err := client.SubmitOperation(ctx, req)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("unknown type", func(t *testing.T) {
		client := newClient(t, newService(t, fakeOps{}), nil)
		_, err := client.SubmitOperation(ctx, &server.SubmitRequest{EventType: "TradeFill", Payload: json.RawMessage(`{}`)})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}

// --- HTTP ---

func newRouter(t *testing.T, svc server.LedgerServer, hub *server.StreamHub) http.Handler {
	t.Helper()
	gw, err := server.NewGateway(svc)
	require.NoError(t, err)
	return server.NewRouter(server.RouterDeps{
		Gateway:  gw,
		Health:   observability.NewHealthChecker(),
		Stream:   hub,
		Gatherer: prometheus.NewRegistry(),
		Logger:   zerolog.Nop(),
	})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGateway_Routes(t *testing.T) {
	h := newRouter(t, newService(t, nil), nil)
	account := uuid.New()

	rec := get(t, h, "/v1/pools/"+testPool)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pool query.PoolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pool))
	assert.Equal(t, testPool, pool.PoolID)

	rec = get(t, h, "/v1/pools/"+testPool+"/stakes/"+account.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var stake query.StakeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stake))
	assert.Equal(t, int64(1_000), stake.Liquidity)

	rec = get(t, h, "/v1/pools/"+testPool+"/journal/"+account.String()+"?limit=1&after=50")
	require.Equal(t, http.StatusOK, rec.Code)
	var journal server.JournalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &journal))
	assert.Len(t, journal.Entries, 1)

	rec = get(t, h, fmt.Sprintf("/v1/pools/%s/fees/%s?now=%d", testPool, account, t0+3_600))
	require.Equal(t, http.StatusOK, rec.Code)
	var fees server.PendingFeesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fees))
	assert.Equal(t, t0+3_600, fees.Now)

	rec = get(t, h, "/v1/admin/integrity")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateway_Errors(t *testing.T) {
	h := newRouter(t, newService(t, nil), nil)

	rec := get(t, h, "/v1/pools/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NotFound")

	rec = get(t, h, "/v1/pools/"+testPool+"/positions/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, h, "/v1/pools/"+testPool+"/journal/"+uuid.NewString()+"?limit=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateway_SubmitOperation(t *testing.T) {
	out := &core.CoreOutput{Envelope: &event.EventEnvelope{Sequence: 3, Outcome: event.OutcomeApplied}}
	h := newRouter(t, newService(t, fakeOps{output: out}), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/operations/InsuranceFunded", strings.NewReader(`{"amount":5}`))
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp server.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Sequence)
	assert.Equal(t, "applied", resp.Outcome)
}

func TestRouter_Health(t *testing.T) {
	h := newRouter(t, newService(t, nil), nil)

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/metrics").Code)
}

// --- WebSocket stream ---

func TestStreamHub_FiltersByPool(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	hub := server.NewStreamHub(metrics, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(newRouter(t, newService(t, nil), hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?pool_id=" + testPool
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(metrics.WSClients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(ingestion.PublishableEvent{Sequence: 1, PoolID: "USDC-WBTC", EventType: "BeforeSwap"})
	hub.Broadcast(ingestion.PublishableEvent{Sequence: 2, PoolID: testPool, EventType: "PositionAdjusted", Outcome: "applied"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got ingestion.PublishableEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, int64(2), got.Sequence)
	assert.Equal(t, "PositionAdjusted", got.EventType)

	conn.Close()
	require.Eventually(t, func() bool {
		return promtest.ToFloat64(metrics.WSClients) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
