package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 1 << 20

// NewGateway maps the ledger service onto HTTP/JSON routes. Handlers call
// svc in-process; there is no loopback gRPC hop.
func NewGateway(svc LedgerServer) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/pools/{pool_id}", handle(poolRequest, svc.GetPool)},
		{"GET", "/v1/pools/{pool_id}/positions/{account}", handle(accountRequest, svc.GetPosition)},
		{"GET", "/v1/pools/{pool_id}/stakes/{account}", handle(accountRequest, svc.GetStake)},
		{"GET", "/v1/pools/{pool_id}/balances/{account}", handle(accountRequest, svc.GetBalance)},
		{"GET", "/v1/pools/{pool_id}/journal/{account}", handle(journalRequest, svc.ListJournal)},
		{"GET", "/v1/pools/{pool_id}/fees/{account}", handle(liveRequest, svc.GetPendingFees)},
		{"GET", "/v1/pools/{pool_id}/liquidation/{account}", handle(liveRequest, svc.CheckLiquidation)},
		{"GET", "/v1/admin/integrity", handle(emptyRequest, svc.VerifyIntegrity)},
		{"POST", "/v1/admin/operations/{event_type}", handle(submitRequest, svc.SubmitOperation)},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return nil, fmt.Errorf("route %s %s: %w", r.method, r.pattern, err)
		}
	}
	return mux, nil
}

func handle[Req, Resp any](
	build func(r *http.Request, params map[string]string) (*Req, error),
	call func(context.Context, *Req) (*Resp, error),
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req, err := build(r, params)
		if err != nil {
			writeError(w, status.Error(codes.InvalidArgument, err.Error()))
			return
		}
		resp, err := call(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), map[string]string{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
}

// --- request builders ---

func poolRequest(_ *http.Request, p map[string]string) (*PoolRequest, error) {
	return &PoolRequest{PoolID: p["pool_id"]}, nil
}

func accountRequest(_ *http.Request, p map[string]string) (*AccountRequest, error) {
	account, err := uuid.Parse(p["account"])
	if err != nil {
		return nil, fmt.Errorf("invalid account: %w", err)
	}
	return &AccountRequest{PoolID: p["pool_id"], Account: account}, nil
}

func journalRequest(r *http.Request, p map[string]string) (*JournalRequest, error) {
	acct, err := accountRequest(r, p)
	if err != nil {
		return nil, err
	}
	req := &JournalRequest{PoolID: acct.PoolID, Account: acct.Account}

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid limit: %w", err)
		}
	}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid after: %w", err)
		}
		req.AfterSequence = &after
	}
	return req, nil
}

func liveRequest(r *http.Request, p map[string]string) (*LiveRequest, error) {
	acct, err := accountRequest(r, p)
	if err != nil {
		return nil, err
	}
	req := &LiveRequest{PoolID: acct.PoolID, Account: acct.Account}
	if v := r.URL.Query().Get("now"); v != "" {
		if req.Now, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid now: %w", err)
		}
	}
	return req, nil
}

func emptyRequest(*http.Request, map[string]string) (*Empty, error) {
	return &Empty{}, nil
}

func submitRequest(r *http.Request, p map[string]string) (*SubmitRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &SubmitRequest{EventType: p["event_type"], Payload: body}, nil
}
