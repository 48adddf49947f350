package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"LiftoffLedger/internal/amm"
	"LiftoffLedger/internal/config"
	"LiftoffLedger/internal/core"
	"LiftoffLedger/internal/errs"
	"LiftoffLedger/internal/ingestion"
	"LiftoffLedger/internal/observability"
)

func TestCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"validation", errs.ErrInvalidAmount.Withf("zero"), codes.InvalidArgument},
		{"state", errs.ErrNotIgniting, codes.FailedPrecondition},
		{"missing sale", errs.ErrSaleNotFound.Withf("sale 9"), codes.NotFound},
		{"missing fund", errs.ErrInsuranceNotInitialized, codes.NotFound},
		{"authorization", errs.ErrSenderNotAuthorized, codes.PermissionDenied},
		{"already done", errs.ErrAlreadyClaimed, codes.AlreadyExists},
		{"capacity", errs.ErrExceedsHardCap, codes.ResourceExhausted},
		{"malformed", fmt.Errorf("%w: bad json", ingestion.ErrMalformed), codes.InvalidArgument},
		{"out of order", fmt.Errorf("%w: gap", ingestion.ErrOutOfOrder), codes.Aborted},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"status passthrough", status.Error(codes.Unavailable, "down"), codes.Unavailable},
		{"unknown", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, codeFor(tc.err))
		})
	}
}

func TestToStatus(t *testing.T) {
	assert.NoError(t, toStatus(nil))

	st, ok := status.FromError(toStatus(errs.ErrAlreadyRefunded.Withf("alice")))
	require.True(t, ok)
	assert.Equal(t, codes.AlreadyExists, st.Code())
	assert.Contains(t, st.Message(), "AlreadyRefunded")
}

func TestPageSize(t *testing.T) {
	assert.Equal(t, defaultPageSize, pageSize(0))
	assert.Equal(t, defaultPageSize, pageSize(-3))
	assert.Equal(t, 20, pageSize(20))
	assert.Equal(t, maxPageSize, pageSize(maxPageSize+1))
}

func TestJSONCodec_EmptyMessage(t *testing.T) {
	var req EventLogInfoRequest
	require.NoError(t, jsonCodec{}.Unmarshal(nil, &req))
	assert.Equal(t, "json", jsonCodec{}.Name())
}

// --- Harness ---

// newTestServer wires a server to a live core fed by a goroutine, the way
// the daemon does, with no database behind the read paths.
func newTestServer(t *testing.T) *GRPCServer {
	t.Helper()

	outputs := make(chan core.CoreOutput, 64)
	c := core.NewDeterministicCore(0, outputs, outputs, nil, nil, core.Dependencies{
		Settings:          config.DefaultSettings(),
		Deployer:          amm.NewDeployer(),
		Router:            amm.NewRouter(),
		IdempotencyLRUCap: 64,
	})

	submissions := make(chan ingestion.Submission, 8)
	go func() {
		for sub := range submissions {
			_, _ = ingestion.Apply(c, sub)
			// drain so the blocking persist send never stalls the core
			for len(outputs) > 0 {
				<-outputs
			}
		}
	}()
	t.Cleanup(func() { close(submissions) })

	return NewGRPCServer("", "", &ServerDeps{
		IngestService: ingestion.NewGRPCIngestService(submissions, 2*time.Second),
		HealthChecker: observability.NewHealthChecker(),
		StartTime:     time.Now(),
		Metrics:       observability.NewMetricsWith(prometheus.NewRegistry()),
	}, zerolog.Nop())
}

const contributionToMissingSale = `{
	"idempotency_key": "7c4a8d09-ca37-4e7b-9a5f-0d1c2e3f4a5b",
	"sender": "0x000000000000000000000000000000000000a11c",
	"now": 1700000000,
	"sale_id": 9,
	"amount": "1000",
	"form": 1
}`

func TestHTTP_SubmitRejectedThenDuplicate(t *testing.T) {
	s := newTestServer(t)
	handler, err := s.HTTPHandler()
	require.NoError(t, err)

	post := func() (int, SubmitResponse) {
		req := httptest.NewRequest(http.MethodPost, "/v1/commands/Contribution", strings.NewReader(contributionToMissingSale))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		var resp SubmitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
		return rec.Code, resp
	}

	code, first := post()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "rejected", first.Status)
	assert.Equal(t, int64(0), first.Sequence)
	require.NotNil(t, first.Rejection)
	assert.Equal(t, "SaleNotFound", first.Rejection.Code)
	assert.Equal(t, "StateError", first.Rejection.Kind)

	code, second := post()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "duplicate", second.Status)
	assert.True(t, second.Duplicate)
	assert.Equal(t, int64(-1), second.Sequence)
}

func TestHTTP_Errors(t *testing.T) {
	s := newTestServer(t)
	handler, err := s.HTTPHandler()
	require.NoError(t, err)

	cases := []struct {
		name   string
		method string
		target string
		body   string
		status int
		reason string
	}{
		{"unknown command", http.MethodPost, "/v1/commands/Teleport", `{}`, http.StatusBadRequest, "Internal"},
		{"bad sale id", http.MethodGet, "/v1/sales/abc", "", http.StatusBadRequest, "InvalidRequest"},
		{"bad address", http.MethodGet, "/v1/wallets/nope/balances", "", http.StatusBadRequest, "InvalidAddress"},
		{"bad now", http.MethodGet, "/v1/sales/1/insurance?now=soon", "", http.StatusBadRequest, "InvalidRequest"},
		{"bad redeem amount", http.MethodGet, "/v1/sales/1/insurance/redeem-value?token_amount=lots", "", http.StatusBadRequest, "InvalidAmount"},
		{"snapshots disabled", http.MethodPost, "/v1/admin/snapshot", "", http.StatusNotImplemented, "Internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.reason, body.Reason)
		})
	}
}

func TestHTTP_Health(t *testing.T) {
	s := newTestServer(t)
	handler, err := s.HTTPHandler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGRPC_SubmitOverJSONCodec(t *testing.T) {
	s := newTestServer(t)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.grpcServer.Serve(lis) }()
	t.Cleanup(s.grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resp SubmitResponse
	err = conn.Invoke(ctx, "/"+serviceName+"/Submit", &SubmitRequest{
		EventType: "Contribution",
		Command:   json.RawMessage(contributionToMissingSale),
	}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "rejected", resp.Status)
	assert.Equal(t, "SaleNotFound", resp.Rejection.Code)

	err = conn.Invoke(ctx, "/"+serviceName+"/Submit", &SubmitRequest{
		EventType: "Teleport",
		Command:   json.RawMessage(`{}`),
	}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = conn.Invoke(ctx, "/"+serviceName+"/TakeSnapshot", &SnapshotRequest{}, &SnapshotResponse{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
