package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"LiftoffLedger/internal/errs"
)

const maxCommandBytes = 1 << 20

// route binds an HTTP method and path template to a LedgerService call.
type route struct {
	method   string
	pattern  string
	endpoint string
	call     func(r *http.Request, params map[string]string) (any, error)
}

// HTTPHandler builds the HTTP surface: JSON routes on a gateway mux plus
// /healthz, /readyz and /metrics.
func (s *GRPCServer) HTTPHandler() (http.Handler, error) {
	gw := runtime.NewServeMux()
	for _, rt := range s.routes() {
		rt := rt
		err := gw.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := rt.call(r, params)
			s.record(rt.endpoint, err)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})
		if err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	mux := http.NewServeMux()
	if hc := s.deps.HealthChecker; hc != nil {
		mux.HandleFunc("/healthz", hc.LivenessHandler)
		mux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", gw)
	return mux, nil
}

func (s *GRPCServer) routes() []route {
	svc := s.svc
	return []route{
		{"POST", "/v1/commands/{event_type}", "Submit", func(r *http.Request, p map[string]string) (any, error) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
			if err != nil {
				return nil, errs.ErrInvalidRequest.Withf("read body: %v", err)
			}
			return svc.Submit(r.Context(), &SubmitRequest{EventType: p["event_type"], Command: body})
		}},
		{"GET", "/v1/sales", "ListSales", func(r *http.Request, _ map[string]string) (any, error) {
			req := &ListSalesRequest{}
			var err error
			if req.Limit, err = queryInt(r, "limit"); err != nil {
				return nil, err
			}
			if v := r.URL.Query().Get("before"); v != "" {
				id, err := strconv.ParseUint(v, 10, 64)
				if err != nil {
					return nil, errs.ErrInvalidRequest.Withf("before %q: %v", v, err)
				}
				req.BeforeID = &id
			}
			return svc.ListSales(r.Context(), req)
		}},
		{"GET", "/v1/sales/{sale_id}", "GetSale", func(r *http.Request, p map[string]string) (any, error) {
			id, err := saleID(p)
			if err != nil {
				return nil, err
			}
			return svc.GetSale(r.Context(), &SaleRequest{SaleID: id})
		}},
		{"GET", "/v1/sales/{sale_id}/contributions/{address}", "GetContribution", func(r *http.Request, p map[string]string) (any, error) {
			id, err := saleID(p)
			if err != nil {
				return nil, err
			}
			return svc.GetContribution(r.Context(), &ContributionRequest{SaleID: id, Contributor: p["address"]})
		}},
		{"GET", "/v1/sales/{sale_id}/insurance", "GetInsurance", func(r *http.Request, p map[string]string) (any, error) {
			id, err := saleID(p)
			if err != nil {
				return nil, err
			}
			now, err := queryInt64(r, "now")
			if err != nil {
				return nil, err
			}
			return svc.GetInsurance(r.Context(), &InsuranceRequest{SaleID: id, Now: now})
		}},
		{"GET", "/v1/sales/{sale_id}/insurance/redeem-value", "GetRedeemValue", func(r *http.Request, p map[string]string) (any, error) {
			id, err := saleID(p)
			if err != nil {
				return nil, err
			}
			now, err := queryInt64(r, "now")
			if err != nil {
				return nil, err
			}
			return svc.GetRedeemValue(r.Context(), &RedeemValueRequest{
				SaleID:      id,
				TokenAmount: r.URL.Query().Get("token_amount"),
				Now:         now,
			})
		}},
		{"GET", "/v1/wallets/{address}/balances", "GetWalletBalances", func(r *http.Request, p map[string]string) (any, error) {
			return svc.GetWalletBalances(r.Context(), &WalletBalancesRequest{Owner: p["address"]})
		}},
		{"GET", "/v1/wallets/{address}/balances/{asset}", "GetWalletBalance", func(r *http.Request, p map[string]string) (any, error) {
			owner, err := parseAddress(p["address"])
			if err != nil {
				return nil, err
			}
			return s.deps.QueryService.GetWalletBalance(r.Context(), owner, p["asset"])
		}},
		{"GET", "/v1/accounts/balance", "GetAccountBalance", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.GetAccountBalance(r.Context(), &AccountBalanceRequest{AccountPath: r.URL.Query().Get("account")})
		}},
		{"GET", "/v1/journal", "ListJournals", func(r *http.Request, _ map[string]string) (any, error) {
			req := &JournalRequest{AccountPath: r.URL.Query().Get("account")}
			var err error
			if req.Limit, err = queryInt(r, "limit"); err != nil {
				return nil, err
			}
			if r.URL.Query().Has("before") {
				before, err := queryInt64(r, "before")
				if err != nil {
					return nil, err
				}
				req.BeforeSequence = &before
			}
			return svc.ListJournals(r.Context(), req)
		}},
		{"GET", "/v1/admin/integrity", "VerifyIntegrity", func(r *http.Request, _ map[string]string) (any, error) {
			from, err := queryInt64(r, "from")
			if err != nil {
				return nil, err
			}
			limit, err := queryInt(r, "limit")
			if err != nil {
				return nil, err
			}
			return svc.VerifyIntegrity(r.Context(), &IntegrityRequest{FromSequence: from, Limit: limit})
		}},
		{"GET", "/v1/admin/event-log", "GetEventLogInfo", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.GetEventLogInfo(r.Context(), &EventLogInfoRequest{})
		}},
		{"POST", "/v1/admin/snapshot", "TakeSnapshot", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.TakeSnapshot(r.Context(), &SnapshotRequest{})
		}},
		{"POST", "/v1/admin/rebuild-balances", "RebuildProjections", func(r *http.Request, _ map[string]string) (any, error) {
			return svc.RebuildProjections(r.Context(), &RebuildRequest{})
		}},
	}
}

// errorBody is the JSON shape of every failed HTTP call.
type errorBody struct {
	Code    string `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := codeFor(err)
	writeJSON(w, runtime.HTTPStatusFromCode(code), errorBody{
		Code:    code.String(),
		Reason:  errs.CodeOf(err),
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func saleID(params map[string]string) (uint64, error) {
	v := params["sale_id"]
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errs.ErrInvalidRequest.Withf("sale_id %q: %v", v, err)
	}
	return id, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errs.ErrInvalidRequest.Withf("%s %q: %v", name, v, err)
	}
	return n, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	n, err := queryInt64(r, name)
	return int(n), err
}
