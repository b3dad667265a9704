package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func doRequest(t *testing.T, h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decodeResult(t *testing.T, rr *httptest.ResponseRecorder) result {
	t.Helper()
	var res result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return res
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()
	h := New()

	rr := doRequest(t, h.Healthz, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if res := decodeResult(t, rr); res.Status != "ok" {
		t.Errorf("status field = %q, want ok", res.Status)
	}
}

func TestReadyzNoCheckers(t *testing.T) {
	t.Parallel()
	h := New()

	rr := doRequest(t, h.Readyz, "/readyz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestReadyzAllPass(t *testing.T) {
	t.Parallel()
	h := New(
		Checker{Name: "database", Check: func(context.Context) error { return nil }},
		Checker{Name: "storage", Check: func(context.Context) error { return nil }},
	)

	rr := doRequest(t, h.Readyz, "/readyz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	res := decodeResult(t, rr)
	if res.Checks["database"] != "ok" || res.Checks["storage"] != "ok" {
		t.Errorf("checks = %v, want all ok", res.Checks)
	}
}

func TestReadyzReportsEveryFailure(t *testing.T) {
	t.Parallel()
	h := New(
		Checker{Name: "database", Check: func(context.Context) error { return errors.New("connection refused") }},
		Checker{Name: "storage", Check: func(context.Context) error { return nil }},
		Checker{Name: "providers", Check: func(context.Context) error { return errors.New("no api key") }},
	)

	rr := doRequest(t, h.Readyz, "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}

	res := decodeResult(t, rr)
	if res.Status != "fail" {
		t.Errorf("status field = %q, want fail", res.Status)
	}
	if !strings.Contains(res.Checks["database"], "connection refused") {
		t.Errorf("database check = %q", res.Checks["database"])
	}
	if res.Checks["storage"] != "ok" {
		t.Errorf("storage check = %q, want ok despite sibling failures", res.Checks["storage"])
	}
	if !strings.Contains(res.Checks["providers"], "no api key") {
		t.Errorf("providers check = %q", res.Checks["providers"])
	}
}

func TestReadyzRunsChecksConcurrently(t *testing.T) {
	t.Parallel()

	// Every check blocks until all of them have started, so a sequential
	// evaluation would deadlock instead of returning.
	const n = 3
	var wg sync.WaitGroup
	wg.Add(n)

	checkers := make([]Checker, n)
	for i := range checkers {
		checkers[i] = Checker{
			Name: string(rune('a' + i)),
			Check: func(ctx context.Context) error {
				wg.Done()
				wg.Wait()
				return nil
			},
		}
	}
	h := New(checkers...)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- doRequest(t, h.Readyz, "/readyz")
	}()

	select {
	case rr := <-done:
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("readiness pass did not complete; checks appear to run sequentially")
	}
}

func TestReadyzCheckTimeout(t *testing.T) {
	t.Parallel()
	h := New(Checker{
		Name: "slow",
		Check: func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("no deadline set")
			}
			return nil
		},
	})

	rr := doRequest(t, h.Readyz, "/readyz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rr.Code, rr.Body.String())
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New().Register(mux)

	for _, target := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", target, rr.Code, http.StatusOK)
		}
	}
}
