package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"hiring-pipeline-agents/internal/config"
	"hiring-pipeline-agents/internal/models"
	"hiring-pipeline-agents/internal/ratelimit"
	"hiring-pipeline-agents/internal/testsupport"
)

func testConfig(base string) config.Config {
	cfg := config.Default()
	cfg.APIBaseURL = base
	cfg.RequestTimeout = time.Second
	return cfg
}

func TestFetchAllDecodesRecords(t *testing.T) {
	store := testsupport.NewRecordStore(t)
	store.Put(map[string]any{"id": 1, "name": "Alice", "status": ""})
	store.Put(map[string]any{"id": "c-2", "name": "Bob", "status": "Under Review"})
	store.Put(map[string]any{"id": 3, "name": "Cara"}) // no status key

	batch, err := New(testConfig(store.BaseURL())).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(batch.Candidates) != 3 || len(batch.Skipped) != 0 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	want := []models.Candidate{
		{ID: "1", Name: "Alice", Status: ""},
		{ID: "c-2", Name: "Bob", Status: "Under Review"},
		{ID: "3", Name: "Cara", Status: ""},
	}
	for i, c := range batch.Candidates {
		if c != want[i] {
			t.Fatalf("candidate %d = %+v, want %+v", i, c, want[i])
		}
	}
}

func TestFetchAllSkipsMalformedEntries(t *testing.T) {
	store := testsupport.NewRecordStore(t)
	store.Put(map[string]any{"id": 1, "name": "Alice", "status": "Shortlisted"})
	store.AppendRaw(`{"name": "No Id", "status": ""}`)
	store.AppendRaw(`{"id": null, "status": ""}`)
	store.AppendRaw(`"not an object"`)
	store.AppendRaw(`{"id": 9, "name": null, "status": null}`)

	batch, err := New(testConfig(store.BaseURL())).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(batch.Candidates) != 2 {
		t.Fatalf("expected 2 usable candidates, got %+v", batch.Candidates)
	}
	if len(batch.Skipped) != 3 {
		t.Fatalf("expected 3 skipped entries, got %v", batch.Skipped)
	}
	if !errors.Is(batch.Skipped[0], models.ErrMissingID) {
		t.Fatalf("expected missing id error, got %v", batch.Skipped[0])
	}
	if got := batch.Candidates[1]; got.ID != "9" || got.Status != "" || got.DisplayName() != "<unnamed>" {
		t.Fatalf("null fields not normalized: %+v", got)
	}
}

func TestFetchAllFailures(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		store := testsupport.NewRecordStore(t)
		store.FailFetch(http.StatusServiceUnavailable)
		_, err := New(testConfig(store.BaseURL())).FetchAll(context.Background())
		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected StatusError 503, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		cfg := testConfig(srv.URL)
		cfg.RequestTimeout = 50 * time.Millisecond
		start := time.Now()
		if _, err := New(cfg).FetchAll(context.Background()); err == nil {
			t.Fatalf("expected timeout error")
		}
		if time.Since(start) > time.Second {
			t.Fatalf("timeout not enforced")
		}
	})

	t.Run("undecodable body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"candidates": []}`))
		}))
		defer srv.Close()
		if _, err := New(testConfig(srv.URL)).FetchAll(context.Background()); err == nil {
			t.Fatalf("expected decode error")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		if _, err := New(testConfig(url)).FetchAll(context.Background()); err == nil {
			t.Fatalf("expected transport error")
		}
	})
}

func TestSetStatusRequestShape(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.EscapedPath(), r.Method
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/api/")
	cfg.ConditionalUpdates = false
	if err := New(cfg).SetStatus(context.Background(), "a b", "Under Review", "Application Received"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/api/candidates/a%20b/status" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if len(gotBody) != 1 || gotBody["status"] != "Under Review" {
		t.Fatalf("unexpected body %v", gotBody)
	}

	cfg.ConditionalUpdates = true
	if err := New(cfg).SetStatus(context.Background(), "7", "Shortlisted", " Under Review "); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if gotBody["expectedStatus"] != " Under Review " {
		t.Fatalf("expectedStatus should be sent as read, got %v", gotBody)
	}
}

func TestSetStatusErrors(t *testing.T) {
	store := testsupport.NewRecordStore(t)
	store.Put(map[string]any{"id": 1, "name": "Alice", "status": "Shortlisted"})
	store.Put(map[string]any{"id": 2, "name": "Bob", "status": "Under Review"})
	store.FailUpdate("2", http.StatusInternalServerError)
	store.EnforceExpectedStatus(true)
	client := New(testConfig(store.BaseURL()))
	ctx := context.Background()

	if err := client.SetStatus(ctx, "1", "Interview Scheduled", "Under Review"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var se *StatusError
	if err := client.SetStatus(ctx, "2", "Shortlisted", "Under Review"); !errors.As(err, &se) || se.Code != 500 {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
	if err := client.SetStatus(ctx, "404", "Shortlisted", "Under Review"); !errors.As(err, &se) || se.Code != 404 {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
	if err := client.SetStatus(ctx, "1", "Interview Scheduled", "Shortlisted"); err != nil {
		t.Fatalf("matching conditional update: %v", err)
	}
	if got := store.Status("1"); got != "Interview Scheduled" {
		t.Fatalf("status = %q", got)
	}
}

func TestSetStatusThrottled(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := testsupport.NewRecordStore(t)
	store.Put(map[string]any{"id": 1, "status": ""})
	bucket := ratelimit.NewTokenBucket(rdb, 1, 0.001, time.Minute)
	client := New(testConfig(store.BaseURL()), WithLimiter(bucket))

	if err := client.SetStatus(context.Background(), "1", "Application Received", ""); err != nil {
		t.Fatalf("first update: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := client.SetStatus(ctx, "1", "Under Review", "Application Received"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected throttled update to time out, got %v", err)
	}
	if store.Puts() != 1 {
		t.Fatalf("throttled update reached the store")
	}
}

func TestHeartbeat(t *testing.T) {
	store := testsupport.NewRecordStore(t)
	if err := New(testConfig(store.BaseURL())).Heartbeat(context.Background(), "intake", 3); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	hbs := store.Heartbeats()
	if len(hbs) != 1 || hbs[0].AgentName != "intake" || hbs[0].ProcessedCount != 3 {
		t.Fatalf("unexpected heartbeats %+v", hbs)
	}
}

func TestSetStatusThrottleBoundedByRequestTimeout(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := testsupport.NewRecordStore(t)
	store.Put(map[string]any{"id": 1, "status": ""})
	cfg := testConfig(store.BaseURL())
	cfg.RequestTimeout = 50 * time.Millisecond
	client := New(cfg, WithLimiter(ratelimit.NewTokenBucket(rdb, 1, 0.001, time.Minute)))

	if err := client.SetStatus(context.Background(), "1", "Application Received", ""); err != nil {
		t.Fatalf("first update: %v", err)
	}
	start := time.Now()
	err = client.SetStatus(context.Background(), "1", "Under Review", "Application Received")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected throttle wait to hit the request timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("throttle wait not bounded: %s", elapsed)
	}
	if store.Puts() != 1 {
		t.Fatalf("throttled update reached the store")
	}
}
