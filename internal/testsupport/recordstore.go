// Package testsupport provides an in-memory record store speaking the same HTTP
// surface as the real one, for tests that exercise the gateway end to end.
package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Heartbeat is one recorded POST to the agent status endpoint.
type Heartbeat struct {
	AgentName      string `json:"agentName"`
	ProcessedCount int    `json:"processedCount"`
}

// RecordStore is a fake candidates API. All methods are safe for concurrent use.
type RecordStore struct {
	mu          sync.Mutex
	order       []string
	records     map[string]map[string]any
	raw         []json.RawMessage
	fetchStatus int
	failIDs     map[string]int
	conditional bool
	puts        int
	heartbeats  []Heartbeat

	Server *httptest.Server
}

// NewRecordStore starts a fake store that is closed with the test.
func NewRecordStore(t testing.TB) *RecordStore {
	t.Helper()
	s := &RecordStore{
		records: make(map[string]map[string]any),
		failIDs: make(map[string]int),
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Server.Close)
	return s
}

// BaseURL is the value to use as API_BASE_URL.
func (s *RecordStore) BaseURL() string {
	return s.Server.URL + "/api"
}

// Put inserts or replaces a record. fields must include "id".
func (s *RecordStore) Put(fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := idString(fields["id"])
	if _, exists := s.records[id]; !exists {
		s.order = append(s.order, id)
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.records[id] = cp
}

// AppendRaw adds a listing entry that bypasses the record map, for malformed input.
func (s *RecordStore) AppendRaw(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, json.RawMessage(entry))
}

// Status returns the stored status for id.
func (s *RecordStore) Status(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		if v, ok := rec["status"].(string); ok {
			return v
		}
	}
	return ""
}

// FailFetch makes GET /candidates answer with code; 0 restores normal behavior.
func (s *RecordStore) FailFetch(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchStatus = code
}

// FailUpdate makes PUTs for id answer with code; 0 restores normal behavior.
func (s *RecordStore) FailUpdate(id string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == 0 {
		delete(s.failIDs, id)
		return
	}
	s.failIDs[id] = code
}

// EnforceExpectedStatus makes the store reject updates whose expectedStatus
// does not match the stored status.
func (s *RecordStore) EnforceExpectedStatus(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conditional = on
}

// Puts returns the number of accepted status updates.
func (s *RecordStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// Heartbeats returns the recorded heartbeats in arrival order.
func (s *RecordStore) Heartbeats() []Heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Heartbeat(nil), s.heartbeats...)
}

func (s *RecordStore) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/candidates", s.handleList)
		r.Put("/candidates/{id}/status", s.handleSetStatus)
		r.Post("/agentstatus/heartbeat", s.handleHeartbeat)
	})
	return r
}

func (s *RecordStore) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchStatus != 0 {
		http.Error(w, "unavailable", s.fetchStatus)
		return
	}
	out := make([]any, 0, len(s.order)+len(s.raw))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	for _, raw := range s.raw {
		out = append(out, raw)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *RecordStore) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Status         string  `json:"status"`
		ExpectedStatus *string `json:"expectedStatus"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.failIDs[id]; ok {
		http.Error(w, "injected failure", code)
		return
	}
	rec, ok := s.records[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "candidate not found"})
		return
	}
	current, _ := rec["status"].(string)
	if s.conditional && req.ExpectedStatus != nil && *req.ExpectedStatus != current {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "status changed"})
		return
	}
	rec["status"] = req.Status
	s.puts++
	writeJSON(w, http.StatusOK, rec)
}

func (s *RecordStore) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.heartbeats = append(s.heartbeats, hb)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
