package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingID is returned when a record in the candidates listing carries no usable id.
var ErrMissingID = errors.New("candidate record has no id")

// CandidateID is the record store's opaque identifier. The store may encode it
// as a JSON number or a string; both decode to the same textual form.
type CandidateID string

// UnmarshalJSON accepts numeric and string ids.
func (id *CandidateID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = CandidateID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = CandidateID(n.String())
	return nil
}

func (id CandidateID) String() string {
	return string(id)
}

// Candidate is a transient, per-cycle copy of a record owned by the external store.
type Candidate struct {
	ID     CandidateID `json:"id"`
	Name   string      `json:"name"`
	Status string      `json:"status"`
}

// DisplayName is used in log lines; the store does not guarantee a name.
func (c Candidate) DisplayName() string {
	if strings.TrimSpace(c.Name) == "" {
		return "<unnamed>"
	}
	return c.Name
}

// DecodeCandidate decodes a single listing entry. A null status decodes to the
// empty status; a missing or null id is rejected with ErrMissingID.
func DecodeCandidate(raw json.RawMessage) (Candidate, error) {
	var wire struct {
		ID     CandidateID `json:"id"`
		Name   *string     `json:"name"`
		Status *string     `json:"status"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate: %w", err)
	}
	if wire.ID == "" {
		return Candidate{}, ErrMissingID
	}
	c := Candidate{ID: wire.ID}
	if wire.Name != nil {
		c.Name = *wire.Name
	}
	if wire.Status != nil {
		c.Status = *wire.Status
	}
	return c, nil
}
