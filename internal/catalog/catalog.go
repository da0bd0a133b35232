// Package catalog holds the closed set of candidate statuses and the single-step
// transition relation between them.
package catalog

import (
	"fmt"
	"strings"
)

// Status values the record store may hold.
const (
	StatusNone                = ""
	StatusApplicationReceived = "Application Received"
	StatusUnderReview         = "Under Review"
	StatusShortlisted         = "Shortlisted"
	StatusInterviewScheduled  = "Interview Scheduled"
	StatusSelected            = "Selected"
	StatusRejected            = "Rejected"
)

var knownStatuses = []string{
	StatusApplicationReceived,
	StatusUnderReview,
	StatusShortlisted,
	StatusInterviewScheduled,
	StatusSelected,
	StatusRejected,
}

// Stage names the worker that owns a group of transitions.
type Stage string

const (
	StageIntake    Stage = "intake"
	StageWorkflow  Stage = "workflow"
	StageInterview Stage = "interview"
	StageCombined  Stage = "combined"
)

func (s Stage) String() string {
	return string(s)
}

// Transition is one edge of the pipeline.
type Transition struct {
	From  string
	To    string
	Stage Stage
}

// pipeline is ordered from intake to the terminal interview edge. The empty
// From is the "no status" case.
var pipeline = []Transition{
	{From: StatusNone, To: StatusApplicationReceived, Stage: StageIntake},
	{From: StatusApplicationReceived, To: StatusUnderReview, Stage: StageWorkflow},
	{From: StatusUnderReview, To: StatusShortlisted, Stage: StageWorkflow},
	{From: StatusShortlisted, To: StatusInterviewScheduled, Stage: StageInterview},
}

var edges = func() map[string]Transition {
	m := make(map[string]Transition, len(pipeline))
	for _, t := range pipeline {
		if _, dup := m[t.From]; dup {
			panic(fmt.Sprintf("catalog: status %q has more than one outgoing transition", t.From))
		}
		m[t.From] = t
	}
	return m
}()

// Rule maps a current status to its successor, reporting false when no
// transition applies.
type Rule func(status string) (string, bool)

// NextStatus returns the successor of current in the pipeline. Whitespace around
// current is ignored; comparison is otherwise exact and case-sensitive.
func NextStatus(current string) (string, bool) {
	t, ok := lookup(current)
	if !ok {
		return "", false
	}
	return t.To, true
}

func lookup(current string) (Transition, bool) {
	t, ok := edges[strings.TrimSpace(current)]
	return t, ok
}

// RuleFor returns the rule restricted to the edges owned by stage. The combined
// stage owns every edge.
func RuleFor(stage Stage) (Rule, error) {
	switch stage {
	case StageCombined:
		return NextStatus, nil
	case StageIntake, StageWorkflow, StageInterview:
		return func(status string) (string, bool) {
			t, ok := lookup(status)
			if !ok || t.Stage != stage {
				return "", false
			}
			return t.To, true
		}, nil
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

// ParseStage normalizes a configured worker name.
func ParseStage(name string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(name)))
	for _, s := range Stages() {
		if s == stage {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q (want one of intake, workflow, interview, combined)", name)
}

// Stages lists every stage a worker can be built for.
func Stages() []Stage {
	return []Stage{StageIntake, StageWorkflow, StageInterview, StageCombined}
}

// Transitions returns the pipeline edges, optionally filtered to one stage.
func Transitions(stage Stage) []Transition {
	out := make([]Transition, 0, len(pipeline))
	for _, t := range pipeline {
		if stage == StageCombined || stage == "" || t.Stage == stage {
			out = append(out, t)
		}
	}
	return out
}

// IsKnown reports whether status is one of the catalog's values. The empty
// status counts as known.
func IsKnown(status string) bool {
	trimmed := strings.TrimSpace(status)
	if trimmed == StatusNone {
		return true
	}
	for _, s := range knownStatuses {
		if s == trimmed {
			return true
		}
	}
	return false
}
