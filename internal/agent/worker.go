package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hiring-pipeline-agents/internal/catalog"
	"hiring-pipeline-agents/internal/gateway"
	"hiring-pipeline-agents/internal/logging"
	"hiring-pipeline-agents/internal/models"
	"hiring-pipeline-agents/internal/telemetry"
)

// Gateway is the part of the record store client a worker needs.
type Gateway interface {
	FetchAll(ctx context.Context) (gateway.Batch, error)
	SetStatus(ctx context.Context, id models.CandidateID, next, expected string) error
}

// Phase is where a worker currently is in its cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseEvaluating
	PhaseUpdating
	PhaseSleeping
)

func (p Phase) String() string {
	switch p {
	case PhaseFetching:
		return "fetching"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseUpdating:
		return "updating"
	case PhaseSleeping:
		return "sleeping"
	default:
		return "idle"
	}
}

// CycleResult summarizes one fetch-evaluate-update pass.
type CycleResult struct {
	ID        string
	Agent     string
	StartedAt time.Time
	Duration  time.Duration
	Fetched   int
	Applied   int
	Failed    int
	Conflicts int
	Skipped   int
	FetchErr  error
}

// Worker evaluates one rule against the whole candidate set per cycle. It keeps
// no state between cycles apart from its current phase.
type Worker struct {
	name    string
	rule    catalog.Rule
	gateway Gateway
	logger  *zap.Logger
	phase   atomic.Int32
}

// NewWorker builds a worker around an arbitrary rule.
func NewWorker(name string, rule catalog.Rule, gw Gateway, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		name:    name,
		rule:    rule,
		gateway: gw,
		logger:  logger.With(zap.String(logging.FieldAgent, name)),
	}
}

// NewStageWorker builds a worker restricted to the edges owned by stage and named after it.
func NewStageWorker(stage catalog.Stage, gw Gateway, logger *zap.Logger) (*Worker, error) {
	rule, err := catalog.RuleFor(stage)
	if err != nil {
		return nil, err
	}
	return NewWorker(stage.String(), rule, gw, logger), nil
}

// Name identifies the worker in logs, metrics and the admin API.
func (w *Worker) Name() string {
	return w.name
}

// Phase reports the worker's current phase.
func (w *Worker) Phase() Phase {
	return Phase(w.phase.Load())
}

func (w *Worker) setPhase(p Phase) {
	w.phase.Store(int32(p))
}

type match struct {
	candidate models.Candidate
	next      string
}

// RunCycle performs one pass. Fetch failures are reported in the result rather
// than returned; a failed update never stops the remaining updates.
func (w *Worker) RunCycle(ctx context.Context) (res CycleResult) {
	res = CycleResult{
		ID:        uuid.NewString(),
		Agent:     w.name,
		StartedAt: time.Now(),
	}
	log := w.logger.With(zap.String(logging.FieldCycleID, res.ID))
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		telemetry.CycleDuration.WithLabelValues(w.name).Observe(res.Duration.Seconds())
	}()

	w.setPhase(PhaseFetching)
	batch, err := w.gateway.FetchAll(ctx)
	if err != nil {
		res.FetchErr = err
		log.Warn("fetch candidates failed; treating as empty", zap.Error(err))
		return res
	}
	for _, skipErr := range batch.Skipped {
		log.Warn("skipping malformed candidate record", zap.Error(skipErr))
	}
	res.Skipped = len(batch.Skipped)
	if res.Skipped > 0 {
		telemetry.RecordsSkipped.WithLabelValues(w.name).Add(float64(res.Skipped))
	}
	res.Fetched = len(batch.Candidates)
	if res.Fetched == 0 {
		log.Info("no candidates found")
		return res
	}

	w.setPhase(PhaseEvaluating)
	var matches []match
	for _, c := range batch.Candidates {
		if next, ok := w.rule(c.Status); ok {
			matches = append(matches, match{candidate: c, next: next})
		}
	}

	w.setPhase(PhaseUpdating)
	for _, m := range matches {
		w.apply(ctx, log, m, &res)
	}

	log.Info("cycle complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("applied", res.Applied),
		zap.Int("failed", res.Failed),
		zap.Int("conflicts", res.Conflicts),
		zap.Int("skipped", res.Skipped),
	)
	return res
}

func (w *Worker) apply(ctx context.Context, log *zap.Logger, m match, res *CycleResult) {
	from := strings.TrimSpace(m.candidate.Status)
	fields := []zap.Field{
		zap.String(logging.FieldCandidateID, m.candidate.ID.String()),
		zap.String("name", m.candidate.DisplayName()),
		zap.String("from", from),
		zap.String("to", m.next),
	}

	err := w.gateway.SetStatus(ctx, m.candidate.ID, m.next, m.candidate.Status)
	switch {
	case err == nil:
		res.Applied++
		telemetry.TransitionsApplied.WithLabelValues(w.name, statusLabel(from), m.next).Inc()
		log.Info("candidate status updated", fields...)
	case errors.Is(err, gateway.ErrConflict):
		res.Conflicts++
		telemetry.UpdateConflicts.WithLabelValues(w.name).Inc()
		log.Info("candidate changed since it was read; leaving for next cycle", fields...)
	default:
		res.Failed++
		telemetry.UpdateFailures.WithLabelValues(w.name).Inc()
		log.Warn("update candidate status failed", append(fields, zap.Error(err))...)
	}
}

func statusLabel(status string) string {
	if status == "" {
		return "none"
	}
	return status
}
