package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

// Service collects job results for a build request and freezes them into a
// single immutable build outcome
//go:generate mockgen -package=aggregator -destination ./mock.go -source=service.go
type Service interface {
	// Aggregate consumes results until every required job is terminal or the
	// aggregation timeout expires, then freezes and returns the outcome exactly
	// once; late advisory results are still recorded but never change the
	// frozen overall status
	Aggregate(ctx context.Context, request api.BuildRequest, specs []api.JobSpec, results <-chan api.JobResult) (outcome api.BuildOutcome, err error)
	// Status returns the current per-job snapshot of an in-flight build request
	Status(buildRequestID string) (jobResults []api.JobResult, frozen bool, err error)
}

// NewService returns an aggregator freezing outcomes after at most timeout
func NewService(config api.AggregatorConfig) Service {
	return &service{
		config:    config,
		snapshots: make(map[string]*snapshot),
	}
}

type snapshot struct {
	specs   []api.JobSpec
	results map[string]api.JobResult
	frozen  bool
}

type service struct {
	config    api.AggregatorConfig
	mutex     sync.RWMutex
	snapshots map[string]*snapshot
}

func (s *service) Aggregate(ctx context.Context, request api.BuildRequest, specs []api.JobSpec, results <-chan api.JobResult) (outcome api.BuildOutcome, err error) {

	snap := &snapshot{
		specs:   specs,
		results: make(map[string]api.JobResult),
	}
	s.mutex.Lock()
	s.snapshots[request.ID] = snap
	s.mutex.Unlock()

	timeout := time.NewTimer(s.config.Timeout.AsDuration())
	defer timeout.Stop()

	deadlineExpired := false
	closed := false
	for !deadlineExpired && !closed && !s.requiredTerminal(snap) {
		select {
		case result, ok := <-results:
			if !ok {
				closed = true
				break
			}
			s.record(snap, result)
		case <-timeout.C:
			log.Warn().Msgf("Aggregation for build request %v exceeded timeout of %v, freezing with unterminated required jobs as failed", request.ID, s.config.Timeout.AsDuration())
			deadlineExpired = true
		case <-ctx.Done():
			deadlineExpired = true
		}
	}

	// advisory results already delivered still count towards the frozen status
	s.flush(snap, results)

	outcome = s.freeze(request, snap)

	if !closed {
		// keep the channel drained so no executor slot ever blocks on a result
		// nobody reads; late results are recorded for the status query only
		go s.drain(snap, results)
	}

	return outcome, nil
}

// flush records results that are already buffered without blocking
func (s *service) flush(snap *snapshot, results <-chan api.JobResult) {
	for {
		select {
		case result, ok := <-results:
			if !ok {
				return
			}
			s.record(snap, result)
		default:
			return
		}
	}
}

// drain keeps consuming results after the freeze until the executor closes the
// channel; the frozen outcome never changes, only the per-job snapshot does
func (s *service) drain(snap *snapshot, results <-chan api.JobResult) {
	for result := range results {
		s.record(snap, result)
	}
}

func (s *service) Status(buildRequestID string) (jobResults []api.JobResult, frozen bool, err error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snap, ok := s.snapshots[buildRequestID]
	if !ok {
		return nil, false, fmt.Errorf("%w: no aggregation for build request %v", api.ErrNotFound, buildRequestID)
	}

	for _, spec := range snap.specs {
		result, ok := snap.results[spec.ID]
		if !ok {
			result = api.JobResult{JobSpecID: spec.ID, Platform: spec.Platform, Status: api.JobStatusPending}
		}
		jobResults = append(jobResults, result)
	}

	return jobResults, snap.frozen, nil
}

func (s *service) record(snap *snapshot, result api.JobResult) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, ok := snap.results[result.JobSpecID]
	if ok && current.Status.IsTerminal() {
		log.Warn().Msgf("Discarding result %v for job %v, job already terminal with %v", result.Status, result.JobSpecID, current.Status)
		return
	}

	if snap.frozen {
		log.Info().Msgf("Recording late result %v for job %v, the frozen outcome does not change", result.Status, result.JobSpecID)
	}

	snap.results[result.JobSpecID] = result
}

func (s *service) requiredTerminal(snap *snapshot) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, spec := range snap.specs {
		if !spec.Required {
			continue
		}
		result, ok := snap.results[spec.ID]
		if !ok || !result.Status.IsTerminal() {
			return false
		}
	}

	return true
}

func (s *service) freeze(request api.BuildRequest, snap *snapshot) api.BuildOutcome {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	snap.frozen = true

	outcome := api.BuildOutcome{
		ID:             uuid.New().String(),
		BuildRequestID: request.ID,
		FrozenAt:       time.Now().UTC(),
	}

	requiredTotal := 0
	requiredSucceeded := 0
	advisoryFailed := 0

	for _, spec := range snap.specs {
		result, ok := snap.results[spec.ID]
		if !ok {
			result = api.JobResult{JobSpecID: spec.ID, Platform: spec.Platform, Status: api.JobStatusPending}
		}

		// a required job that never reached a terminal state counts as failed;
		// unterminated advisory jobs stay as they are and never flip the status
		if spec.Required && !result.Status.IsTerminal() {
			result = api.JobResult{
				JobSpecID:  spec.ID,
				Platform:   spec.Platform,
				Status:     api.JobStatusFailed,
				StartedAt:  result.StartedAt,
				FinishedAt: time.Now().UTC(),
			}
			snap.results[spec.ID] = result
		}

		if spec.Required {
			requiredTotal++
			if result.Status == api.JobStatusSucceeded {
				requiredSucceeded++
			}
		} else if result.Status.IsTerminal() && result.Status != api.JobStatusSucceeded {
			advisoryFailed++
		}

		outcome.JobResults = append(outcome.JobResults, result)
	}

	switch {
	case requiredSucceeded == requiredTotal && advisoryFailed == 0:
		outcome.OverallStatus = api.OutcomeStatusPassed
	case requiredSucceeded == requiredTotal:
		outcome.OverallStatus = api.OutcomeStatusPartial
	default:
		outcome.OverallStatus = api.OutcomeStatusFailed
	}

	log.Info().Msgf("Froze build outcome %v for build request %v with overall status %v (%v/%v required jobs succeeded)", outcome.ID, request.ID, outcome.OverallStatus, requiredSucceeded, requiredTotal)

	return outcome
}
