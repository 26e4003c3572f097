package promotion

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
	"github.com/sparesparrow/openssl-ci-orchestrator/clients/artifact"
)

// actor recorded for transitions the system performs on its own
const systemActor = "system:promotion"

// actor recorded when an approval window expires without a decision
const approvalTimeoutActor = "system:approval-timeout"

// Service is the promotion state machine; it owns all mutations of promotion
// records and the copy-forward of artifacts between namespaces
//go:generate mockgen -package=promotion -destination ./mock.go -source=service.go
type Service interface {
	// Initiate creates the promotion record for a gated build outcome in state built
	Initiate(ctx context.Context, request api.BuildRequest, outcome api.BuildOutcome) (record api.PromotionRecord, err error)
	// Stage publishes the outcome's artifacts to the staging namespace; release
	// eligible records advance to awaiting_approval with a bounded approval window
	Stage(ctx context.Context, buildOutcomeID string) (record api.PromotionRecord, err error)
	// Approve copies the artifacts to production, recording the approver
	Approve(ctx context.Context, buildOutcomeID, approver string) (record api.PromotionRecord, err error)
	// Reject permanently rejects a record from any non-terminal state
	Reject(ctx context.Context, buildOutcomeID, actor string) (record api.PromotionRecord, err error)
	// Get returns the promotion record for a build outcome
	Get(ctx context.Context, buildOutcomeID string) (record api.PromotionRecord, err error)
	// ResumeApprovalTimeouts re-arms the approval windows of records that were
	// awaiting approval when the process last stopped
	ResumeApprovalTimeouts(ctx context.Context) (err error)
}

// NewService returns a promotion state machine persisting records in store;
// onAutoReject, when set, is notified after an approval window expires so the
// terminal rejection still reaches the status reporter
func NewService(store Store, artifactClient artifact.Client, config api.PromotionConfig, onAutoReject func(record api.PromotionRecord)) Service {
	return &service{
		store:          store,
		artifactClient: artifactClient,
		config:         config,
		onAutoReject:   onAutoReject,
		recordMutex:    api.NewKeyedMutex(),
		timers:         make(map[string]*time.Timer),
	}
}

type service struct {
	store          Store
	artifactClient artifact.Client
	config         api.PromotionConfig
	onAutoReject   func(record api.PromotionRecord)
	recordMutex    *api.KeyedMutex

	timerMutex sync.Mutex
	timers     map[string]*time.Timer
}

func (s *service) Initiate(ctx context.Context, request api.BuildRequest, outcome api.BuildOutcome) (record api.PromotionRecord, err error) {

	record = api.PromotionRecord{
		BuildOutcomeID:  outcome.ID,
		BuildRequestID:  request.ID,
		CommitSHA:       request.CommitSHA,
		Ref:             request.Ref,
		State:           api.PromotionStateBuilt,
		ReleaseEligible: s.releaseEligible(request),
		ArtifactRefs:    outcome.ArtifactRefs(),
		StateHistory: []api.StateChange{
			{State: api.PromotionStateBuilt, At: time.Now().UTC(), Actor: systemActor},
		},
	}

	if err = s.store.Create(ctx, record); err != nil {
		return
	}

	log.Info().Msgf("Created promotion record for build outcome %v in state %v (release eligible: %v)", outcome.ID, record.State, record.ReleaseEligible)

	return record, nil
}

func (s *service) Stage(ctx context.Context, buildOutcomeID string) (record api.PromotionRecord, err error) {

	s.recordMutex.Lock(buildOutcomeID)
	defer s.recordMutex.Unlock(buildOutcomeID)

	record, err = s.store.Get(ctx, buildOutcomeID)
	if err != nil {
		return
	}

	// staging is delivered at least once, replays are no-ops
	if record.State != api.PromotionStateBuilt {
		return record, nil
	}

	err = s.artifactClient.Publish(ctx, buildOutcomeID, api.NamespaceStaging, record.ArtifactRefs)
	if err != nil && !errors.Is(err, api.ErrAlreadyPublished) {
		return record, err
	}

	record = transition(record, api.PromotionStateStaged, systemActor)

	if record.ReleaseEligible {
		record = transition(record, api.PromotionStateAwaitingApproval, systemActor)
	}

	if err = s.store.Update(ctx, record); err != nil {
		return
	}

	if record.State == api.PromotionStateAwaitingApproval {
		s.armApprovalTimeout(buildOutcomeID, s.config.ApprovalTimeout.AsDuration())
	}

	log.Info().Msgf("Staged build outcome %v, promotion record now in state %v", buildOutcomeID, record.State)

	return record, nil
}

func (s *service) Approve(ctx context.Context, buildOutcomeID, approver string) (record api.PromotionRecord, err error) {

	if approver == "" {
		return record, fmt.Errorf("%w: approver is required", api.ErrInvalidRequest)
	}

	s.recordMutex.Lock(buildOutcomeID)
	defer s.recordMutex.Unlock(buildOutcomeID)

	record, err = s.store.Get(ctx, buildOutcomeID)
	if err != nil {
		return
	}

	// a duplicate approval by the same approver is a no-op, not an error
	if record.State == api.PromotionStateProduction && record.Approver == approver {
		return record, nil
	}

	if record.State != api.PromotionStateAwaitingApproval {
		return record, fmt.Errorf("%w: promotion record for build outcome %v is in state %v", api.ErrNotAwaitingApproval, buildOutcomeID, record.State)
	}

	err = s.artifactClient.Promote(ctx, buildOutcomeID, api.NamespaceStaging, api.NamespaceProduction)
	if err != nil {
		return record, err
	}

	record.Approver = approver
	record = transition(record, api.PromotionStateProduction, approver)

	if err = s.store.Update(ctx, record); err != nil {
		return
	}

	s.stopApprovalTimeout(buildOutcomeID)

	log.Info().Msgf("Promoted build outcome %v to production, approved by %v", buildOutcomeID, approver)

	return record, nil
}

func (s *service) Reject(ctx context.Context, buildOutcomeID, actor string) (record api.PromotionRecord, err error) {

	s.recordMutex.Lock(buildOutcomeID)
	defer s.recordMutex.Unlock(buildOutcomeID)

	record, err = s.store.Get(ctx, buildOutcomeID)
	if err != nil {
		return
	}

	if record.State == api.PromotionStateRejected {
		return record, nil
	}

	// rejection is reachable from any non-terminal state, a gate verdict can be
	// revisited even before the record awaits approval
	if record.State.IsTerminal() {
		return record, fmt.Errorf("%w: promotion record for build outcome %v is already in terminal state %v", api.ErrInvalidTransition, buildOutcomeID, record.State)
	}

	record = transition(record, api.PromotionStateRejected, actor)

	if err = s.store.Update(ctx, record); err != nil {
		return
	}

	s.stopApprovalTimeout(buildOutcomeID)

	log.Info().Msgf("Rejected promotion of build outcome %v by %v", buildOutcomeID, actor)

	return record, nil
}

func (s *service) Get(ctx context.Context, buildOutcomeID string) (record api.PromotionRecord, err error) {
	return s.store.Get(ctx, buildOutcomeID)
}

func (s *service) releaseEligible(request api.BuildRequest) bool {
	if request.EventKind != api.EventKindMerge {
		return false
	}
	for _, pattern := range s.config.ReleaseRefs {
		if matched, _ := path.Match(pattern, request.Ref); matched {
			return true
		}
	}
	return false
}

func (s *service) ResumeApprovalTimeouts(ctx context.Context) (err error) {

	records, err := s.store.ListByState(ctx, api.PromotionStateAwaitingApproval)
	if err != nil {
		return err
	}

	for _, record := range records {
		remaining := s.config.ApprovalTimeout.AsDuration()
		if n := len(record.StateHistory); n > 0 {
			remaining -= time.Since(record.StateHistory[n-1].At)
		}
		// an already expired window fires the rejection right away
		s.armApprovalTimeout(record.BuildOutcomeID, remaining)
	}

	if len(records) > 0 {
		log.Info().Msgf("Re-armed approval timeouts for %v promotion records awaiting approval", len(records))
	}

	return nil
}

func (s *service) armApprovalTimeout(buildOutcomeID string, after time.Duration) {
	s.timerMutex.Lock()
	defer s.timerMutex.Unlock()

	if _, ok := s.timers[buildOutcomeID]; ok {
		return
	}

	s.timers[buildOutcomeID] = time.AfterFunc(after, func() {
		record, err := s.Reject(context.Background(), buildOutcomeID, approvalTimeoutActor)
		if err != nil {
			if !errors.Is(err, api.ErrInvalidTransition) {
				log.Warn().Err(err).Msgf("Failed auto-rejecting build outcome %v after approval timeout", buildOutcomeID)
			}
			return
		}
		// notify only when this timer performed the rejection, a replayed
		// rejection already produced its terminal callback
		last := record.StateHistory[len(record.StateHistory)-1]
		if s.onAutoReject != nil && last.Actor == approvalTimeoutActor {
			s.onAutoReject(record)
		}
	})
}

func (s *service) stopApprovalTimeout(buildOutcomeID string) {
	s.timerMutex.Lock()
	defer s.timerMutex.Unlock()

	if timer, ok := s.timers[buildOutcomeID]; ok {
		timer.Stop()
		delete(s.timers, buildOutcomeID)
	}
}

// transition appends the new state to the audit trail and sets it as current
func transition(record api.PromotionRecord, state api.PromotionState, actor string) api.PromotionRecord {
	record.State = state
	record.StateHistory = append(record.StateHistory, api.StateChange{
		State: state,
		At:    time.Now().UTC(),
		Actor: actor,
	})
	return record
}
