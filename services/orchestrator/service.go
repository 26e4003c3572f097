package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/rs/zerolog/log"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
	"github.com/sparesparrow/openssl-ci-orchestrator/clients/ciapi"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/aggregator"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/executor"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/gates"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/promotion"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/scheduler"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/trigger"
)

// Service drives a build request through scheduling, execution, aggregation,
// gating and promotion, and reports status back to the source repository
//go:generate mockgen -package=orchestrator -destination ./mock.go -source=service.go
type Service interface {
	// Submit runs a raw trigger event through validation and dedup and, when
	// accepted, starts the asynchronous build flow for it
	Submit(ctx context.Context, event trigger.RawEvent) (result trigger.Result, err error)
	// Approve promotes the build outcome to production on behalf of approver
	Approve(ctx context.Context, buildOutcomeID, approver string) (record api.PromotionRecord, err error)
	// Reject permanently rejects the build outcome's promotion
	Reject(ctx context.Context, buildOutcomeID, actor string) (record api.PromotionRecord, err error)
	// RequestStatus returns the request plus the current per-job view of its flow
	RequestStatus(ctx context.Context, buildRequestID string) (status RequestStatus, err error)
	// Wait blocks until all in-flight build flows have finished
	Wait()
}

// flowRetention is how long a finished flow stays queryable through RequestStatus
const flowRetention = 24 * time.Hour

// RequestStatus is the queryable view of a submitted build request
type RequestStatus struct {
	Request       api.BuildRequest `json:"request"`
	Phase         string           `json:"phase"`
	JobResults    []api.JobResult  `json:"job_results,omitempty"`
	OverallStatus string           `json:"overall_status,omitempty"`
	OutcomeID     string           `json:"build_outcome_id,omitempty"`
}

// NewService wires the full build flow together
func NewService(triggerService trigger.Service, schedulerService scheduler.Service, executorService executor.Service, aggregatorService aggregator.Service, gatesService gates.Service, promotionService promotion.Service, ciapiClient ciapi.Client, artifactDir, detailURLBase string) Service {
	return &service{
		triggerService:    triggerService,
		schedulerService:  schedulerService,
		executorService:   executorService,
		aggregatorService: aggregatorService,
		gatesService:      gatesService,
		promotionService:  promotionService,
		ciapiClient:       ciapiClient,
		artifactDir:       artifactDir,
		detailURLBase:     detailURLBase,
		flows:             make(map[string]*flowState),
		inFlight:          make(map[string]*flowState),
	}
}

type flowState struct {
	request   api.BuildRequest
	cancel    context.CancelFunc
	phase     string
	outcomeID string
	overall   api.OutcomeStatus
	mutex     sync.RWMutex
}

func (f *flowState) setPhase(phase string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.phase = phase
}

type service struct {
	triggerService    trigger.Service
	schedulerService  scheduler.Service
	executorService   executor.Service
	aggregatorService aggregator.Service
	gatesService      gates.Service
	promotionService  promotion.Service
	ciapiClient       ciapi.Client
	artifactDir       string
	detailURLBase     string

	mutex    sync.Mutex
	flows    map[string]*flowState // by build request id
	inFlight map[string]*flowState // by source repo + ref, newest wins
	wg       sync.WaitGroup
}

func (s *service) Submit(ctx context.Context, event trigger.RawEvent) (result trigger.Result, err error) {

	request, result, err := s.triggerService.Receive(ctx, event)
	if errors.Is(err, api.ErrDuplicateRequest) {
		// the earlier request's flow already covers this commit
		return result, nil
	}
	if err != nil {
		return
	}

	flowCtx, cancel := context.WithCancel(context.Background())
	flow := &flowState{
		request: request,
		cancel:  cancel,
		phase:   "scheduling",
	}

	s.mutex.Lock()
	s.flows[request.ID] = flow
	if request.EventKind == api.EventKindBranchPush || request.EventKind == api.EventKindPR {
		key := supersedeKey(request)
		if previous, ok := s.inFlight[key]; ok {
			log.Info().Msgf("Build request %v supersedes %v on %v %v, cancelling the older flow", request.ID, previous.request.ID, request.SourceRepo, request.Ref)
			previous.cancel()
			s.executorService.Cancel(previous.request.ID)
		}
		s.inFlight[key] = flow
	}
	s.mutex.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runFlow(flowCtx, flow)
		s.finishFlow(flow)
	}()

	return result, nil
}

// finishFlow releases the supersede slot and schedules removal of the
// completed flow's status entry after the retention window
func (s *service) finishFlow(flow *flowState) {
	s.mutex.Lock()
	key := supersedeKey(flow.request)
	if current, ok := s.inFlight[key]; ok && current == flow {
		delete(s.inFlight, key)
	}
	s.mutex.Unlock()

	time.AfterFunc(flowRetention, func() {
		s.mutex.Lock()
		delete(s.flows, flow.request.ID)
		s.mutex.Unlock()
	})
}

func (s *service) runFlow(ctx context.Context, flow *flowState) {

	span, ctx := opentracing.StartSpanFromContext(ctx, "BuildFlow")
	defer span.Finish()
	request := flow.request
	span.SetTag("build-request", request.ID)

	s.postStatus(ctx, request, "pending", "")

	specs, err := s.schedulerService.Schedule(ctx, request)
	if err != nil {
		log.Warn().Err(err).Msgf("Scheduling failed for build request %v", request.ID)
		flow.setPhase("failed")
		s.postStatus(ctx, request, "error", "")
		return
	}

	if len(specs) == 0 {
		// docs-only or otherwise empty matrix, nothing to build
		log.Info().Msgf("Build request %v produced no jobs, reporting success without building", request.ID)
		flow.setPhase("skipped")
		s.postStatus(ctx, request, "success", string(api.OutcomeStatusPassed))
		return
	}

	flow.setPhase("executing")

	// sized so the executor never blocks on intermediate transitions
	results := make(chan api.JobResult, len(specs)*4)
	if err = s.executorService.Enqueue(ctx, specs, results); err != nil {
		log.Warn().Err(err).Msgf("Enqueueing jobs failed for build request %v", request.ID)
		flow.setPhase("failed")
		s.postStatus(ctx, request, "error", "")
		return
	}

	outcome, err := s.aggregatorService.Aggregate(ctx, request, specs, results)
	if err != nil {
		log.Warn().Err(err).Msgf("Aggregation failed for build request %v", request.ID)
		flow.setPhase("failed")
		s.postStatus(ctx, request, "error", "")
		return
	}

	flow.mutex.Lock()
	flow.outcomeID = outcome.ID
	flow.overall = outcome.OverallStatus
	flow.mutex.Unlock()

	aggregator.RenderOutcome(outcome)

	if outcome.OverallStatus == api.OutcomeStatusFailed {
		flow.setPhase("failed")
		s.postStatus(ctx, request, "failure", string(outcome.OverallStatus))
		return
	}

	flow.setPhase("gating")

	reports, promotable, err := s.gatesService.Run(ctx, outcome, s.artifactDir)
	if err != nil {
		log.Warn().Err(err).Msgf("Gate run failed for build outcome %v", outcome.ID)
		flow.setPhase("failed")
		s.postStatus(ctx, request, "error", string(outcome.OverallStatus))
		return
	}
	for _, report := range reports {
		log.Info().Msgf("Gate %v for build outcome %v: %v", report.GateName, outcome.ID, report.Result)
	}
	if outcome.OverallStatus != api.OutcomeStatusPassed {
		// required jobs succeeded, but a partial outcome never promotes
		log.Info().Msgf("Build outcome %v is %v, skipping promotion", outcome.ID, outcome.OverallStatus)
		flow.setPhase("completed")
		s.postStatus(ctx, request, "success", string(outcome.OverallStatus))
		return
	}
	if !promotable {
		log.Warn().Msgf("Build outcome %v blocked by gates", outcome.ID)
		flow.setPhase("blocked")
		s.postStatus(ctx, request, "failure", string(outcome.OverallStatus))
		return
	}

	flow.setPhase("promoting")

	if _, err = s.promotionService.Initiate(ctx, request, outcome); err != nil {
		log.Warn().Err(err).Msgf("Creating promotion record failed for build outcome %v", outcome.ID)
		flow.setPhase("failed")
		s.postStatus(ctx, request, "error", string(outcome.OverallStatus))
		return
	}

	record, err := s.promotionService.Stage(ctx, outcome.ID)
	if err != nil {
		log.Warn().Err(err).Msgf("Staging failed for build outcome %v", outcome.ID)
		flow.setPhase("failed")
		s.postStatus(ctx, request, "error", string(outcome.OverallStatus))
		return
	}

	flow.setPhase(string(record.State))
	s.postStatus(ctx, request, "success", string(outcome.OverallStatus))
}

func (s *service) Approve(ctx context.Context, buildOutcomeID, approver string) (record api.PromotionRecord, err error) {

	record, err = s.promotionService.Approve(ctx, buildOutcomeID, approver)
	if err != nil {
		return
	}

	s.postPromotionStatus(ctx, record)

	return record, nil
}

func (s *service) Reject(ctx context.Context, buildOutcomeID, actor string) (record api.PromotionRecord, err error) {

	record, err = s.promotionService.Reject(ctx, buildOutcomeID, actor)
	if err != nil {
		return
	}

	s.postPromotionStatus(ctx, record)

	return record, nil
}

func (s *service) RequestStatus(ctx context.Context, buildRequestID string) (status RequestStatus, err error) {

	s.mutex.Lock()
	flow, ok := s.flows[buildRequestID]
	s.mutex.Unlock()
	if !ok {
		return status, fmt.Errorf("%w: no build request %v", api.ErrNotFound, buildRequestID)
	}

	flow.mutex.RLock()
	status = RequestStatus{
		Request:       flow.request,
		Phase:         flow.phase,
		OverallStatus: string(flow.overall),
		OutcomeID:     flow.outcomeID,
	}
	flow.mutex.RUnlock()

	jobResults, _, err := s.aggregatorService.Status(buildRequestID)
	if err == nil {
		status.JobResults = jobResults
	} else if !errors.Is(err, api.ErrNotFound) {
		return status, err
	}

	return status, nil
}

func (s *service) Wait() {
	s.wg.Wait()
}

func (s *service) postStatus(ctx context.Context, request api.BuildRequest, state, overallStatus string) {

	detailURL := ""
	if s.detailURLBase != "" {
		detailURL = fmt.Sprintf("%v/api/requests/%v", s.detailURLBase, request.ID)
	}

	err := s.ciapiClient.PostStatus(ctx, api.StatusUpdate{
		BuildRequestID: request.ID,
		CommitSHA:      request.CommitSHA,
		State:          state,
		OverallStatus:  overallStatus,
		DetailURL:      detailURL,
	})
	if err != nil {
		log.Warn().Err(err).Msgf("Posting status %v for build request %v failed", state, request.ID)
	}
}

func (s *service) postPromotionStatus(ctx context.Context, record api.PromotionRecord) {
	err := s.ciapiClient.PostStatus(ctx, api.StatusUpdate{
		BuildRequestID: record.BuildRequestID,
		CommitSHA:      record.CommitSHA,
		State:          string(record.State),
	})
	if err != nil {
		log.Warn().Err(err).Msgf("Posting promotion state %v for build outcome %v failed", record.State, record.BuildOutcomeID)
	}
}

func supersedeKey(request api.BuildRequest) string {
	return fmt.Sprintf("%v|%v", request.SourceRepo, request.Ref)
}
