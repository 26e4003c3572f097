package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	foundation "github.com/estafette/estafette-foundation"
	"github.com/opentracing/opentracing-go"
	"github.com/rs/zerolog/log"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
	"github.com/sparesparrow/openssl-ci-orchestrator/clients/runner"
)

// Service is the job executor pool; it leases queued jobs to execution slots of
// matching platform, bounded per platform and in total, FIFO per platform
//go:generate mockgen -package=executor -destination ./mock.go -source=service.go
type Service interface {
	// Enqueue schedules all specs as one set; job results, including the
	// intermediate pending/running transitions, are delivered on results, and
	// results is closed once every job of the set is terminal.
	Enqueue(ctx context.Context, specs []api.JobSpec, results chan<- api.JobResult) error
	// Cancel stops all non-terminal jobs of a build request and reclaims their slots
	Cancel(buildRequestID string)
	// Shutdown drains the queues and waits for running jobs to finish
	Shutdown()
}

// NewService returns a started executor pool with one queue per configured platform
func NewService(runnerClient runner.Client, config api.ExecutorConfig, platforms []api.PlatformConfig) Service {

	s := &service{
		runnerClient: runnerClient,
		config:       config,
		queues:       make(map[api.Platform]chan *queuedJob),
		totalSlots:   make(chan struct{}, config.MaxParallelTotal),
		cancels:      make(map[string]context.CancelFunc),
	}

	for _, platform := range platforms {
		queue := make(chan *queuedJob, config.QueueDepth)
		s.queues[platform.Name] = queue
		for i := 0; i < platform.MaxParallel; i++ {
			s.workers.Add(1)
			go s.work(queue)
		}
	}

	return s
}

type queuedJob struct {
	ctx   context.Context
	spec  api.JobSpec
	batch *jobBatch
}

// jobBatch tracks one Enqueue call; it closes the results channel after the
// last job of the set reports a terminal status
type jobBatch struct {
	requestID string
	results   chan<- api.JobResult
	remaining int32
}

type service struct {
	runnerClient runner.Client
	config       api.ExecutorConfig
	queues       map[api.Platform]chan *queuedJob
	totalSlots   chan struct{}
	workers      sync.WaitGroup

	mutex    sync.Mutex
	cancels  map[string]context.CancelFunc
	shutdown bool
}

func (s *service) Enqueue(ctx context.Context, specs []api.JobSpec, results chan<- api.JobResult) error {

	// validate the whole set first so emission is all-or-nothing
	for _, spec := range specs {
		if _, ok := s.queues[spec.Platform]; !ok {
			return fmt.Errorf("%w: no executor queue for platform %v", api.ErrSchedulingFailed, spec.Platform)
		}
	}

	s.mutex.Lock()
	if s.shutdown {
		s.mutex.Unlock()
		return api.Transient(errors.New("executor pool is shutting down"))
	}
	var requestID string
	if len(specs) > 0 {
		requestID = specs[0].BuildRequestID
	}
	requestCtx, cancel := context.WithCancel(ctx)
	if requestID != "" {
		s.cancels[requestID] = cancel
	}
	s.mutex.Unlock()

	batch := &jobBatch{
		requestID: requestID,
		results:   results,
		remaining: int32(len(specs)),
	}

	for _, spec := range specs {
		results <- api.JobResult{
			JobSpecID: spec.ID,
			Platform:  spec.Platform,
			Status:    api.JobStatusPending,
		}
		s.queues[spec.Platform] <- &queuedJob{
			ctx:   requestCtx,
			spec:  spec,
			batch: batch,
		}
	}

	return nil
}

func (s *service) Cancel(buildRequestID string) {
	s.mutex.Lock()
	cancel, ok := s.cancels[buildRequestID]
	if ok {
		delete(s.cancels, buildRequestID)
	}
	s.mutex.Unlock()

	if ok {
		log.Info().Msgf("Cancelling all non-terminal jobs of build request %v", buildRequestID)
		cancel()
	}
}

func (s *service) Shutdown() {
	s.mutex.Lock()
	if !s.shutdown {
		s.shutdown = true
		for _, queue := range s.queues {
			close(queue)
		}
	}
	s.mutex.Unlock()

	s.workers.Wait()
}

func (s *service) work(queue <-chan *queuedJob) {
	defer s.workers.Done()

	for job := range queue {
		// don't burn a slot on a job whose request was already cancelled
		if job.ctx.Err() != nil {
			s.sendResult(job, api.JobResult{
				JobSpecID: job.spec.ID,
				Platform:  job.spec.Platform,
				Status:    api.JobStatusCancelled,
			})
			continue
		}

		s.totalSlots <- struct{}{}
		s.runJob(job)
		<-s.totalSlots
	}
}

func (s *service) runJob(job *queuedJob) {

	span, ctx := opentracing.StartSpanFromContext(job.ctx, "RunJob")
	defer span.Finish()
	span.SetTag("job", job.spec.Name())

	spec := job.spec
	startedAt := time.Now().UTC()

	var artifactRefs []string
	var logRef string
	var err error

	// retries are for transient infra failures only, never for build or test
	// failures, and count against the same job spec identity
	for runIndex := 0; ; runIndex++ {

		s.sendResult(job, api.JobResult{
			JobSpecID: spec.ID,
			Platform:  spec.Platform,
			Status:    api.JobStatusRunning,
			RunIndex:  runIndex,
			StartedAt: startedAt,
		})

		jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout.AsDuration())
		artifactRefs, logRef, err = s.runnerClient.RunJob(jobCtx, spec)
		timedOut := jobCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil {
			s.sendResult(job, api.JobResult{
				JobSpecID:    spec.ID,
				Platform:     spec.Platform,
				Status:       api.JobStatusSucceeded,
				RunIndex:     runIndex,
				StartedAt:    startedAt,
				FinishedAt:   time.Now().UTC(),
				LogRef:       logRef,
				ArtifactRefs: artifactRefs,
			})
			return
		}

		if job.ctx.Err() != nil {
			log.Info().Msgf("[%v] Job cancelled", spec.Name())
			s.sendResult(job, api.JobResult{
				JobSpecID:  spec.ID,
				Platform:   spec.Platform,
				Status:     api.JobStatusCancelled,
				RunIndex:   runIndex,
				StartedAt:  startedAt,
				FinishedAt: time.Now().UTC(),
				LogRef:     logRef,
			})
			return
		}

		if timedOut {
			log.Warn().Msgf("[%v] Job exceeded wall-clock timeout of %v", spec.Name(), s.config.JobTimeout.AsDuration())
			s.sendResult(job, api.JobResult{
				JobSpecID:  spec.ID,
				Platform:   spec.Platform,
				Status:     api.JobStatusTimedOut,
				RunIndex:   runIndex,
				StartedAt:  startedAt,
				FinishedAt: time.Now().UTC(),
				LogRef:     logRef,
			})
			return
		}

		if api.IsTransient(err) && runIndex < s.config.MaxRetries {
			// ApplyJitter requires a positive input; with no backoff configured retry immediately
			sleepSeconds := 0
			if s.config.RetryBackoffSeconds > 0 {
				sleepSeconds = foundation.ApplyJitter(s.config.RetryBackoffSeconds)
			}
			log.Warn().Err(err).Msgf("[%v] Transient infra failure on run %v, retrying in %v seconds", spec.Name(), runIndex, sleepSeconds)
			time.Sleep(time.Duration(sleepSeconds) * time.Second)
			continue
		}

		log.Warn().Err(err).Msgf("[%v] Job failed", spec.Name())
		s.sendResult(job, api.JobResult{
			JobSpecID:  spec.ID,
			Platform:   spec.Platform,
			Status:     api.JobStatusFailed,
			RunIndex:   runIndex,
			StartedAt:  startedAt,
			FinishedAt: time.Now().UTC(),
			LogRef:     logRef,
		})
		return
	}
}

func (s *service) sendResult(job *queuedJob, result api.JobResult) {
	job.batch.results <- result

	if !result.Status.IsTerminal() {
		return
	}
	if atomic.AddInt32(&job.batch.remaining, -1) == 0 {
		close(job.batch.results)
		s.mutex.Lock()
		delete(s.cancels, job.batch.requestID)
		s.mutex.Unlock()
	}
}
