package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

func getService(timeout time.Duration) Service {
	return NewService(api.AggregatorConfig{Timeout: api.Duration(timeout)})
}

func getRequest() api.BuildRequest {
	return api.BuildRequest{ID: "request-1", EventKind: api.EventKindMerge}
}

func getSpecs() []api.JobSpec {
	return []api.JobSpec{
		{ID: "job-a", BuildRequestID: "request-1", Platform: api.PlatformLinuxX8664, Required: true},
		{ID: "job-b", BuildRequestID: "request-1", Platform: api.PlatformLinuxArm64, Required: true},
	}
}

func terminal(jobSpecID string, status api.JobStatus, refs ...string) api.JobResult {
	return api.JobResult{
		JobSpecID:    jobSpecID,
		Status:       status,
		StartedAt:    time.Now().UTC(),
		FinishedAt:   time.Now().UTC(),
		ArtifactRefs: refs,
	}
}

func TestAggregate(t *testing.T) {

	t.Run("PassesWhenAllRequiredJobsSucceed", func(t *testing.T) {

		service := getService(time.Minute)
		results := make(chan api.JobResult, 8)
		results <- terminal("job-a", api.JobStatusSucceeded, "a.tar.gz")
		results <- terminal("job-b", api.JobStatusSucceeded, "b.tar.gz")

		// act
		outcome, err := service.Aggregate(context.Background(), getRequest(), getSpecs(), results)

		assert.Nil(t, err)
		assert.Equal(t, api.OutcomeStatusPassed, outcome.OverallStatus)
		assert.Equal(t, 2, len(outcome.JobResults))
		assert.NotEmpty(t, outcome.ID)
		assert.False(t, outcome.FrozenAt.IsZero())
		assert.Equal(t, []string{"a.tar.gz", "b.tar.gz"}, outcome.ArtifactRefs())
	})

	t.Run("FailsWhenAnyRequiredJobFails", func(t *testing.T) {

		service := getService(time.Minute)
		results := make(chan api.JobResult, 8)
		results <- terminal("job-a", api.JobStatusSucceeded, "a.tar.gz")
		results <- terminal("job-b", api.JobStatusTimedOut)

		// act
		outcome, err := service.Aggregate(context.Background(), getRequest(), getSpecs(), results)

		assert.Nil(t, err)
		assert.Equal(t, api.OutcomeStatusFailed, outcome.OverallStatus)
	})

	t.Run("PartialWhenOnlyAdvisoryJobsFail", func(t *testing.T) {

		specs := getSpecs()
		specs[1].Required = false
		service := getService(time.Minute)
		results := make(chan api.JobResult, 8)
		results <- terminal("job-a", api.JobStatusSucceeded, "a.tar.gz")
		results <- terminal("job-b", api.JobStatusFailed)

		// act
		outcome, err := service.Aggregate(context.Background(), getRequest(), specs, results)

		assert.Nil(t, err)
		assert.Equal(t, api.OutcomeStatusPartial, outcome.OverallStatus)
	})

	t.Run("FreezesUnterminatedJobsAsFailedOnTimeout", func(t *testing.T) {

		service := getService(50 * time.Millisecond)
		results := make(chan api.JobResult, 8)
		results <- terminal("job-a", api.JobStatusSucceeded, "a.tar.gz")

		// act
		outcome, err := service.Aggregate(context.Background(), getRequest(), getSpecs(), results)

		assert.Nil(t, err)
		assert.Equal(t, api.OutcomeStatusFailed, outcome.OverallStatus)
		statusByJob := map[string]api.JobStatus{}
		for _, r := range outcome.JobResults {
			statusByJob[r.JobSpecID] = r.Status
		}
		assert.Equal(t, api.JobStatusSucceeded, statusByJob["job-a"])
		assert.Equal(t, api.JobStatusFailed, statusByJob["job-b"])
	})

	t.Run("FreezesOnceRequiredJobsAreTerminalWithoutWaitingForAdvisory", func(t *testing.T) {

		specs := getSpecs()
		specs[1].Required = false
		service := getService(time.Minute)
		results := make(chan api.JobResult, 8)
		results <- terminal("job-a", api.JobStatusSucceeded, "a.tar.gz")

		// act
		started := time.Now()
		outcome, err := service.Aggregate(context.Background(), getRequest(), specs, results)

		assert.Nil(t, err)
		assert.Less(t, time.Since(started), 10*time.Second)
		assert.Equal(t, api.OutcomeStatusPassed, outcome.OverallStatus)
		statusByJob := map[string]api.JobStatus{}
		for _, r := range outcome.JobResults {
			statusByJob[r.JobSpecID] = r.Status
		}
		assert.Equal(t, api.JobStatusPending, statusByJob["job-b"])
	})

	t.Run("RecordsLateAdvisoryResultWithoutChangingFrozenOutcome", func(t *testing.T) {

		specs := getSpecs()
		specs[1].Required = false
		service := getService(time.Minute)
		results := make(chan api.JobResult, 8)
		results <- terminal("job-a", api.JobStatusSucceeded, "a.tar.gz")

		outcome, err := service.Aggregate(context.Background(), getRequest(), specs, results)
		assert.Nil(t, err)
		assert.Equal(t, api.OutcomeStatusPassed, outcome.OverallStatus)

		// act
		results <- terminal("job-b", api.JobStatusFailed)

		assert.Eventually(t, func() bool {
			jobResults, frozen, err := service.Status("request-1")
			if err != nil || !frozen {
				return false
			}
			for _, r := range jobResults {
				if r.JobSpecID == "job-b" && r.Status == api.JobStatusFailed {
					return true
				}
			}
			return false
		}, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, api.OutcomeStatusPassed, outcome.OverallStatus)
	})

	t.Run("DiscardsResultContradictingTerminalStatus", func(t *testing.T) {

		service := getService(time.Minute)
		results := make(chan api.JobResult, 8)
		results <- terminal("job-a", api.JobStatusSucceeded, "a.tar.gz")
		results <- terminal("job-a", api.JobStatusFailed)
		results <- terminal("job-b", api.JobStatusSucceeded, "b.tar.gz")

		// act
		outcome, err := service.Aggregate(context.Background(), getRequest(), getSpecs(), results)

		assert.Nil(t, err)
		assert.Equal(t, api.OutcomeStatusPassed, outcome.OverallStatus)
	})
}

func TestStatus(t *testing.T) {

	t.Run("ReturnsPendingForUnreportedJobs", func(t *testing.T) {

		service := getService(time.Minute)
		results := make(chan api.JobResult, 8)
		outcomes := make(chan api.BuildOutcome, 1)
		go func() {
			outcome, _ := service.Aggregate(context.Background(), getRequest(), getSpecs(), results)
			outcomes <- outcome
		}()

		results <- api.JobResult{JobSpecID: "job-a", Status: api.JobStatusRunning}
		// wait for the aggregator to pick the result up
		assert.Eventually(t, func() bool {
			jobResults, _, err := service.Status("request-1")
			if err != nil {
				return false
			}
			for _, r := range jobResults {
				if r.JobSpecID == "job-a" && r.Status == api.JobStatusRunning {
					return true
				}
			}
			return false
		}, 5*time.Second, 10*time.Millisecond)

		// act
		jobResults, frozen, err := service.Status("request-1")

		assert.Nil(t, err)
		assert.False(t, frozen)
		statusByJob := map[string]api.JobStatus{}
		for _, r := range jobResults {
			statusByJob[r.JobSpecID] = r.Status
		}
		assert.Equal(t, api.JobStatusPending, statusByJob["job-b"])

		results <- terminal("job-a", api.JobStatusSucceeded)
		results <- terminal("job-b", api.JobStatusSucceeded)
		<-outcomes

		_, frozen, err = service.Status("request-1")
		assert.Nil(t, err)
		assert.True(t, frozen)
	})

	t.Run("ReturnsNotFoundForUnknownRequest", func(t *testing.T) {

		service := getService(time.Minute)

		// act
		_, _, err := service.Status("nope")

		assert.True(t, errors.Is(err, api.ErrNotFound))
	})
}
