package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupKey(t *testing.T) {

	t.Run("CombinesRepoShaAndKind", func(t *testing.T) {

		request := BuildRequest{
			SourceRepo: "github.com/openssl/openssl",
			CommitSHA:  "abc1234",
			EventKind:  EventKindMerge,
		}

		// act
		key := request.DedupKey()

		assert.Equal(t, "github.com/openssl/openssl|abc1234|merge", key)
	})

	t.Run("DiffersPerEventKindForSameCommit", func(t *testing.T) {

		pr := BuildRequest{SourceRepo: "r", CommitSHA: "abc1234", EventKind: EventKindPR}
		merge := BuildRequest{SourceRepo: "r", CommitSHA: "abc1234", EventKind: EventKindMerge}

		// act
		prKey := pr.DedupKey()
		mergeKey := merge.DedupKey()

		assert.NotEqual(t, prKey, mergeKey)
	})
}

func TestBuildConfigurationString(t *testing.T) {

	t.Run("ReturnsLinkageOnlyForStandardSuite", func(t *testing.T) {

		configuration := BuildConfiguration{Linkage: "shared"}

		// act
		name := configuration.String()

		assert.Equal(t, "shared", name)
	})

	t.Run("AppendsFipsAndExtendedSuite", func(t *testing.T) {

		configuration := BuildConfiguration{Linkage: "shared", FIPS: true, TestSuite: TestSuiteExtended}

		// act
		name := configuration.String()

		assert.Equal(t, "shared-fips-extended", name)
	})
}

func TestJobStatusCanTransitionTo(t *testing.T) {

	t.Run("AllowsPendingToRunning", func(t *testing.T) {

		// act
		allowed := JobStatusPending.CanTransitionTo(JobStatusRunning)

		assert.True(t, allowed)
	})

	t.Run("AllowsRunningToAnyTerminalStatus", func(t *testing.T) {

		for _, terminal := range []JobStatus{JobStatusSucceeded, JobStatusFailed, JobStatusTimedOut, JobStatusCancelled} {

			// act
			allowed := JobStatusRunning.CanTransitionTo(terminal)

			assert.True(t, allowed, string(terminal))
		}
	})

	t.Run("ForbidsLeavingTerminalStatus", func(t *testing.T) {

		// act
		allowed := JobStatusSucceeded.CanTransitionTo(JobStatusRunning)

		assert.False(t, allowed)
	})

	t.Run("ForbidsRunningBackToPending", func(t *testing.T) {

		// act
		allowed := JobStatusRunning.CanTransitionTo(JobStatusPending)

		assert.False(t, allowed)
	})
}

func TestBuildOutcomeArtifactRefs(t *testing.T) {

	t.Run("ReturnsRefsOfSucceededJobsOnly", func(t *testing.T) {

		outcome := BuildOutcome{
			JobResults: []JobResult{
				{JobSpecID: "a", Status: JobStatusSucceeded, ArtifactRefs: []string{"a.tar.gz"}},
				{JobSpecID: "b", Status: JobStatusFailed, ArtifactRefs: []string{"b.tar.gz"}},
				{JobSpecID: "c", Status: JobStatusSucceeded, ArtifactRefs: []string{"c.tar.gz"}},
			},
		}

		// act
		refs := outcome.ArtifactRefs()

		assert.Equal(t, []string{"a.tar.gz", "c.tar.gz"}, refs)
	})
}

func TestSeverityAtOrAbove(t *testing.T) {

	t.Run("ReturnsTrueAtThreshold", func(t *testing.T) {

		// act
		above := SeverityAtOrAbove(SeverityHigh, SeverityHigh)

		assert.True(t, above)
	})

	t.Run("ReturnsFalseBelowThreshold", func(t *testing.T) {

		// act
		above := SeverityAtOrAbove(SeverityMedium, SeverityHigh)

		assert.False(t, above)
	})

	t.Run("ReturnsTrueForUnknownSeverity", func(t *testing.T) {

		// act
		above := SeverityAtOrAbove("bogus", SeverityCritical)

		assert.True(t, above)
	})
}

func TestPromotionStateIsTerminal(t *testing.T) {

	t.Run("ProductionAndRejectedAreTerminal", func(t *testing.T) {

		assert.True(t, PromotionStateProduction.IsTerminal())
		assert.True(t, PromotionStateRejected.IsTerminal())
		assert.False(t, PromotionStateBuilt.IsTerminal())
		assert.False(t, PromotionStateStaged.IsTerminal())
		assert.False(t, PromotionStateAwaitingApproval.IsTerminal())
	})
}
