package api

import (
	"fmt"
	"time"
)

// EventKind is the kind of source repository event that triggered a build
type EventKind string

const (
	EventKindPR         EventKind = "pr"
	EventKindMerge      EventKind = "merge"
	EventKindBranchPush EventKind = "branch_push"
	EventKindScheduled  EventKind = "scheduled"
)

// IsValid returns true for the event kinds accepted on the trigger endpoint
func (k EventKind) IsValid() bool {
	switch k {
	case EventKindPR, EventKindMerge, EventKindBranchPush, EventKindScheduled:
		return true
	}
	return false
}

// Platform is a build target platform for the native library
type Platform string

const (
	PlatformLinuxX8664  Platform = "linux-x86_64"
	PlatformLinuxArm64  Platform = "linux-arm64"
	PlatformWindowsX64  Platform = "windows-x64"
	PlatformMacosX64    Platform = "macos-x64"
	PlatformMacosArm64  Platform = "macos-arm64"
	PlatformLinuxRiscv6 Platform = "linux-riscv64"
)

// BuildRequest is the normalized form of an accepted trigger; immutable once accepted
type BuildRequest struct {
	ID           string    `json:"id"`
	SourceRepo   string    `json:"source_repo"`
	CommitSHA    string    `json:"commit_sha"`
	EventKind    EventKind `json:"event_kind"`
	Ref          string    `json:"ref"`
	ChangedPaths []string  `json:"changed_paths"`
	RequestedAt  time.Time `json:"requested_at"`
}

// DedupKey uniquely identifies a request for idempotent delivery
func (r *BuildRequest) DedupKey() string {
	return fmt.Sprintf("%v|%v|%v", r.SourceRepo, r.CommitSHA, r.EventKind)
}

// BuildConfiguration is one cell of the configuration axis of the job matrix
type BuildConfiguration struct {
	Linkage   string `json:"linkage" yaml:"linkage"`
	FIPS      bool   `json:"fips" yaml:"fips"`
	TestSuite string `json:"testSuite,omitempty" yaml:"testSuite,omitempty"`
}

func (c BuildConfiguration) String() string {
	name := c.Linkage
	if c.FIPS {
		name += "-fips"
	}
	if c.TestSuite != "" && c.TestSuite != TestSuiteStandard {
		name += "-" + c.TestSuite
	}
	return name
}

const (
	TestSuiteStandard = "standard"
	TestSuiteExtended = "extended"
)

// JobSpec is one platform/configuration build-and-test unit; immutable once emitted
type JobSpec struct {
	ID             string             `json:"id"`
	BuildRequestID string             `json:"build_request_id"`
	Platform       Platform           `json:"platform"`
	Configuration  BuildConfiguration `json:"configuration"`
	Required       bool               `json:"required"`
}

// Name returns the human readable job name used in logs and summaries
func (s *JobSpec) Name() string {
	return fmt.Sprintf("%v/%v", s.Platform, s.Configuration)
}

// JobStatus is the lifecycle status of a single job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true once a job can no longer change status
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusTimedOut, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo guards the monotonic pending -> running -> terminal ordering
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next.IsTerminal()
	case JobStatusRunning:
		return next.IsTerminal()
	}
	return false
}

// JobResult carries the outcome of one job run; appended by the executor pool only
type JobResult struct {
	JobSpecID    string    `json:"job_spec_id"`
	Platform     Platform  `json:"platform"`
	Status       JobStatus `json:"status"`
	RunIndex     int       `json:"run_index"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	LogRef       string    `json:"log_ref,omitempty"`
	ArtifactRefs []string  `json:"artifact_refs,omitempty"`
}

// OutcomeStatus is the aggregated status of all jobs of one build request
type OutcomeStatus string

const (
	OutcomeStatusPending OutcomeStatus = "pending"
	OutcomeStatusPassed  OutcomeStatus = "passed"
	OutcomeStatusFailed  OutcomeStatus = "failed"
	OutcomeStatusPartial OutcomeStatus = "partial"
)

// IsTerminal returns true once the aggregator has frozen the outcome
func (s OutcomeStatus) IsTerminal() bool {
	return s == OutcomeStatusPassed || s == OutcomeStatusFailed || s == OutcomeStatusPartial
}

// BuildOutcome is the frozen aggregation of all job results for one build request
type BuildOutcome struct {
	ID             string        `json:"id"`
	BuildRequestID string        `json:"build_request_id"`
	OverallStatus  OutcomeStatus `json:"overall_status"`
	JobResults     []JobResult   `json:"job_results"`
	FrozenAt       time.Time     `json:"frozen_at"`
}

// ArtifactRefs returns the artifact handles of all succeeded jobs, in job order
func (o *BuildOutcome) ArtifactRefs() []string {
	refs := make([]string, 0)
	for _, jr := range o.JobResults {
		if jr.Status == JobStatusSucceeded {
			refs = append(refs, jr.ArtifactRefs...)
		}
	}
	return refs
}

// GateResult is the result of a quality/security gate
type GateResult string

const (
	GateResultPass  GateResult = "pass"
	GateResultFail  GateResult = "fail"
	GateResultError GateResult = "error"
)

// Finding is a single issue reported by a gate tool
type Finding struct {
	ID          string `json:"id"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

// GateReport is the recorded output of one gate invocation against a build outcome
type GateReport struct {
	BuildOutcomeID  string         `json:"build_outcome_id"`
	GateName        string         `json:"gate_name"`
	Result          GateResult     `json:"result"`
	SeveritySummary map[string]int `json:"severity_summary,omitempty"`
	ReportRef       string         `json:"report_ref,omitempty"`
}

// Severity levels as reported by the scanner tools, ranked low to high
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityAtOrAbove returns true if severity ranks at or above threshold;
// unknown severities rank above everything so they fail closed
func SeverityAtOrAbove(severity, threshold string) bool {
	s, knownSeverity := severityRank[severity]
	t, knownThreshold := severityRank[threshold]
	if !knownSeverity {
		return true
	}
	if !knownThreshold {
		return false
	}
	return s >= t
}

// PromotionState is the promotion lifecycle state of an artifact set
type PromotionState string

const (
	PromotionStateBuilt            PromotionState = "built"
	PromotionStateStaged           PromotionState = "staged"
	PromotionStateAwaitingApproval PromotionState = "awaiting_approval"
	PromotionStateProduction       PromotionState = "production"
	PromotionStateRejected         PromotionState = "rejected"
)

// IsTerminal returns true for states without outgoing transitions
func (s PromotionState) IsTerminal() bool {
	return s == PromotionStateProduction || s == PromotionStateRejected
}

// StateChange is one entry of a promotion record's audit trail
type StateChange struct {
	State PromotionState `json:"state"`
	At    time.Time      `json:"at"`
	Actor string         `json:"actor"`
}

// PromotionRecord tracks an artifact set through staging and production;
// mutated only by the promotion state machine
type PromotionRecord struct {
	BuildOutcomeID  string         `json:"build_outcome_id"`
	BuildRequestID  string         `json:"build_request_id"`
	CommitSHA       string         `json:"commit_sha"`
	Ref             string         `json:"ref"`
	State           PromotionState `json:"state"`
	StateHistory    []StateChange  `json:"state_history"`
	ReleaseEligible bool           `json:"release_eligible"`
	Approver        string         `json:"approver,omitempty"`
	ArtifactRefs    []string       `json:"artifact_refs,omitempty"`
}

// StatusUpdate is the payload posted back to the source repository's status API
type StatusUpdate struct {
	BuildRequestID string `json:"build_request_id"`
	CommitSHA      string `json:"commit_sha"`
	State          string `json:"state"`
	OverallStatus  string `json:"overall_status,omitempty"`
	DetailURL      string `json:"detail_url,omitempty"`
}

// Artifact namespaces; promotion only ever copies forward, never mutates
const (
	NamespaceStaging    = "staging"
	NamespaceProduction = "production"
)
