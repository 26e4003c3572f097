package gates

import (
	"context"
	"fmt"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
	"github.com/sparesparrow/openssl-ci-orchestrator/clients/gatetool"
)

// Service runs the configured security and quality gates against a frozen
// build outcome and decides whether it may be promoted
//go:generate mockgen -package=gates -destination ./mock.go -source=service.go
type Service interface {
	// Run evaluates all applicable gates for the outcome; promotable is true
	// only for passed outcomes where no blocking gate failed. Partial outcomes
	// run their advisory gates for reporting but are never promotable.
	Run(ctx context.Context, outcome api.BuildOutcome, artifactDir string) (reports []api.GateReport, promotable bool, err error)
}

// NewService returns a gate engine invoking gate tools through gateClient
func NewService(gateClient gatetool.Client, config api.GatesConfig) Service {
	return &service{
		gateClient: gateClient,
		config:     config,
	}
}

type service struct {
	gateClient gatetool.Client
	config     api.GatesConfig
}

func (s *service) Run(ctx context.Context, outcome api.BuildOutcome, artifactDir string) (reports []api.GateReport, promotable bool, err error) {

	span, ctx := opentracing.StartSpanFromContext(ctx, "RunGates")
	defer span.Finish()

	if outcome.OverallStatus == api.OutcomeStatusFailed || outcome.OverallStatus == api.OutcomeStatusPending {
		// gates only ever see outcomes with at least all required jobs succeeded
		return nil, false, nil
	}

	gatesToRun := s.config.Gates
	if outcome.OverallStatus == api.OutcomeStatusPartial {
		if !s.config.RunAdvisoryOnPartial {
			return nil, false, nil
		}
		gatesToRun = advisoryOnly(s.config.Gates)
	}

	results := &gateResults{
		blocked: make(map[string]bool),
		reports: make(map[string]api.GateReport),
	}

	remaining := gatesToRun
	for len(remaining) > 0 {

		wave, rest := nextWave(remaining, results)
		if len(wave) == 0 {
			// remaining gates all depend on gates that are not configured
			for _, gate := range rest {
				log.Warn().Msgf("Gate %v depends on %v which never completed, failing it closed", gate.Name, gate.DependsOn)
				results.setReport(api.GateReport{
					BuildOutcomeID: outcome.ID,
					GateName:       gate.Name,
					Result:         failClosedResult(gate),
				}, !gate.Advisory)
			}
			break
		}
		remaining = rest

		g, gctx := errgroup.WithContext(ctx)
		for _, gate := range wave {
			gate := gate
			g.Go(func() error {
				s.runGate(gctx, outcome, gate, artifactDir, results)
				return nil
			})
		}
		if err = g.Wait(); err != nil {
			return nil, false, err
		}
	}

	// partial outcomes are reported on but never promoted automatically
	promotable = outcome.OverallStatus == api.OutcomeStatusPassed
	for _, gate := range gatesToRun {
		report, ok := results.report(gate.Name)
		if !ok {
			continue
		}
		reports = append(reports, report)
		if results.isBlocked(gate.Name) {
			promotable = false
		}
	}

	span.SetTag("promotable", promotable)

	return reports, promotable, nil
}

func (s *service) runGate(ctx context.Context, outcome api.BuildOutcome, gate api.GateConfig, artifactDir string, results *gateResults) {

	// a gate downstream of a blocking failure is not run and fails closed
	for _, dep := range gate.DependsOn {
		if results.isBlocked(dep) {
			log.Warn().Msgf("Skipping gate %v, dependency %v failed", gate.Name, dep)
			results.setReport(api.GateReport{
				BuildOutcomeID: outcome.ID,
				GateName:       gate.Name,
				Result:         failClosedResult(gate),
			}, !gate.Advisory)
			return
		}
	}

	toolReport, err := s.gateClient.Invoke(ctx, gate, artifactDir)
	if err != nil {
		// no parseable verdict means the gate fails closed; the recorded report
		// carries fail for blocking gates, the advisory-only error result otherwise
		log.Warn().Err(err).Msgf("Gate %v errored", gate.Name)
		results.setReport(api.GateReport{
			BuildOutcomeID: outcome.ID,
			GateName:       gate.Name,
			Result:         failClosedResult(gate),
		}, !gate.Advisory)
		return
	}

	report := api.GateReport{
		BuildOutcomeID:  outcome.ID,
		GateName:        gate.Name,
		Result:          api.GateResult(toolReport.Result),
		SeveritySummary: toolReport.SeveritySummary(),
		ReportRef:       fmt.Sprintf("%v/gates/%v.json", outcome.ID, gate.Name),
	}

	results.setReport(report, s.blocks(gate, report))

	log.Info().Msgf("Gate %v finished with result %v (%v findings)", gate.Name, report.Result, len(toolReport.Findings))
}

// blocks returns true when the gate report should block promotion of the outcome
func (s *service) blocks(gate api.GateConfig, report api.GateReport) bool {
	if gate.Advisory {
		return false
	}
	switch report.Result {
	case api.GateResultPass:
		return false
	case api.GateResultError:
		return true
	}
	if gate.SeverityThreshold == "" {
		return true
	}
	for severity := range report.SeveritySummary {
		if api.SeverityAtOrAbove(severity, gate.SeverityThreshold) {
			return true
		}
	}
	return false
}

// failClosedResult is the report result recorded when a gate produced no
// verdict of its own; blocking gates record a hard fail, advisory gates an error
func failClosedResult(gate api.GateConfig) api.GateResult {
	if gate.Advisory {
		return api.GateResultError
	}
	return api.GateResultFail
}

func advisoryOnly(gates []api.GateConfig) (advisory []api.GateConfig) {
	for _, gate := range gates {
		if gate.Advisory {
			advisory = append(advisory, gate)
		}
	}
	return
}

// nextWave splits off the gates whose dependencies have all completed
func nextWave(gates []api.GateConfig, results *gateResults) (wave, rest []api.GateConfig) {
	for _, gate := range gates {
		ready := true
		for _, dep := range gate.DependsOn {
			if _, ok := results.report(dep); !ok {
				ready = false
				break
			}
		}
		if ready {
			wave = append(wave, gate)
		} else {
			rest = append(rest, gate)
		}
	}
	return
}

type gateResults struct {
	mutex   sync.RWMutex
	blocked map[string]bool
	reports map[string]api.GateReport
}

func (r *gateResults) setReport(report api.GateReport, blocks bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports[report.GateName] = report
	r.blocked[report.GateName] = blocks
}

func (r *gateResults) report(name string) (api.GateReport, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	report, ok := r.reports[name]
	return report, ok
}

func (r *gateResults) isBlocked(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.blocked[name]
}
