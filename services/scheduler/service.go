package scheduler

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/rs/zerolog/log"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

// Service expands one build request into its platform/configuration job matrix
//go:generate mockgen -package=scheduler -destination ./mock.go -source=service.go
type Service interface {
	// Schedule computes the full job matrix for the request. The matrix is
	// returned as one atomic set; any rule evaluation failure yields
	// api.ErrSchedulingFailed and no jobs at all.
	Schedule(ctx context.Context, request api.BuildRequest) (specs []api.JobSpec, err error)
}

// NewService returns a new scheduler.Service using the configured rule set
func NewService(config api.SchedulerConfig, platforms []api.PlatformConfig) Service {
	experimental := make(map[api.Platform]bool)
	for _, p := range platforms {
		if p.Experimental {
			experimental[p.Name] = true
		}
	}
	return &service{
		config:       config,
		experimental: experimental,
	}
}

type service struct {
	config       api.SchedulerConfig
	experimental map[api.Platform]bool
}

func (s *service) Schedule(ctx context.Context, request api.BuildRequest) (specs []api.JobSpec, err error) {

	parameters := s.ruleParameters(request)

	seen := make(map[string]bool)
	for _, rule := range s.config.Rules {

		matches, err := s.evaluateRule(rule, parameters)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %v: %v", api.ErrSchedulingFailed, rule.Name, err)
		}
		if !matches {
			continue
		}

		for _, platform := range rule.Platforms {
			for _, configuration := range rule.Configurations {

				spec := api.JobSpec{
					ID:             fmt.Sprintf("%v-%v-%v", request.ID, platform, configuration),
					BuildRequestID: request.ID,
					Platform:       platform,
					Configuration:  configuration,
					// experimental architectures are advisory whatever the rule says
					Required: !rule.Advisory && !s.experimental[platform],
				}

				if seen[spec.ID] {
					continue
				}
				seen[spec.ID] = true
				specs = append(specs, spec)
			}
		}
	}

	log.Info().Msgf("Scheduled %v jobs for build request %v (%v on %v)", len(specs), request.ID, request.EventKind, request.Ref)

	return specs, nil
}

func (s *service) evaluateRule(rule api.MatrixRule, parameters map[string]interface{}) (bool, error) {

	expression, err := govaluate.NewEvaluableExpression(rule.When)
	if err != nil {
		return false, err
	}

	result, err := expression.Evaluate(parameters)
	if err != nil {
		return false, err
	}

	matches, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("when expression %q does not evaluate to a boolean", rule.When)
	}

	return matches, nil
}

func (s *service) ruleParameters(request api.BuildRequest) map[string]interface{} {

	parameters := make(map[string]interface{}, 3)
	parameters["kind"] = string(request.EventKind)
	parameters["ref"] = request.Ref
	parameters["docsOnly"] = s.isDocsOnly(request.ChangedPaths)

	return parameters
}

// isDocsOnly returns true when every changed path matches a documentation
// pattern; an empty change set is treated as a code change so unknown diffs
// get the full matrix
func (s *service) isDocsOnly(changedPaths []string) bool {

	if len(changedPaths) == 0 {
		return false
	}

	for _, changed := range changedPaths {
		if !s.matchesDocsPattern(changed) {
			return false
		}
	}

	return true
}

func (s *service) matchesDocsPattern(changed string) bool {
	for _, pattern := range s.config.DocsPaths {
		if matched, _ := path.Match(pattern, changed); matched {
			return true
		}
		// directory patterns like docs/* should match nested paths too
		if strings.HasSuffix(pattern, "/*") && strings.HasPrefix(changed, strings.TrimSuffix(pattern, "*")) {
			return true
		}
	}
	return false
}
