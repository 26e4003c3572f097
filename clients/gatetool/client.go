package gatetool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

// ToolReport is the structured report a gate tool writes to stdout. The report
// is authoritative: exit code 0 does not imply result=pass.
type ToolReport struct {
	GateName string        `json:"gate_name"`
	Result   string        `json:"result"`
	Findings []api.Finding `json:"findings"`
}

// Client invokes a gate tool process against an artifact directory
//go:generate mockgen -package=gatetool -destination ./mock.go -source=client.go
type Client interface {
	Invoke(ctx context.Context, gate api.GateConfig, artifactDir string) (report ToolReport, err error)
}

// NewClient returns a gatetool.Client spawning the configured commands
func NewClient() Client {
	return &client{}
}

type client struct {
}

func (c *client) Invoke(ctx context.Context, gate api.GateConfig, artifactDir string) (report ToolReport, err error) {

	if len(gate.Command) == 0 {
		return report, fmt.Errorf("gate %v has no command configured", gate.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, gate.Timeout.AsDuration())
	defer cancel()

	args := append(append([]string{}, gate.Command[1:]...), artifactDir)
	cmd := exec.CommandContext(ctx, gate.Command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Msgf("[%v] Invoking gate tool %v against %v", gate.Name, gate.Command[0], artifactDir)

	runErr := cmd.Run()

	report, parseErr := ParseReport(stdout.Bytes())
	if parseErr == nil {
		// a parseable report wins over the exit code
		if runErr != nil {
			log.Warn().Err(runErr).Msgf("[%v] Gate tool exited non-zero but produced a report, report is authoritative", gate.Name)
		}
		return report, nil
	}

	if runErr != nil {
		return report, fmt.Errorf("gate tool %v failed without report: %w (stderr: %v)", gate.Name, runErr, stderr.String())
	}

	return report, fmt.Errorf("gate tool %v produced no parseable report: %w", gate.Name, parseErr)
}

// ParseReport decodes and validates a gate tool report
func ParseReport(data []byte) (report ToolReport, err error) {

	if err = json.Unmarshal(data, &report); err != nil {
		return report, err
	}

	switch api.GateResult(report.Result) {
	case api.GateResultPass, api.GateResultFail, api.GateResultError:
	default:
		return report, fmt.Errorf("unknown gate result %q", report.Result)
	}

	return report, nil
}

// SeveritySummary counts the report findings by severity
func (r ToolReport) SeveritySummary() map[string]int {
	summary := make(map[string]int)
	for _, f := range r.Findings {
		summary[f.Severity]++
	}
	return summary
}
