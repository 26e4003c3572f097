package runner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

// artifactPrefix marks runner output lines that carry an artifact handle
const artifactPrefix = "artifact:"

// Client leases one execution slot on a platform runner and runs a job on it.
// Infra-level failures (runner missing, failure to start) are wrapped as
// transient so the executor pool may retry them; build/test failures are not.
//go:generate mockgen -package=runner -destination ./mock.go -source=client.go
type Client interface {
	RunJob(ctx context.Context, spec api.JobSpec) (artifactRefs []string, logRef string, err error)
}

// NewClient returns a runner.Client dispatching jobs to per-platform commands;
// logs are always retained under logsDir regardless of outcome
func NewClient(commands map[api.Platform][]string, logsDir string) Client {
	return &client{
		commands: commands,
		logsDir:  logsDir,
	}
}

type client struct {
	commands map[api.Platform][]string
	logsDir  string
}

func (c *client) RunJob(ctx context.Context, spec api.JobSpec) (artifactRefs []string, logRef string, err error) {

	command, ok := c.commands[spec.Platform]
	if !ok || len(command) == 0 {
		// no runner registered for this platform; infra problem, not a build failure
		return nil, "", api.Transient(fmt.Errorf("no runner command for platform %v", spec.Platform))
	}

	if err = os.MkdirAll(c.logsDir, 0755); err != nil {
		return nil, "", api.Transient(err)
	}
	logRef = filepath.Join(c.logsDir, fmt.Sprintf("%v.log", spec.ID))
	logFile, err := os.Create(logRef)
	if err != nil {
		return nil, logRef, api.Transient(err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("BUILD_JOB_ID=%v", spec.ID),
		fmt.Sprintf("BUILD_REQUEST_ID=%v", spec.BuildRequestID),
		fmt.Sprintf("BUILD_PLATFORM=%v", spec.Platform),
		fmt.Sprintf("BUILD_LINKAGE=%v", spec.Configuration.Linkage),
		fmt.Sprintf("BUILD_FIPS=%v", spec.Configuration.FIPS),
		fmt.Sprintf("BUILD_TEST_SUITE=%v", spec.Configuration.TestSuite),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, logRef, api.Transient(err)
	}
	cmd.Stderr = logFile

	if err = cmd.Start(); err != nil {
		return nil, logRef, api.Transient(fmt.Errorf("starting runner for %v: %w", spec.Name(), err))
	}

	// artifact handles are reported on stdout, everything is kept in the log
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(logFile, line)
		if strings.HasPrefix(line, artifactPrefix) {
			ref := strings.TrimSpace(strings.TrimPrefix(line, artifactPrefix))
			if ref != "" {
				artifactRefs = append(artifactRefs, ref)
			}
		}
	}
	scanErr := scanner.Err()

	if err = cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			// timeout or cancellation; the executor pool maps this onto the job status
			return nil, logRef, ctx.Err()
		}
		if scanErr != nil {
			return nil, logRef, api.Transient(fmt.Errorf("reading runner output for %v: %w", spec.Name(), scanErr))
		}
		log.Debug().Err(err).Msgf("Runner for job %v exited non-zero", spec.Name())
		return nil, logRef, fmt.Errorf("job %v failed: %w", spec.Name(), err)
	}

	if scanErr != nil {
		// truncated output means artifact handles may be missing; infra problem
		return nil, logRef, api.Transient(fmt.Errorf("reading runner output for %v: %w", spec.Name(), scanErr))
	}

	return artifactRefs, logRef, nil
}
