package api

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Duration parses yaml values like 90m or 72h into a time.Duration
type Duration time.Duration

// UnmarshalYAML implements yaml.v2 unmarshalling for durations
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var value string
	if err := unmarshal(&value); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.v2 marshalling for durations
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// AsDuration returns the plain time.Duration
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// PlatformConfig declares one runner platform, its concurrency limit and the
// command invoked to build a job on it
type PlatformConfig struct {
	Name         Platform `yaml:"name"`
	MaxParallel  int      `yaml:"maxParallel"`
	Experimental bool     `yaml:"experimental"`
	BuildCommand []string `yaml:"buildCommand"`
}

// MatrixRule maps trigger properties to a set of platform/configuration jobs.
// The when expression is evaluated with parameters kind, ref and docsOnly;
// every matching rule contributes its jobs to the matrix.
type MatrixRule struct {
	Name           string               `yaml:"name"`
	When           string               `yaml:"when"`
	Platforms      []Platform           `yaml:"platforms"`
	Configurations []BuildConfiguration `yaml:"configurations"`
	Advisory       bool                 `yaml:"advisory"`
}

// SchedulerConfig drives fan-out matrix computation
type SchedulerConfig struct {
	Rules     []MatrixRule `yaml:"rules"`
	DocsPaths []string     `yaml:"docsPaths"`
}

// ExecutorConfig bounds the job executor pool
type ExecutorConfig struct {
	MaxParallelTotal    int      `yaml:"maxParallelTotal"`
	QueueDepth          int      `yaml:"queueDepth"`
	JobTimeout          Duration `yaml:"jobTimeout"`
	MaxRetries          int      `yaml:"maxRetries"`
	RetryBackoffSeconds int      `yaml:"retryBackoffSeconds"`
}

// AggregatorConfig bounds how long the aggregator waits for required jobs
type AggregatorConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// GateConfig declares one quality/security gate; gates run in list order,
// concurrently when no dependency is declared between them
type GateConfig struct {
	Name              string   `yaml:"name"`
	Command           []string `yaml:"command"`
	Advisory          bool     `yaml:"advisory"`
	SeverityThreshold string   `yaml:"severityThreshold"`
	DependsOn         []string `yaml:"dependsOn"`
	Timeout           Duration `yaml:"timeout"`
}

// GatesConfig is the gate engine configuration
type GatesConfig struct {
	Gates                []GateConfig `yaml:"gates"`
	RunAdvisoryOnPartial bool         `yaml:"runAdvisoryOnPartial"`
}

// ScheduleConfig declares a cron-driven trigger against a repository ref
type ScheduleConfig struct {
	Cron       string `yaml:"cron"`
	SourceRepo string `yaml:"sourceRepo"`
	Ref        string `yaml:"ref"`
}

// PromotionConfig drives the promotion state machine
type PromotionConfig struct {
	ApprovalTimeout Duration `yaml:"approvalTimeout"`
	ReleaseRefs     []string `yaml:"releaseRefs"`
}

// Config is the yaml configuration surface of the orchestrator
type Config struct {
	Auth struct {
		Token string `yaml:"token"`
	} `yaml:"auth"`
	Dedup struct {
		TTL Duration `yaml:"ttl"`
	} `yaml:"dedup"`
	Platforms  []PlatformConfig `yaml:"platforms"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Gates      GatesConfig      `yaml:"gates"`
	Promotion  PromotionConfig  `yaml:"promotion"`
	Schedules  []ScheduleConfig `yaml:"schedules"`
}

// ReadConfigFromFile loads the yaml config and applies defaults
func ReadConfigFromFile(path string) (config Config, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}
	if err = yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	config.SetDefaults()

	return config, config.Validate()
}

// SetDefaults fills unset fields with their documented defaults
func (c *Config) SetDefaults() {
	if c.Dedup.TTL == 0 {
		c.Dedup.TTL = Duration(24 * time.Hour)
	}
	if len(c.Platforms) == 0 {
		c.Platforms = defaultPlatforms()
	}
	for i := range c.Platforms {
		if c.Platforms[i].MaxParallel == 0 {
			c.Platforms[i].MaxParallel = 2
		}
		if len(c.Platforms[i].BuildCommand) == 0 {
			c.Platforms[i].BuildCommand = []string{"openssl-build"}
		}
	}
	if len(c.Scheduler.Rules) == 0 {
		c.Scheduler.Rules = defaultMatrixRules()
	}
	if len(c.Scheduler.DocsPaths) == 0 {
		c.Scheduler.DocsPaths = []string{"*.md", "docs/*", "doc/*", "LICENSE*", "AUTHORS"}
	}
	if c.Executor.MaxParallelTotal == 0 {
		c.Executor.MaxParallelTotal = 6
	}
	if c.Executor.QueueDepth == 0 {
		c.Executor.QueueDepth = 256
	}
	if c.Executor.JobTimeout == 0 {
		c.Executor.JobTimeout = Duration(90 * time.Minute)
	}
	if c.Executor.MaxRetries == 0 {
		c.Executor.MaxRetries = 1
	}
	if c.Executor.RetryBackoffSeconds == 0 {
		c.Executor.RetryBackoffSeconds = 30
	}
	if c.Aggregator.Timeout == 0 {
		c.Aggregator.Timeout = Duration(4 * time.Hour)
	}
	if len(c.Gates.Gates) == 0 {
		c.Gates.Gates = defaultGates()
		c.Gates.RunAdvisoryOnPartial = true
	}
	for i := range c.Gates.Gates {
		if c.Gates.Gates[i].SeverityThreshold == "" {
			c.Gates.Gates[i].SeverityThreshold = SeverityHigh
		}
		if c.Gates.Gates[i].Timeout == 0 {
			c.Gates.Gates[i].Timeout = Duration(15 * time.Minute)
		}
	}
	if c.Promotion.ApprovalTimeout == 0 {
		c.Promotion.ApprovalTimeout = Duration(72 * time.Hour)
	}
	if len(c.Promotion.ReleaseRefs) == 0 {
		c.Promotion.ReleaseRefs = []string{"refs/heads/master", "refs/heads/main", "refs/tags/*"}
	}
}

// Validate checks cross-field consistency after defaults are applied
func (c *Config) Validate() error {
	platformNames := map[Platform]bool{}
	for _, p := range c.Platforms {
		if p.Name == "" {
			return fmt.Errorf("platform with empty name")
		}
		if platformNames[p.Name] {
			return fmt.Errorf("duplicate platform %v", p.Name)
		}
		platformNames[p.Name] = true
	}

	for _, r := range c.Scheduler.Rules {
		if r.When == "" {
			return fmt.Errorf("matrix rule %v has no when expression", r.Name)
		}
		for _, p := range r.Platforms {
			if !platformNames[p] {
				return fmt.Errorf("matrix rule %v references unknown platform %v", r.Name, p)
			}
		}
	}

	gateNames := map[string]bool{}
	for _, g := range c.Gates.Gates {
		if g.Name == "" {
			return fmt.Errorf("gate with empty name")
		}
		if gateNames[g.Name] {
			return fmt.Errorf("duplicate gate %v", g.Name)
		}
		gateNames[g.Name] = true
	}
	for _, g := range c.Gates.Gates {
		for _, d := range g.DependsOn {
			if !gateNames[d] {
				return fmt.Errorf("gate %v depends on unknown gate %v", g.Name, d)
			}
		}
	}

	if c.Executor.MaxRetries < 0 {
		return fmt.Errorf("executor maxRetries must not be negative")
	}
	if c.Executor.RetryBackoffSeconds < 0 {
		return fmt.Errorf("executor retryBackoffSeconds must not be negative")
	}

	for _, s := range c.Schedules {
		if s.Cron == "" || s.SourceRepo == "" || s.Ref == "" {
			return fmt.Errorf("schedule requires cron, sourceRepo and ref")
		}
	}

	return nil
}

func defaultPlatforms() []PlatformConfig {
	return []PlatformConfig{
		{Name: PlatformLinuxX8664, MaxParallel: 4},
		{Name: PlatformLinuxArm64, MaxParallel: 2},
		{Name: PlatformWindowsX64, MaxParallel: 2},
		{Name: PlatformMacosX64, MaxParallel: 2},
		{Name: PlatformMacosArm64, MaxParallel: 2},
		{Name: PlatformLinuxRiscv6, MaxParallel: 1, Experimental: true},
	}
}

func defaultMatrixRules() []MatrixRule {
	shared := BuildConfiguration{Linkage: "shared"}
	static := BuildConfiguration{Linkage: "static"}
	sharedFips := BuildConfiguration{Linkage: "shared", FIPS: true}
	sharedExtended := BuildConfiguration{Linkage: "shared", TestSuite: TestSuiteExtended}
	staticExtended := BuildConfiguration{Linkage: "static", TestSuite: TestSuiteExtended}
	fipsExtended := BuildConfiguration{Linkage: "shared", FIPS: true, TestSuite: TestSuiteExtended}

	return []MatrixRule{
		{
			Name:           "branch-push-lightweight",
			When:           "kind == 'branch_push' && !docsOnly",
			Platforms:      []Platform{PlatformLinuxX8664},
			Configurations: []BuildConfiguration{shared},
		},
		{
			Name:           "pr-fast-feedback",
			When:           "kind == 'pr' && !docsOnly",
			Platforms:      []Platform{PlatformLinuxX8664, PlatformWindowsX64, PlatformMacosArm64},
			Configurations: []BuildConfiguration{shared},
		},
		{
			Name:           "merge-comprehensive",
			When:           "kind == 'merge'",
			Platforms:      []Platform{PlatformLinuxX8664, PlatformLinuxArm64, PlatformWindowsX64, PlatformMacosX64, PlatformMacosArm64},
			Configurations: []BuildConfiguration{shared, static},
		},
		{
			Name:           "merge-fips",
			When:           "kind == 'merge'",
			Platforms:      []Platform{PlatformLinuxX8664},
			Configurations: []BuildConfiguration{sharedFips},
		},
		{
			Name:           "scheduled-maximal",
			When:           "kind == 'scheduled'",
			Platforms:      []Platform{PlatformLinuxX8664, PlatformLinuxArm64, PlatformWindowsX64, PlatformMacosX64, PlatformMacosArm64},
			Configurations: []BuildConfiguration{sharedExtended, staticExtended, fipsExtended},
		},
		{
			Name:           "scheduled-experimental",
			When:           "kind == 'scheduled'",
			Platforms:      []Platform{PlatformLinuxRiscv6},
			Configurations: []BuildConfiguration{sharedExtended},
			Advisory:       true,
		},
	}
}

func defaultGates() []GateConfig {
	return []GateConfig{
		{
			Name:              "vulnerability-scan",
			Command:           []string{"trivy-scan"},
			SeverityThreshold: SeverityHigh,
		},
		{
			Name:              "sbom-completeness",
			Command:           []string{"sbom-check"},
			SeverityThreshold: SeverityHigh,
		},
		{
			Name:              "compliance",
			Command:           []string{"compliance-check"},
			SeverityThreshold: SeverityHigh,
			DependsOn:         []string{"vulnerability-scan"},
		},
		{
			Name:              "package-signing",
			Command:           []string{"signature-verify"},
			Advisory:          true,
			SeverityThreshold: SeverityCritical,
		},
	}
}
