package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	yaml "gopkg.in/yaml.v2"
)

func TestSetDefaults(t *testing.T) {

	t.Run("FillsAllDefaultsOnEmptyConfig", func(t *testing.T) {

		config := Config{}

		// act
		config.SetDefaults()

		assert.Equal(t, 24*time.Hour, config.Dedup.TTL.AsDuration())
		assert.Equal(t, 90*time.Minute, config.Executor.JobTimeout.AsDuration())
		assert.Equal(t, 1, config.Executor.MaxRetries)
		assert.Equal(t, 4*time.Hour, config.Aggregator.Timeout.AsDuration())
		assert.Equal(t, 72*time.Hour, config.Promotion.ApprovalTimeout.AsDuration())
		assert.True(t, len(config.Platforms) > 0)
		assert.True(t, len(config.Scheduler.Rules) > 0)
		assert.True(t, len(config.Gates.Gates) > 0)
	})

	t.Run("DefaultConfigValidates", func(t *testing.T) {

		config := Config{}
		config.SetDefaults()

		// act
		err := config.Validate()

		assert.Nil(t, err)
	})

	t.Run("AddsBuildCommandToEveryPlatform", func(t *testing.T) {

		config := Config{}

		// act
		config.SetDefaults()

		for _, platform := range config.Platforms {
			assert.NotEmpty(t, platform.BuildCommand, string(platform.Name))
		}
	})
}

func TestValidate(t *testing.T) {

	t.Run("FailsOnRuleReferencingUnknownPlatform", func(t *testing.T) {

		config := Config{}
		config.SetDefaults()
		config.Scheduler.Rules = append(config.Scheduler.Rules, MatrixRule{
			Name:      "bogus",
			When:      "kind == 'merge'",
			Platforms: []Platform{"solaris-sparc"},
		})

		// act
		err := config.Validate()

		assert.NotNil(t, err)
	})

	t.Run("FailsOnGateDependingOnUnknownGate", func(t *testing.T) {

		config := Config{}
		config.SetDefaults()
		config.Gates.Gates = append(config.Gates.Gates, GateConfig{
			Name:      "rogue",
			Command:   []string{"rogue-check"},
			DependsOn: []string{"does-not-exist"},
		})

		// act
		err := config.Validate()

		assert.NotNil(t, err)
	})

	t.Run("FailsOnDuplicateGateName", func(t *testing.T) {

		config := Config{}
		config.SetDefaults()
		config.Gates.Gates = append(config.Gates.Gates, config.Gates.Gates[0])

		// act
		err := config.Validate()

		assert.NotNil(t, err)
	})

	t.Run("FailsOnNegativeExecutorRetrySettings", func(t *testing.T) {

		config := Config{}
		config.SetDefaults()
		config.Executor.MaxRetries = -1

		// act
		err := config.Validate()

		assert.NotNil(t, err)

		config.Executor.MaxRetries = 0
		config.Executor.RetryBackoffSeconds = -5
		assert.NotNil(t, config.Validate())
	})

	t.Run("FailsOnScheduleWithoutCron", func(t *testing.T) {

		config := Config{}
		config.SetDefaults()
		config.Schedules = []ScheduleConfig{{SourceRepo: "r", Ref: "refs/heads/master"}}

		// act
		err := config.Validate()

		assert.NotNil(t, err)
	})
}

func TestDurationUnmarshalYAML(t *testing.T) {

	t.Run("ParsesGoDurationStrings", func(t *testing.T) {

		var value struct {
			Timeout Duration `yaml:"timeout"`
		}

		// act
		err := yaml.Unmarshal([]byte("timeout: 90m"), &value)

		assert.Nil(t, err)
		assert.Equal(t, 90*time.Minute, value.Timeout.AsDuration())
	})

	t.Run("FailsOnNonDurationString", func(t *testing.T) {

		var value struct {
			Timeout Duration `yaml:"timeout"`
		}

		// act
		err := yaml.Unmarshal([]byte("timeout: soon"), &value)

		assert.NotNil(t, err)
	})
}
