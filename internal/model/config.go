package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. It is loaded from
// .overseer/config.yaml when present, then overridden field by field from
// OVERSEER_* environment variables. The iteration budget is the only
// command-line input.
type Config struct {
	Loop      LoopConfig      `yaml:"loop"`
	Agent     AgentConfig     `yaml:"agent"`
	Verify    VerifyConfig    `yaml:"verify"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type LoopConfig struct {
	SelectionMode string `yaml:"selection_mode"` // "deterministic" or "agent"
	SelfHeal      bool   `yaml:"self_heal"`
	// FailureAction decides what happens after a failed post-verify that
	// did not trip the breaker: "heal" reverts and continues, "stop" is
	// fatal.
	FailureAction string `yaml:"failure_action"`
	DryRun        bool   `yaml:"dry_run"`
}

type AgentConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	PromptFlag string   `yaml:"prompt_flag"`
	Sentinel   string   `yaml:"completion_sentinel"`
	TimeoutSec int      `yaml:"timeout_sec"`
}

type VerifyConfig struct {
	Level string `yaml:"level"` // "quick" or "full"
	// Entrypoint is the canonical verification command. Work items must
	// list it in verify_requirements to be runnable. Empty means
	// "<own binary> verify".
	Entrypoint   string   `yaml:"entrypoint"`
	BaseRef      string   `yaml:"base_ref"`
	AllowDirty   bool     `yaml:"allow_dirty"`
	ConsoleMode  string   `yaml:"console_mode"` // "auto", "quiet", "verbose"
	MaxWave      int      `yaml:"max_wave"`
	GateTimeout  int      `yaml:"gate_timeout_sec"`
	RunSmoke     bool     `yaml:"run_smoke"`
	RunE2E       bool     `yaml:"run_e2e"`
	RunCertify   bool     `yaml:"run_certify"`
	MinCores     int      `yaml:"min_cores"`
	MinMemoryMB  int      `yaml:"min_memory_mb"`
	WorkflowList []string `yaml:"workflow_files"`
	// LintGates extends the fixed lint catalog with project gates.
	LintGates []NamedCommand `yaml:"lint_gates"`
	// StackCommands overrides the per-stack test command. "{workers}"
	// expands to the fair core share.
	StackCommands  map[string][]string `yaml:"stack_commands"`
	SmokeCommand   []string            `yaml:"smoke_command"`
	E2ECommand     []string            `yaml:"e2e_command"`
	CertifyCommand []string            `yaml:"certify_command"`
}

// NamedCommand is one configured gate: a name and an argv.
type NamedCommand struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
}

type RateLimitConfig struct {
	PerHour int `yaml:"per_hour"`
}

type BreakerConfig struct {
	MaxSameFailure int `yaml:"max_same_failure"`
	MaxNoProgress  int `yaml:"max_no_progress"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file and no
// environment overrides are present.
func DefaultConfig() Config {
	return Config{
		Loop: LoopConfig{
			SelectionMode: "deterministic",
			SelfHeal:      true,
			FailureAction: "heal",
		},
		Agent: AgentConfig{
			Command:    "claude",
			Args:       []string{"--dangerously-skip-permissions"},
			PromptFlag: "-p",
			Sentinel:   "ALL TASKS COMPLETE",
			TimeoutSec: 3600,
		},
		Verify: VerifyConfig{
			Level:       "quick",
			BaseRef:     "origin/main",
			ConsoleMode: "auto",
			MaxWave:     4,
			GateTimeout: 600,
			MinCores:    4,
			MinMemoryMB: 4096,
			WorkflowList: []string{
				".github/workflows/",
			},
			StackCommands: map[string][]string{
				"go":     {"go", "test", "-p", "{workers}", "./..."},
				"rust":   {"cargo", "test"},
				"python": {"pytest"},
				"node":   {"npm", "test"},
			},
			SmokeCommand:   []string{"make", "smoke"},
			E2ECommand:     []string{"make", "e2e"},
			CertifyCommand: []string{"make", "certify"},
		},
		RateLimit: RateLimitConfig{PerHour: 10},
		Breaker:   BreakerConfig{MaxSameFailure: 3, MaxNoProgress: 3},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads .overseer/config.yaml under workdir when present and
// applies environment overrides on top of the defaults.
func LoadConfig(workdir string) (Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workdir, ".overseer", "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		switch os.Getenv(key) {
		case "1", "true", "yes":
			*dst = true
		case "0", "false", "no":
			*dst = false
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("OVERSEER_SELECTION_MODE", &c.Loop.SelectionMode)
	setBool("OVERSEER_SELF_HEAL", &c.Loop.SelfHeal)
	setString("OVERSEER_FAILURE_ACTION", &c.Loop.FailureAction)
	setBool("OVERSEER_DRY_RUN", &c.Loop.DryRun)

	setString("OVERSEER_AGENT_CMD", &c.Agent.Command)
	if v := os.Getenv("OVERSEER_AGENT_ARGS"); v != "" {
		c.Agent.Args = strings.Fields(v)
	}
	setString("OVERSEER_AGENT_PROMPT_FLAG", &c.Agent.PromptFlag)
	setString("OVERSEER_COMPLETION_SENTINEL", &c.Agent.Sentinel)
	setInt("OVERSEER_AGENT_TIMEOUT_SEC", &c.Agent.TimeoutSec)

	setString("OVERSEER_VERIFY_LEVEL", &c.Verify.Level)
	setString("OVERSEER_VERIFY_ENTRYPOINT", &c.Verify.Entrypoint)
	setString("OVERSEER_BASE_REF", &c.Verify.BaseRef)
	setBool("OVERSEER_ALLOW_DIRTY", &c.Verify.AllowDirty)
	setString("OVERSEER_CONSOLE_MODE", &c.Verify.ConsoleMode)
	setInt("OVERSEER_MAX_WAVE", &c.Verify.MaxWave)
	setInt("OVERSEER_GATE_TIMEOUT_SEC", &c.Verify.GateTimeout)
	setBool("OVERSEER_RUN_SMOKE", &c.Verify.RunSmoke)
	setBool("OVERSEER_RUN_E2E", &c.Verify.RunE2E)
	setBool("OVERSEER_RUN_CERTIFY", &c.Verify.RunCertify)

	setInt("OVERSEER_RATE_LIMIT_PER_HOUR", &c.RateLimit.PerHour)
	setInt("OVERSEER_MAX_SAME_FAILURE", &c.Breaker.MaxSameFailure)
	setInt("OVERSEER_MAX_NO_PROGRESS", &c.Breaker.MaxNoProgress)

	setString("OVERSEER_LOG_LEVEL", &c.Logging.Level)
}

func (c *Config) validate() error {
	switch c.Loop.SelectionMode {
	case "deterministic", "agent":
	default:
		return fmt.Errorf("invalid selection_mode %q", c.Loop.SelectionMode)
	}
	switch c.Loop.FailureAction {
	case "heal", "stop":
	default:
		return fmt.Errorf("invalid failure_action %q", c.Loop.FailureAction)
	}
	switch c.Verify.Level {
	case "quick", "full":
	default:
		return fmt.Errorf("invalid verify level %q", c.Verify.Level)
	}
	switch c.Verify.ConsoleMode {
	case "auto", "quiet", "verbose":
	default:
		return fmt.Errorf("invalid console_mode %q", c.Verify.ConsoleMode)
	}
	if c.RateLimit.PerHour < 1 {
		return fmt.Errorf("rate_limit.per_hour must be >= 1, got %d", c.RateLimit.PerHour)
	}
	if c.Breaker.MaxSameFailure < 1 || c.Breaker.MaxNoProgress < 1 {
		return fmt.Errorf("breaker bounds must be >= 1")
	}
	if c.Agent.Sentinel == "" {
		return fmt.Errorf("completion_sentinel must not be empty")
	}
	return nil
}
