package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components take this instead of the concrete struct so tests can substitute
// fixtures.
type Interface interface {
	Logger() LoggerConfig
	Target() TargetConfig
	Swarm() SwarmConfig
	Orchestrator() OrchestratorConfig
	Health() HealthConfig
	Recovery() RecoveryConfig
	Decision() DecisionConfig
	Goals() GoalsConfig
	Memory() MemoryConfig
	Probe() ProbeConfig
	State() StateConfig

	// CLI overrides.
	SetTargetBaseURL(string)
	SetTargetHeadless(bool)
	SetOrchestratorMaxConcurrent(int)
	SetProbeReportPath(string)
}

// Config holds the entire application configuration. Sections are exported
// for viper's unmarshaler; components still receive the Interface, never the
// struct, so access stays behind the getters.
type Config struct {
	LoggerC       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	TargetC       TargetConfig       `mapstructure:"target" yaml:"target"`
	SwarmC        SwarmConfig        `mapstructure:"swarm" yaml:"swarm"`
	OrchestratorC OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	HealthC       HealthConfig       `mapstructure:"health" yaml:"health"`
	RecoveryC     RecoveryConfig     `mapstructure:"recovery" yaml:"recovery"`
	DecisionC     DecisionConfig     `mapstructure:"decision" yaml:"decision"`
	GoalsC        GoalsConfig        `mapstructure:"goals" yaml:"goals"`
	MemoryC       MemoryConfig       `mapstructure:"memory" yaml:"memory"`
	ProbeC        ProbeConfig        `mapstructure:"probe" yaml:"probe"`
	StateC        StateConfig        `mapstructure:"state" yaml:"state"`
}

// -- Interface Method Implementations (Getters) --

func (c *Config) Logger() LoggerConfig             { return c.LoggerC }
func (c *Config) Target() TargetConfig             { return c.TargetC }
func (c *Config) Swarm() SwarmConfig               { return c.SwarmC }
func (c *Config) Orchestrator() OrchestratorConfig { return c.OrchestratorC }
func (c *Config) Health() HealthConfig             { return c.HealthC }
func (c *Config) Recovery() RecoveryConfig         { return c.RecoveryC }
func (c *Config) Decision() DecisionConfig         { return c.DecisionC }
func (c *Config) Goals() GoalsConfig               { return c.GoalsC }
func (c *Config) Memory() MemoryConfig             { return c.MemoryC }
func (c *Config) Probe() ProbeConfig               { return c.ProbeC }
func (c *Config) State() StateConfig               { return c.StateC }

// -- Interface Method Implementations (Setters) --

func (c *Config) SetTargetBaseURL(u string)          { c.TargetC.BaseURL = u }
func (c *Config) SetTargetHeadless(b bool)           { c.TargetC.Headless = b }
func (c *Config) SetOrchestratorMaxConcurrent(n int) { c.OrchestratorC.MaxConcurrentAgents = n }
func (c *Config) SetProbeReportPath(p string)        { c.ProbeC.ReportPath = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// TargetConfig describes the application under test and the browser sessions
// driven against it.
type TargetConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	BrowserArgs       []string      `mapstructure:"browser_args" yaml:"browser_args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	RequestLogSize    int           `mapstructure:"request_log_size" yaml:"request_log_size"`
	ScreenshotDir     string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// AgentSpec declares one simulated user for the swarm.
type AgentSpec struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
	Archetype string `mapstructure:"archetype" yaml:"archetype"`
	// Seed fixes the agent's jitter source for reproducible runs; 0 derives
	// one from the agent name.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
	// TraitOverrides tweaks individual personality traits for variant testing.
	TraitOverrides map[string]float64 `mapstructure:"trait_overrides" yaml:"trait_overrides"`
}

// SwarmConfig lists the agents to register.
type SwarmConfig struct {
	Agents []AgentSpec `mapstructure:"agents" yaml:"agents"`
}

// OrchestratorConfig tunes the supervision tree.
type OrchestratorConfig struct {
	MaxConcurrentAgents int           `mapstructure:"max_concurrent_agents" yaml:"max_concurrent_agents"`
	StaggerDelay        time.Duration `mapstructure:"stagger_delay" yaml:"stagger_delay"`
	SettlePeriod        time.Duration `mapstructure:"settle_period" yaml:"settle_period"`
	RestartCooldown     time.Duration `mapstructure:"restart_cooldown" yaml:"restart_cooldown"`
	MaxRestarts         int           `mapstructure:"max_restarts" yaml:"max_restarts"`
	StopGracePeriod     time.Duration `mapstructure:"stop_grace_period" yaml:"stop_grace_period"`
}

// HealthConfig tunes the per-agent health monitor.
type HealthConfig struct {
	Interval          time.Duration `mapstructure:"interval" yaml:"interval"`
	ActivityTimeout   time.Duration `mapstructure:"activity_timeout" yaml:"activity_timeout"`
	MemoryThresholdMB float64       `mapstructure:"memory_threshold_mb" yaml:"memory_threshold_mb"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	HistorySize       int           `mapstructure:"history_size" yaml:"history_size"`
}

// RecoveryConfig tunes per-action fault tolerance.
type RecoveryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialRetryDelay time.Duration `mapstructure:"initial_retry_delay" yaml:"initial_retry_delay"`
	MaxRetryDelay     time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`

	CircuitThreshold int           `mapstructure:"circuit_threshold" yaml:"circuit_threshold"`
	CircuitResetTime time.Duration `mapstructure:"circuit_reset_time" yaml:"circuit_reset_time"`

	// Error-driven restart trigger, distinct from health monitoring.
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	RecentFailureWindow    time.Duration `mapstructure:"recent_failure_window" yaml:"recent_failure_window"`
	RecentFailureLimit     int           `mapstructure:"recent_failure_limit" yaml:"recent_failure_limit"`
}

// DecisionConfig exposes the scoring heuristics. The weights are tunable
// parameters, not contracts; only the qualitative behavior is pinned by tests.
type DecisionConfig struct {
	JitterVariance    float64 `mapstructure:"jitter_variance" yaml:"jitter_variance"`
	GoalWeight        float64 `mapstructure:"goal_weight" yaml:"goal_weight"`
	EfficiencyWeight  float64 `mapstructure:"efficiency_weight" yaml:"efficiency_weight"`
	RiskWeight        float64 `mapstructure:"risk_weight" yaml:"risk_weight"`
	HistoryWeight     float64 `mapstructure:"history_weight" yaml:"history_weight"`
	SituationalWeight float64 `mapstructure:"situational_weight" yaml:"situational_weight"`
}

// GoalsConfig tunes goal prioritization.
type GoalsConfig struct {
	UrgencyWindow  time.Duration `mapstructure:"urgency_window" yaml:"urgency_window"`
	UrgencyBoost   int           `mapstructure:"urgency_boost" yaml:"urgency_boost"`
	AlignmentBoost float64       `mapstructure:"alignment_boost" yaml:"alignment_boost"`
}

// MemoryConfig bounds the per-agent action memory.
type MemoryConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// ProbeConfig tunes the adversarial probe harness.
type ProbeConfig struct {
	FloodRequests    int     `mapstructure:"flood_requests" yaml:"flood_requests"`
	FloodRatePerSec  float64 `mapstructure:"flood_rate_per_sec" yaml:"flood_rate_per_sec"`
	EvidenceRequests int     `mapstructure:"evidence_requests" yaml:"evidence_requests"`
	ReportPath       string  `mapstructure:"report_path" yaml:"report_path"`
}

// StateConfig locates the resumable per-agent state records.
type StateConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// NewDefaultConfig returns a configuration populated with documented defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "stampede")
	v.SetDefault("logger.log_file", "stampede.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Target --
	v.SetDefault("target.headless", true)
	v.SetDefault("target.ignore_tls_errors", false)
	v.SetDefault("target.navigation_timeout", "90s")
	v.SetDefault("target.request_log_size", 200)
	v.SetDefault("target.screenshot_dir", "screenshots")

	// -- Orchestrator --
	v.SetDefault("orchestrator.max_concurrent_agents", 5)
	v.SetDefault("orchestrator.stagger_delay", "10s")
	v.SetDefault("orchestrator.settle_period", "2s")
	v.SetDefault("orchestrator.restart_cooldown", "5s")
	v.SetDefault("orchestrator.max_restarts", 3)
	v.SetDefault("orchestrator.stop_grace_period", "15s")

	// -- Health --
	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.activity_timeout", "120s")
	v.SetDefault("health.memory_threshold_mb", 512)
	v.SetDefault("health.probe_timeout", "5s")
	v.SetDefault("health.history_size", 100)

	// -- Recovery --
	v.SetDefault("recovery.max_retries", 3)
	v.SetDefault("recovery.initial_retry_delay", "1s")
	v.SetDefault("recovery.max_retry_delay", "30s")
	v.SetDefault("recovery.action_timeout", "30s")
	v.SetDefault("recovery.circuit_threshold", 5)
	v.SetDefault("recovery.circuit_reset_time", "60s")
	v.SetDefault("recovery.max_consecutive_failures", 10)
	v.SetDefault("recovery.recent_failure_window", "10m")
	v.SetDefault("recovery.recent_failure_limit", 20)

	// -- Decision --
	v.SetDefault("decision.jitter_variance", 0.2)
	v.SetDefault("decision.goal_weight", 0.30)
	v.SetDefault("decision.efficiency_weight", 0.20)
	v.SetDefault("decision.risk_weight", 0.20)
	v.SetDefault("decision.history_weight", 0.15)
	v.SetDefault("decision.situational_weight", 0.15)

	// -- Goals --
	v.SetDefault("goals.urgency_window", "1h")
	v.SetDefault("goals.urgency_boost", 5)
	v.SetDefault("goals.alignment_boost", 3.0)

	// -- Memory --
	v.SetDefault("memory.capacity", 1000)

	// -- Probe --
	v.SetDefault("probe.flood_requests", 50)
	v.SetDefault("probe.flood_rate_per_sec", 25)
	v.SetDefault("probe.evidence_requests", 10)
	v.SetDefault("probe.report_path", "")

	// -- State --
	v.SetDefault("state.dir", "~/.stampede/state")
}

// NewConfigFromViper builds and validates a configuration from a viper
// instance that has already read file/env sources.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ~ in the state dir so components can use the path directly.
	if strings.HasPrefix(cfg.StateC.Dir, "~") {
		expanded, err := homedir.Expand(cfg.StateC.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand state dir %q: %w", cfg.StateC.Dir, err)
		}
		cfg.StateC.Dir = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.OrchestratorC.MaxConcurrentAgents <= 0 {
		return fmt.Errorf("orchestrator.max_concurrent_agents must be a positive integer")
	}
	if c.OrchestratorC.MaxRestarts < 0 {
		return fmt.Errorf("orchestrator.max_restarts must not be negative")
	}
	if c.MemoryC.Capacity <= 0 {
		return fmt.Errorf("memory.capacity must be a positive integer")
	}
	if c.DecisionC.JitterVariance < 0 || c.DecisionC.JitterVariance >= 1 {
		return fmt.Errorf("decision.jitter_variance must be in [0.0, 1.0)")
	}
	if c.RecoveryC.MaxRetries < 0 {
		return fmt.Errorf("recovery.max_retries must not be negative")
	}
	if c.RecoveryC.CircuitThreshold <= 0 {
		return fmt.Errorf("recovery.circuit_threshold must be a positive integer")
	}
	if c.HealthC.Interval <= 0 {
		return fmt.Errorf("health.interval must be a positive duration")
	}
	seen := make(map[string]struct{}, len(c.SwarmC.Agents))
	for _, a := range c.SwarmC.Agents {
		if a.Name == "" {
			return fmt.Errorf("swarm.agents entries require a name")
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("duplicate agent name %q in swarm.agents", a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}
