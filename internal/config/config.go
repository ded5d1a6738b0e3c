// Package config handles MarketPilot configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Gating policy
	Policy PolicyConfig `json:"policy"`

	// Profile learning
	Learning LearningConfig `json:"learning"`

	// Execution
	Execution ExecutionConfig `json:"execution"`
}

// ServerConfig for the HTTP API server
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PolicyConfig carries the tunable gating thresholds. These are policy
// constants, not hard-coded assumptions: operators adjust them per deployment.
type PolicyConfig struct {
	// ExpertRiskThreshold: risk at or above this always requires expert review.
	ExpertRiskThreshold float64 `json:"expert_risk_threshold"`

	// ExpertConfidenceFloor: critical/transformational actions below this
	// confidence require expert review.
	ExpertConfidenceFloor float64 `json:"expert_confidence_floor"`

	// CriticalBudgetImpact: budget impact (absolute %) at or above which a
	// signal spawns a guided decision instead of a plain action.
	CriticalBudgetImpact float64 `json:"critical_budget_impact"`

	// Defaults for a client's first autonomy profile snapshot.
	DefaultPreference    string  `json:"default_preference"`
	DefaultRiskTolerance float64 `json:"default_risk_tolerance"`
	DefaultLearningRate  float64 `json:"default_learning_rate"`
}

// LearningConfig controls how outcomes adjust autonomy profiles.
type LearningConfig struct {
	// RateFloor is the minimum learning rate after decay.
	RateFloor float64 `json:"rate_floor"`

	// RateDecay scales how fast the learning rate shrinks as outcomes
	// accumulate: rate = max(floor, base/(1+decay*n)).
	RateDecay float64 `json:"rate_decay"`
}

// ExecutionConfig controls the execution engine.
type ExecutionConfig struct {
	// Timeout applied to every action-performer call.
	Timeout time.Duration `json:"timeout"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".marketpilot"),
		Server: ServerConfig{
			Host: "localhost",
			Port: 8085,
		},
		Policy: PolicyConfig{
			ExpertRiskThreshold:   0.8,
			ExpertConfidenceFloor: 0.6,
			CriticalBudgetImpact:  25.0,
			DefaultPreference:     "guided_automation",
			DefaultRiskTolerance:  0.5,
			DefaultLearningRate:   0.2,
		},
		Learning: LearningConfig{
			RateFloor: 0.05,
			RateDecay: 0.05,
		},
		Execution: ExecutionConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Env override for the data dir (container deployments)
	if dir := os.Getenv("MARKETPILOT_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the policy engine cannot run with.
func (c *Config) Validate() error {
	if c.Policy.ExpertRiskThreshold < 0 || c.Policy.ExpertRiskThreshold > 1 {
		return fmt.Errorf("expert_risk_threshold must be in [0,1], got %v", c.Policy.ExpertRiskThreshold)
	}
	if c.Policy.ExpertConfidenceFloor < 0 || c.Policy.ExpertConfidenceFloor > 1 {
		return fmt.Errorf("expert_confidence_floor must be in [0,1], got %v", c.Policy.ExpertConfidenceFloor)
	}
	if c.Policy.DefaultRiskTolerance < 0 || c.Policy.DefaultRiskTolerance > 1 {
		return fmt.Errorf("default_risk_tolerance must be in [0,1], got %v", c.Policy.DefaultRiskTolerance)
	}
	if c.Policy.DefaultLearningRate < 0 || c.Policy.DefaultLearningRate > 1 {
		return fmt.Errorf("default_learning_rate must be in [0,1], got %v", c.Policy.DefaultLearningRate)
	}
	if c.Learning.RateFloor < 0 || c.Learning.RateFloor > 1 {
		return fmt.Errorf("rate_floor must be in [0,1], got %v", c.Learning.RateFloor)
	}
	if c.Execution.Timeout <= 0 {
		return fmt.Errorf("execution timeout must be positive, got %v", c.Execution.Timeout)
	}
	return nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
