package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries service-level settings. Governance parameters (quorum
// fraction, voting window) are deployment policy, so they come from the
// environment rather than being compiled in.
type Config struct {
	DatabaseURL string
	JWTSecret   string

	// QuorumNum/QuorumDen define the quorum threshold as a fraction of a
	// pool's total issued shares. Integer fraction, never a float.
	QuorumNum int64
	QuorumDen int64

	VotingWindow  time.Duration
	SweepInterval time.Duration
}

// Defaults used when the corresponding environment variable is unset.
const (
	DefaultQuorumNum     = 1
	DefaultQuorumDen     = 2
	DefaultVotingWindow  = 72 * time.Hour
	DefaultSweepInterval = time.Minute
)

// FromEnv builds a Config from the process environment.
func FromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		QuorumNum:     DefaultQuorumNum,
		QuorumDen:     DefaultQuorumDen,
		VotingWindow:  DefaultVotingWindow,
		SweepInterval: DefaultSweepInterval,
	}

	var err error
	if cfg.QuorumNum, err = envInt64("SHAREFLOW_QUORUM_NUM", cfg.QuorumNum); err != nil {
		return Config{}, err
	}
	if cfg.QuorumDen, err = envInt64("SHAREFLOW_QUORUM_DEN", cfg.QuorumDen); err != nil {
		return Config{}, err
	}
	if cfg.VotingWindow, err = envDuration("SHAREFLOW_VOTING_WINDOW", cfg.VotingWindow); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = envDuration("SHAREFLOW_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects fractions that could never be met or always trivially met.
func (c Config) Validate() error {
	if c.QuorumDen <= 0 {
		return fmt.Errorf("config: quorum denominator must be positive, got %d", c.QuorumDen)
	}
	if c.QuorumNum <= 0 || c.QuorumNum > c.QuorumDen {
		return fmt.Errorf("config: quorum fraction %d/%d out of (0,1]", c.QuorumNum, c.QuorumDen)
	}
	if c.VotingWindow <= 0 {
		return fmt.Errorf("config: voting window must be positive, got %s", c.VotingWindow)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: sweep interval must be positive, got %s", c.SweepInterval)
	}
	return nil
}

func envInt64(key string, def int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return v, nil
}
