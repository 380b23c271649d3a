package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RepoConfigFile is looked up in the project root.
const RepoConfigFile = ".pr-warden.yml"

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigParsing  = errors.New("config parsing failed")
)

// RepoConfig is the per-repository override file.
type RepoConfig struct {
	EnabledReviewers    []string `yaml:"enabled_reviewers"`
	ReportOnlyReviewers []string `yaml:"report_only_reviewers"`
	VerifyCommand       string   `yaml:"verify_command"`
}

// LoadRepoConfig loads and parses the .pr-warden.yml file from a repository path.
func LoadRepoConfig(repoPath string) (*RepoConfig, error) {
	configPath := filepath.Join(repoPath, RepoConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &RepoConfig{}, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", RepoConfigFile, err)
	}

	rc := &RepoConfig{}
	if err := yaml.Unmarshal(data, rc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParsing, err)
	}
	return rc, nil
}

// ApplyRepoConfig overlays the non-empty fields of rc onto c.
func (c *Config) ApplyRepoConfig(rc *RepoConfig) {
	if rc == nil {
		return
	}
	if len(rc.EnabledReviewers) > 0 {
		c.Review.EnabledReviewers = rc.EnabledReviewers
	}
	if len(rc.ReportOnlyReviewers) > 0 {
		c.Review.ReportOnlyReviewers = rc.ReportOnlyReviewers
	}
	if rc.VerifyCommand != "" {
		c.Review.VerifyCommand = rc.VerifyCommand
	}
}
