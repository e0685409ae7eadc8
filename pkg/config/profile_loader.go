package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// PolicyProfile is an environment-specific governance profile. Profiles
// override the built-in tier policy per deployment environment; the YAML
// files are operator-owned.
type PolicyProfile struct {
	Name            string           `yaml:"name" json:"name"`
	Environment     string           `yaml:"environment" json:"environment"`
	Budget          BudgetConfig     `yaml:"budget" json:"budget"`
	Approval        ApprovalConfig   `yaml:"approval" json:"approval"`
	Compliance      ComplianceConfig `yaml:"compliance" json:"compliance"`
	ViolationPolicy string           `yaml:"violation_policy,omitempty" json:"violation_policy,omitempty"`
	Retention       RetentionConfig  `yaml:"retention" json:"retention"`
}

// BudgetConfig holds per-profile budget limits in cents.
type BudgetConfig struct {
	DailyLimitCents   int64 `yaml:"daily_limit_cents" json:"daily_limit_cents"`
	MonthlyLimitCents int64 `yaml:"monthly_limit_cents" json:"monthly_limit_cents"`
}

// ApprovalConfig holds per-profile approval gate settings.
type ApprovalConfig struct {
	TrackerURL    string         `yaml:"tracker_url,omitempty" json:"tracker_url,omitempty"`
	TimeoutMs     int            `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	ApproverRoles map[int]string `yaml:"approver_roles,omitempty" json:"approver_roles,omitempty"`
}

// ComplianceConfig lists the resources inspected per run and the per-check
// timeout.
type ComplianceConfig struct {
	CheckTimeoutMs int      `yaml:"check_timeout_ms,omitempty" json:"check_timeout_ms,omitempty"`
	Resources      []string `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// RetentionConfig defines audit data retention.
type RetentionConfig struct {
	AuditLogDays int `yaml:"audit_log_days" json:"audit_log_days"`
}

// LoadProfile loads a policy profile YAML by environment name. It searches
// the profiles directory for profile_<env>.yaml.
func LoadProfile(profilesDir, env string) (*PolicyProfile, error) {
	env = strings.ToLower(env)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", env))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", env, err)
	}

	var profile PolicyProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", env, err)
	}

	if profile.Environment == "" {
		profile.Environment = env
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*PolicyProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*PolicyProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile PolicyProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Environment == "" {
			// Extract env from filename: profile_prod.yaml -> prod
			base := filepath.Base(path)
			profile.Environment = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Environment] = &profile
	}

	return profiles, nil
}

// Apply overlays a profile's settings onto a loaded Config. Zero values in
// the profile leave the Config untouched.
func (p *PolicyProfile) Apply(cfg *Config) {
	if p.Budget.DailyLimitCents > 0 {
		cfg.DailyLimitCents = p.Budget.DailyLimitCents
	}
	if p.Budget.MonthlyLimitCents > 0 {
		cfg.MonthlyLimitCents = p.Budget.MonthlyLimitCents
	}
	if p.Approval.TrackerURL != "" {
		cfg.TrackerURL = p.Approval.TrackerURL
	}
	if p.Approval.TimeoutMs > 0 {
		cfg.TrackerTimeout = msDuration(p.Approval.TimeoutMs)
	}
	if p.Compliance.CheckTimeoutMs > 0 {
		cfg.CheckTimeout = msDuration(p.Compliance.CheckTimeoutMs)
	}
}
