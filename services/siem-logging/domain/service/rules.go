package service

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
)

// Rule IDs
const (
	RuleRepeatedFailedLogin = "repeated_failed_login"
	RuleMFAFailureBurst     = "mfa_failure_burst"
	RuleAccessDeniedBurst   = "access_denied_burst"
	RuleBulkDataAccess      = "bulk_data_access"
	RuleCriticalEvent       = "critical_event"
)

// Rule is a correlation rule: a predicate over the incoming event, a
// correlation query around it and a threshold. When the threshold is met
// the rule yields an alert with fixed severity, score and recommendations.
type Rule struct {
	ID                 string
	Title              string
	Category           entity.Category // empty matches every category
	Action             string          // empty matches every action
	MinSeverity        entity.Severity // empty matches every severity
	Window             time.Duration
	Threshold          int
	Severity           entity.Severity
	RiskScore          int
	RecommendedActions []string
	Describe           func(subject string, count int, window time.Duration) string
	Enabled            bool
}

// Matches reports whether ev should trigger evaluation of r
func (r *Rule) Matches(ev *entity.SecurityEvent) bool {
	if !r.Enabled {
		return false
	}
	if r.Category != "" && ev.Category != r.Category {
		return false
	}
	if r.Action != "" && ev.Action != r.Action {
		return false
	}
	if r.MinSeverity != "" && !ev.Severity.AtLeast(r.MinSeverity) {
		return false
	}
	return true
}

// DefaultRules returns the built-in rule set
func DefaultRules() []*Rule {
	return []*Rule{
		{
			ID:          RuleRepeatedFailedLogin,
			Title:       "Repeated authentication failures",
			Category:    entity.CategoryAuthentication,
			Action:      "FAILED_LOGIN",
			Window:      15 * time.Minute,
			Threshold:   5,
			Severity:    entity.SeverityHigh,
			RiskScore:   85,
			Enabled:     true,
			RecommendedActions: []string{
				"Lock the affected account",
				"Investigate the source IP address",
				"Check for credential compromise",
				"Review recent account activity",
			},
			Describe: func(subject string, count int, window time.Duration) string {
				return fmt.Sprintf("%d failed login attempts for %s within %s", count, subject, window)
			},
		},
		{
			ID:          RuleMFAFailureBurst,
			Title:       "Repeated MFA failures",
			Category:    entity.CategoryAuthentication,
			Action:      "MFA_FAILED",
			Window:      10 * time.Minute,
			Threshold:   3,
			Severity:    entity.SeverityMedium,
			RiskScore:   70,
			Enabled:     true,
			RecommendedActions: []string{
				"Contact the user to confirm the login attempts",
				"Revoke active sessions for the account",
				"Review MFA device enrolment",
			},
			Describe: func(subject string, count int, window time.Duration) string {
				return fmt.Sprintf("%d failed MFA challenges for %s within %s", count, subject, window)
			},
		},
		{
			ID:          RuleAccessDeniedBurst,
			Title:       "Possible privilege escalation",
			Category:    entity.CategoryAuthorization,
			Action:      "ACCESS_DENIED",
			Window:      10 * time.Minute,
			Threshold:   10,
			Severity:    entity.SeverityHigh,
			RiskScore:   75,
			Enabled:     true,
			RecommendedActions: []string{
				"Review the roles granted to the account",
				"Inspect the resources that were requested",
				"Suspend the account if the activity is unexpected",
			},
			Describe: func(subject string, count int, window time.Duration) string {
				return fmt.Sprintf("%d denied authorization requests for %s within %s", count, subject, window)
			},
		},
		{
			ID:          RuleBulkDataAccess,
			Title:       "Bulk data export",
			Category:    entity.CategoryDataAccess,
			Action:      "DATA_EXPORT",
			Window:      time.Hour,
			Threshold:   20,
			Severity:    entity.SeverityHigh,
			RiskScore:   80,
			Enabled:     true,
			RecommendedActions: []string{
				"Confirm the export with the data owner",
				"Check the destination of the exported data",
				"Restrict export permissions pending review",
			},
			Describe: func(subject string, count int, window time.Duration) string {
				return fmt.Sprintf("%d data exports by %s within %s", count, subject, window)
			},
		},
		{
			ID:          RuleCriticalEvent,
			Title:       "Critical security event",
			MinSeverity: entity.SeverityCritical,
			Window:      5 * time.Minute,
			Threshold:   1,
			Severity:    entity.SeverityCritical,
			RiskScore:   95,
			Enabled:     true,
			RecommendedActions: []string{
				"Start the incident response procedure",
				"Contain the affected systems",
				"Preserve evidence for investigation",
			},
			Describe: func(subject string, count int, window time.Duration) string {
				return fmt.Sprintf("Critical event reported for %s", subject)
			},
		},
	}
}

// RuleOverride adjusts a built-in rule from the rules file
type RuleOverride struct {
	ID        string `yaml:"id"`
	Enabled   *bool  `yaml:"enabled"`
	Threshold *int   `yaml:"threshold"`
	Window    string `yaml:"window"`
	Severity  string `yaml:"severity"`
	RiskScore *int   `yaml:"risk_score"`
}

type ruleFile struct {
	Rules []RuleOverride `yaml:"rules"`
}

// LoadRuleOverrides reads a YAML rules file
func LoadRuleOverrides(path string) ([]RuleOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return f.Rules, nil
}

// ApplyOverrides applies overrides to rules in place. Unknown rule IDs and
// invalid values are rejected.
func ApplyOverrides(rules []*Rule, overrides []RuleOverride) error {
	byID := make(map[string]*Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	for _, o := range overrides {
		r, ok := byID[o.ID]
		if !ok {
			return fmt.Errorf("unknown rule %q", o.ID)
		}
		if o.Enabled != nil {
			r.Enabled = *o.Enabled
		}
		if o.Threshold != nil {
			if *o.Threshold < 1 {
				return fmt.Errorf("rule %q: threshold must be at least 1", o.ID)
			}
			r.Threshold = *o.Threshold
		}
		if o.Window != "" {
			d, err := time.ParseDuration(o.Window)
			if err != nil || d <= 0 {
				return fmt.Errorf("rule %q: invalid window %q", o.ID, o.Window)
			}
			r.Window = d
		}
		if o.Severity != "" {
			sev, ok := entity.ParseSeverity(o.Severity)
			if !ok {
				return fmt.Errorf("rule %q: invalid severity %q", o.ID, o.Severity)
			}
			r.Severity = sev
		}
		if o.RiskScore != nil {
			r.RiskScore = *o.RiskScore
		}
	}
	return nil
}

// LongestWindow returns the largest window of any enabled rule
func LongestWindow(rules []*Rule) time.Duration {
	var longest time.Duration
	for _, r := range rules {
		if r.Enabled && r.Window > longest {
			longest = r.Window
		}
	}
	return longest
}
