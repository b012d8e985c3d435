package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/luminousstack/lumen-heal/internal/models"
)

// ResolveRule is one entry in the operator rule pack. Rule order is
// significant: the first matching rule wins.
type ResolveRule struct {
	ID         string            `yaml:"id"`
	Match      RuleMatch         `yaml:"match"`
	Operation  string            `yaml:"operation"`
	Parameters map[string]string `yaml:"parameters"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields match
// anything.
type RuleMatch struct {
	Type              string `yaml:"type"`
	ComponentContains string `yaml:"component_contains"`
	MinSeverity       string `yaml:"min_severity"`
}

// RulePackFile is the YAML root structure.
type RulePackFile struct {
	Rules []ResolveRule `yaml:"rules"`
}

// Resolver maps an Issue to a remediation Action. It is a pure function of
// the issue: no state is read or written during resolution, so output is
// fully deterministic and replayable.
//
// Resolution order: operator rule-pack rules first (in pack order), then the
// built-in defaults. The built-in defaults are total over the issue taxonomy,
// so every issue maps to some action.
type Resolver struct {
	rules  []ResolveRule
	logger *slog.Logger
}

// NewResolver loads the optional rule pack at path. An empty or missing path
// yields a resolver with built-in rules only. Pack rules naming an operation
// outside the closed vocabulary are dropped with a configuration warning.
func NewResolver(path string, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{logger: logger}
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, err
	}
	var pack RulePackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, err
	}

	for _, rule := range pack.Rules {
		if _, ok := models.CategoryFor(rule.Operation); !ok {
			logger.Warn("rule pack entry names unknown operation, dropping",
				slog.String("rule", rule.ID),
				slog.String("operation", rule.Operation))
			continue
		}
		r.rules = append(r.rules, rule)
	}
	return r, nil
}

// GetAction resolves an issue to exactly one action.
func (r *Resolver) GetAction(issue models.Issue) models.Action {
	for _, rule := range r.rules {
		if !rule.matches(issue) {
			continue
		}
		category, _ := models.CategoryFor(rule.Operation)
		return models.Action{
			Category:   category,
			Operation:  rule.Operation,
			Parameters: packParameters(rule, issue),
		}
	}
	return defaultAction(issue)
}

func (rule ResolveRule) matches(issue models.Issue) bool {
	if rule.Match.Type != "" && !strings.EqualFold(rule.Match.Type, string(issue.Type)) {
		return false
	}
	if rule.Match.ComponentContains != "" &&
		!strings.Contains(strings.ToLower(issue.Component), strings.ToLower(rule.Match.ComponentContains)) {
		return false
	}
	if rule.Match.MinSeverity != "" {
		min, ok := models.ParseSeverity(strings.ToLower(rule.Match.MinSeverity))
		if ok && !issue.Severity.AtLeast(min) {
			return false
		}
	}
	return true
}

// packParameters builds a fresh parameter map per call so callers can never
// mutate resolver state through a returned action.
func packParameters(rule ResolveRule, issue models.Issue) map[string]string {
	params := make(map[string]string, len(rule.Parameters)+1)
	for k, v := range rule.Parameters {
		params[k] = v
	}
	if _, ok := params["service"]; !ok && issue.Type == models.IssueService {
		params["service"] = issue.Component
	}
	return params
}

// defaultAction encodes the built-in resolution policy.
//
// Policy for CRITICAL issues: prefer the most conservative, fastest-to-apply
// operation. A critical service outage gets restart_service, never a rebuild;
// a critical system issue gets rollback_generation, which swaps to a known
// good generation in seconds, never rebuild_system. Low-grade system drift
// takes the slower full rebuild instead.
func defaultAction(issue models.Issue) models.Action {
	switch issue.Type {
	case models.IssueService:
		op := models.OpRestartService
		if !issue.Severity.AtLeast(models.SeverityHigh) {
			// A soft degradation gets the gentler reload first.
			op = models.OpReloadService
		}
		return models.Action{
			Category:   models.CategoryServiceManagement,
			Operation:  op,
			Parameters: map[string]string{"service": issue.Component},
		}

	case models.IssueResource:
		component := strings.ToLower(issue.Component)
		switch {
		case strings.Contains(component, "disk"):
			return models.Action{
				Category:   models.CategoryResourceManagement,
				Operation:  models.OpCleanNixStore,
				Parameters: map[string]string{},
			}
		case strings.Contains(component, "cpu"), strings.Contains(component, "load"):
			return models.Action{
				Category:   models.CategoryResourceManagement,
				Operation:  models.OpSetCPUGovernor,
				Parameters: map[string]string{"governor": "powersave"},
			}
		default:
			// Memory pressure and anything unclassified: dropping
			// caches is the cheapest safe remediation.
			return models.Action{
				Category:   models.CategoryResourceManagement,
				Operation:  models.OpClearSystemCache,
				Parameters: map[string]string{},
			}
		}

	default: // models.IssueSystem
		op := models.OpRollbackGeneration
		if !issue.Severity.AtLeast(models.SeverityHigh) {
			op = models.OpRebuildSystem
		}
		return models.Action{
			Category:   models.CategorySystemRecovery,
			Operation:  op,
			Parameters: map[string]string{},
		}
	}
}
