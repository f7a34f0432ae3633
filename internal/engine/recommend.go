package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wattlens/wattlens/internal/anomaly"
)

// RuleEngine turns flagged samples into operator hints from a YAML rule pack.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single hint rule.
type Rule struct {
	ID    string    `yaml:"id"`
	Match RuleMatch `yaml:"match"`
	Hints []string  `yaml:"hints"`
}

// RuleMatch defines optional conditions; every set condition must hold.
type RuleMatch struct {
	Modules  []int   `yaml:"modules"`
	Feature  string  `yaml:"feature"`
	MinCount int     `yaml:"min_count"`
	MinRatio float64 `yaml:"min_ratio"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. If path is empty or
// missing, returns nil engine.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("hint rules loaded", slog.String("path", path), slog.Int("rules", len(cfg.Rules)))
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

// Hints returns the hints of every rule matched by the annotated window.
func (e *RuleEngine) Hints(module int, annotated anomaly.Annotated) []string {
	if e == nil || annotated.Mask.Count == 0 {
		return nil
	}

	labels := annotated.LabelCounts()
	matched := make([]string, 0)
	for _, rule := range e.rules {
		if len(rule.Match.Modules) > 0 && !containsModule(rule.Match.Modules, module) {
			continue
		}
		count := annotated.Mask.Count
		if rule.Match.Feature != "" {
			count = labelCount(labels, rule.Match.Feature)
			if count == 0 {
				continue
			}
		}
		if count < rule.Match.MinCount {
			continue
		}
		if rule.Match.MinRatio > 0 && float64(count) < rule.Match.MinRatio*float64(annotated.Mask.Total) {
			continue
		}
		e.log().Debug("hint rule matched", slog.String("rule", rule.ID), slog.Int("module", module))
		matched = appendUnique(matched, rule.Hints...)
	}
	return matched
}

func (e *RuleEngine) log() *slog.Logger {
	if e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

func containsModule(modules []int, module int) bool {
	for _, m := range modules {
		if m == module {
			return true
		}
	}
	return false
}

func labelCount(labels map[string]int, feature string) int {
	total := 0
	for label, n := range labels {
		if strings.EqualFold(label, feature) {
			total += n
		}
	}
	return total
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
