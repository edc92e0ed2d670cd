package compliance

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"cityroute/internal/model"
)

// Source supplies the currently active rule sets. Callers fetch once per
// detection cycle and never cache beyond it.
type Source interface {
	ActiveRules(ctx context.Context) ([]model.RuleSet, error)
}

// Static serves a fixed, replaceable list of rule sets.
type Static struct {
	mu    sync.RWMutex
	rules []model.RuleSet
}

func NewStatic(rules ...model.RuleSet) *Static { return &Static{rules: rules} }

func (s *Static) ActiveRules(_ context.Context) ([]model.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeOnly(s.rules), nil
}

// Replace swaps the served rules, simulating a regulation change.
func (s *Static) Replace(rules ...model.RuleSet) {
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
}

// FileSource reads rule sets from a YAML document on every call so edits to the
// file take effect on the next cycle.
type FileSource struct {
	Path string
}

type ruleFile struct {
	RuleSets []model.RuleSet `yaml:"ruleSets"`
}

func (f FileSource) ActiveRules(_ context.Context) ([]model.RuleSet, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read rules %q: %w", f.Path, err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("read rules %q: %w", f.Path, err)
	}
	return activeOnly(rules), nil
}

// ParseRules decodes a YAML rules document.
func ParseRules(data []byte) ([]model.RuleSet, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i, rs := range doc.RuleSets {
		if rs.ID == "" {
			return nil, fmt.Errorf("parse rules: rule set %d has no id", i)
		}
		for _, tr := range rs.TimeRestrictions {
			if _, _, err := tr.AllowedHours.Bounds(); err != nil && !tr.AllowedHours.IsZero() {
				return nil, fmt.Errorf("parse rules: %s/%s: %w", rs.ID, tr.ID, err)
			}
		}
	}
	return doc.RuleSets, nil
}

func activeOnly(in []model.RuleSet) []model.RuleSet {
	out := make([]model.RuleSet, 0, len(in))
	for _, rs := range in {
		if rs.Active {
			out = append(out, rs)
		}
	}
	return out
}
