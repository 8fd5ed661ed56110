package correlation

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleDoc mirrors Rule for YAML parsing with an optional enabled flag that
// defaults to true when omitted.
type ruleDoc struct {
	Rule    `yaml:",inline"`
	Enabled *bool `yaml:"enabled"`
}

type rulesFile struct {
	Rules []ruleDoc `yaml:"rules"`
}

// LoadFile reads correlation rules from a YAML file. A missing file is not
// an error: the built-in defaults are returned so a cold start with no
// config still correlates. Malformed rules are dropped from the active set
// and returned as warnings for the caller to log.
func LoadFile(path string) ([]Rule, []error, error) {
	if path == "" {
		return DefaultRules(), nil, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultRules(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read rules file: %w", err)
	}

	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	var (
		rules    []Rule
		warnings []error
		seen     = make(map[string]bool)
	)
	for _, rd := range doc.Rules {
		r := rd.Rule
		r.Enabled = rd.Enabled == nil || *rd.Enabled
		if err := r.Validate(); err != nil {
			warnings = append(warnings, err)
			continue
		}
		if seen[r.ID] {
			warnings = append(warnings, fmt.Errorf("rule %s: duplicate id, keeping first", r.ID))
			continue
		}
		seen[r.ID] = true
		rules = append(rules, r)
	}
	return rules, warnings, nil
}
