package config

import (
	"fmt"
	"strings"

	"github.com/inboxkit/mailflow/internal/rule"
)

// Validate checks the config file: required fields, duplicate rule
// IDs, and full save-time validation of every declarative rule against
// the action vocabulary.
func Validate(cfg *Config, vocab rule.ActionVocabulary) error {
	var errs []string
	if cfg.Version == "" {
		errs = append(errs, "version is required")
	}
	ids := make(map[string]int)
	for i, r := range cfg.Rules {
		if r.ID == "" {
			errs = append(errs, fmt.Sprintf("rules[%d]: id is required", i))
			continue
		}
		if prev, ok := ids[r.ID]; ok {
			errs = append(errs, fmt.Sprintf("rules[%d]: duplicate id %q (first seen at rules[%d])", i, r.ID, prev))
		} else {
			ids[r.ID] = i
		}
		for _, fe := range rule.Validate(r, vocab) {
			errs = append(errs, fmt.Sprintf("rules[%d].%s: %s", i, fe.Path, fe.Message))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
