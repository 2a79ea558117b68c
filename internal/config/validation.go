package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags first, then rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	st, err := os.Stat(cfg.Root)
	if err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("root: %s is not a directory", cfg.Root)
	}
	for i, rule := range cfg.Hidden {
		if err := checkRule(rule); err != nil {
			return fmt.Errorf("hidden[%d]: %w", i, err)
		}
	}
	for typ, globs := range cfg.Types {
		for _, g := range globs {
			if _, err := path.Match(g, ""); err != nil {
				return fmt.Errorf("types[%s]: bad glob %q", typ, g)
			}
		}
	}
	if cfg.Features.L10n.Enabled && cfg.Features.L10n.Dir == "" {
		return errors.New("features.l10n: enabled but dir is empty")
	}
	return nil
}

func checkRule(rule string) error {
	if rule == "" {
		return errors.New("empty rule")
	}
	if re, ok := strings.CutPrefix(rule, "re:"); ok {
		_, err := regexp.Compile(re)
		return err
	}
	_, err := path.Match(rule, "")
	return err
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
