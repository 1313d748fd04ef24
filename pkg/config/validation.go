package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Struct tags cover required fields and value ranges; validateCustomRules
// covers what tags cannot express.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	names := make(map[string]bool)
	for i, p := range cfg.Propagation.HeaderRegexPattern {
		if names[p.Name] {
			return fmt.Errorf("propagation.header_regex_pattern[%d]: duplicate pattern name %q", i, p.Name)
		}
		names[p.Name] = true

		if _, err := regexp.Compile(p.Pattern); err != nil {
			return fmt.Errorf("propagation.header_regex_pattern[%d] (%s): %w", i, p.Name, err)
		}
	}

	if cfg.Cache.Type == "badger" {
		if path, _ := cfg.Cache.Badger["db_path"].(string); path == "" {
			return fmt.Errorf("cache.badger.db_path is required when cache.type is badger")
		}
	}

	if cfg.ObjectStore.Type == "azblob" {
		if conn, _ := cfg.ObjectStore.Azblob["connection_string"].(string); conn == "" {
			return fmt.Errorf("object_store.azblob.connection_string is required when object_store.type is azblob")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
