package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for the package.
var validate *validator.Validate

func init() {
	validate = validator.New()

	if err := validate.RegisterValidation("apikey", validateAPIKey); err != nil {
		// init cannot return an error; a failed registration is a programming
		// mistake, not a runtime condition.
		panic(fmt.Sprintf("failed to register API key validator: %v", err))
	}
}

// validateAPIKey checks that the API key map carries a non-empty key for the
// configured provider. Ollama runs locally and is exempt.
func validateAPIKey(fl validator.FieldLevel) bool {
	apiKeys, ok := fl.Field().Interface().(map[string]string)
	if !ok {
		return false
	}

	parent := fl.Parent()
	provider := parent.FieldByName("Provider").String()

	if provider == "ollama" || provider == "mock" {
		return true
	}

	apiKey, exists := apiKeys[provider]
	return exists && apiKey != ""
}

// Validate checks a Config against its struct tags and the provider/API key
// pairing. It returns the first failure wrapped with the offending field.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		ok := false
		if errs, ok = err.(validator.ValidationErrors); !ok || len(errs) == 0 {
			return err
		}
		first := errs[0]
		return fmt.Errorf("invalid config: field %q failed on %q", first.Field(), first.Tag())
	}

	if cfg.Provider != "ollama" && cfg.Provider != "mock" {
		if key := cfg.APIKeys[cfg.Provider]; key == "" {
			return fmt.Errorf("invalid config: no API key for provider %q", cfg.Provider)
		}
	}
	return nil
}

// RegisterCustomValidation exposes validator registration for callers that
// add their own config rules.
func RegisterCustomValidation(tag string, fn validator.Func) error {
	return validate.RegisterValidation(tag, fn)
}
