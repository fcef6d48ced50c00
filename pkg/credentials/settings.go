package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Setting keys read by the provisioning tools.
const (
	KeySubscriptionID = "SCHEDULER_SUBSCRIPTION_ID"
	KeyTenantID       = "SCHEDULER_TENANT_ID"
	KeyClientID       = "SCHEDULER_CLIENT_ID"
	KeyClientSecret   = "SCHEDULER_CLIENT_SECRET"
	KeyResourceGroup  = "SCHEDULER_RESOURCE_GROUP"
	KeyLocation       = "SCHEDULER_LOCATION"
	KeyActionURL      = "SCHEDULER_ACTION_URL"
	KeyEndpoint       = "SCHEDULER_ENDPOINT"
	KeyTokenURL       = "SCHEDULER_TOKEN_URL"
	KeyTokenAudience  = "SCHEDULER_TOKEN_AUDIENCE"
	KeyEnvironment    = "SCHEDULER_ENVIRONMENT"
	KeyEmulatorToken  = "SCHEDULER_EMULATOR_TOKEN"
	KeyGoogleProject  = "SCHEDULER_GOOGLE_PROJECT"
)

// MissingConfigError reports a required setting that is absent, empty or
// still holds template placeholder text such as "[your subscription id]".
type MissingConfigError struct {
	Key         string
	Placeholder bool
}

func (e *MissingConfigError) Error() string {
	if e.Placeholder {
		return fmt.Sprintf("setting %s still holds a placeholder value; fill it in before running", e.Key)
	}
	return fmt.Sprintf("required setting %s is not set", e.Key)
}

// Settings supplies named string settings.
type Settings interface {
	Get(key string) (string, error)
}

// Lookup is a Settings backed by a lookup function.
type Lookup func(key string) (string, bool)

// Get returns the value for key or a *MissingConfigError.
func (l Lookup) Get(key string) (string, error) {
	v, ok := l(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", &MissingConfigError{Key: key}
	}
	if IsPlaceholder(v) {
		return "", &MissingConfigError{Key: key, Placeholder: true}
	}
	return v, nil
}

// MapSettings is a Settings backed by a map.
func MapSettings(m map[string]string) Settings {
	return Lookup(func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	})
}

// EnvSettings loads the given .env files (or ./.env when none are named) into
// the process environment and then reads settings from it. Values already in
// the environment win over the files. A missing default .env is not an error.
func EnvSettings(logger zerolog.Logger, files ...string) (Settings, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil {
			logger.Debug().Err(err).Msg("No .env file loaded")
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("failed to load env files %v: %w", files, err)
	}
	return Lookup(os.LookupEnv), nil
}

// GetOrDefault returns the setting, or def when it is missing. Placeholder
// values are still reported as errors.
func GetOrDefault(s Settings, key, def string) (string, error) {
	v, err := s.Get(key)
	if err == nil {
		return v, nil
	}
	var mErr *MissingConfigError
	if errors.As(err, &mErr) && !mErr.Placeholder {
		return def, nil
	}
	return "", err
}

// IsPlaceholder reports whether v looks like bracketed template text.
func IsPlaceholder(v string) bool {
	return strings.HasPrefix(v, "[")
}
