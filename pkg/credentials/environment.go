package credentials

import (
	"fmt"
	"net/url"
	"strings"
)

// Environment names the endpoints of one deployment of the scheduling
// authority. It is passed explicitly to whatever needs it; there is no
// process-wide selection.
type Environment struct {
	Name string
	// ResourceEndpoint is the base URL of the wire contract.
	ResourceEndpoint string
	// TokenURL is the client-credentials token endpoint. A "{tenant}"
	// segment is replaced with the tenant id.
	TokenURL string
	// TokenAudience is the resource the issued token must be valid for.
	TokenAudience string
}

// LocalEmulator targets an emulator on the loopback interface.
var LocalEmulator = Environment{
	Name:             "local",
	ResourceEndpoint: "http://127.0.0.1:8085",
	TokenAudience:    "http://127.0.0.1:8085",
}

// TokenURLFor returns the token endpoint for tenant.
func (e Environment) TokenURLFor(tenant string) string {
	return strings.ReplaceAll(e.TokenURL, "{tenant}", url.PathEscape(tenant))
}

// Validate checks that the endpoints are usable absolute URLs.
func (e Environment) Validate() error {
	if err := checkURL("resource endpoint", e.ResourceEndpoint); err != nil {
		return err
	}
	if e.TokenURL != "" {
		if err := checkURL("token URL", e.TokenURLFor("tenant")); err != nil {
			return err
		}
	}
	return nil
}

// EnvironmentFromSettings builds an Environment from settings. With
// SCHEDULER_ENVIRONMENT=local (the default when no endpoint is configured)
// the LocalEmulator environment is returned.
func EnvironmentFromSettings(s Settings) (Environment, error) {
	name, err := GetOrDefault(s, KeyEnvironment, "")
	if err != nil {
		return Environment{}, err
	}
	endpoint, err := GetOrDefault(s, KeyEndpoint, "")
	if err != nil {
		return Environment{}, err
	}
	if name == LocalEmulator.Name || (name == "" && endpoint == "") {
		env := LocalEmulator
		if endpoint != "" {
			env.ResourceEndpoint = endpoint
			env.TokenAudience = endpoint
		}
		return env, nil
	}

	env := Environment{Name: name, ResourceEndpoint: endpoint}
	if env.ResourceEndpoint == "" {
		return Environment{}, &MissingConfigError{Key: KeyEndpoint}
	}
	if env.TokenURL, err = s.Get(KeyTokenURL); err != nil {
		return Environment{}, err
	}
	if env.TokenAudience, err = GetOrDefault(s, KeyTokenAudience, endpoint); err != nil {
		return Environment{}, err
	}
	if env.Name == "" {
		env.Name = "custom"
	}
	return env, env.Validate()
}

func checkURL(what, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s %q is not an absolute URL", what, raw)
	}
	return nil
}
