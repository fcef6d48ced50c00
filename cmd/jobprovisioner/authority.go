package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/illmade-knight/go-job-scheduler/pkg/credentials"
	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/illmade-knight/go-job-scheduler/pkg/prerequisites"
	"github.com/illmade-knight/go-job-scheduler/pkg/provisioning"
	"github.com/rs/zerolog"
)

const (
	backendREST   = "rest"
	backendGoogle = "google"
)

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger(), nil
}

// newAuthority picks and configures the authority backend.
func newAuthority(ctx context.Context, opts *rootOptions, settings credentials.Settings, logger zerolog.Logger) (provisioning.Authority, error) {
	switch opts.backend {
	case backendGoogle:
		project, err := settings.Get(credentials.KeyGoogleProject)
		if err != nil {
			return nil, err
		}
		authority, err := provisioning.NewGoogleAuthority(ctx, provisioning.GoogleAuthorityConfig{ProjectID: project}, logger)
		if err != nil {
			return nil, err
		}
		return authority, nil
	case backendREST, "":
		return newRESTAuthority(opts, settings, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.backend)
	}
}

func checkGoogleAPIs(ctx context.Context, settings credentials.Settings, plan jobspec.Plan, enable bool, logger zerolog.Logger) error {
	project, err := settings.Get(credentials.KeyGoogleProject)
	if err != nil {
		return err
	}
	client, err := prerequisites.NewGoogleServiceAPIClient(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close service usage client")
		}
	}()
	return prerequisites.NewManager(client, logger).CheckAndEnable(ctx, project, plan, enable)
}

func newRESTAuthority(opts *rootOptions, settings credentials.Settings, logger zerolog.Logger) (provisioning.Authority, error) {
	env, err := credentials.EnvironmentFromSettings(settings)
	if err != nil {
		return nil, err
	}
	if opts.emulator && env.Name != credentials.LocalEmulator.Name {
		env = credentials.LocalEmulator
	}

	cfg := provisioning.RESTConfig{Environment: env}
	if env.Name == credentials.LocalEmulator.Name {
		token, err := credentials.GetOrDefault(settings, credentials.KeyEmulatorToken, "local")
		if err != nil {
			return nil, err
		}
		if cfg.SubscriptionID, err = credentials.GetOrDefault(settings, credentials.KeySubscriptionID, "local"); err != nil {
			return nil, err
		}
		cfg.Tokens = credentials.StaticToken(token)
	} else {
		if cfg.SubscriptionID, err = settings.Get(credentials.KeySubscriptionID); err != nil {
			return nil, err
		}
		creds, err := credentials.ClientCredentialsFromSettings(settings)
		if err != nil {
			return nil, err
		}
		if cfg.Tokens, err = credentials.NewClientCredentialsTokenProvider(env, creds); err != nil {
			return nil, err
		}
	}

	logger.Debug().Str("environment", env.Name).Str("endpoint", env.ResourceEndpoint).Msg("Using REST scheduling authority")
	authority, err := provisioning.NewRESTAuthority(cfg, logger)
	if err != nil {
		return nil, err
	}
	return authority, nil
}
