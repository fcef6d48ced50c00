package prerequisites

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/rs/zerolog"
)

// ErrServicesDisabled reports required APIs that are not enabled.
var ErrServicesDisabled = errors.New("required service APIs are not enabled")

// Manager checks, and optionally enables, the APIs a plan needs.
type Manager struct {
	client  ServiceAPIClient
	planner *PrerequisitePlanner
	logger  zerolog.Logger
}

// NewManager creates a new prerequisite manager.
func NewManager(client ServiceAPIClient, logger zerolog.Logger) *Manager {
	return &Manager{
		client:  client,
		planner: NewPlanner(),
		logger:  logger.With().Str("component", "PrerequisiteManager").Logger(),
	}
}

// CheckAndEnable compares the APIs the plan needs with those enabled in the
// project. Missing APIs are enabled when enable is true and reported as
// ErrServicesDisabled otherwise. It is idempotent.
func (m *Manager) CheckAndEnable(ctx context.Context, projectID string, plan jobspec.Plan, enable bool) error {
	requiredServices := m.planner.PlanRequiredServices(plan)
	if len(requiredServices) == 0 {
		m.logger.Debug().Msg("Plan needs no service APIs")
		return nil
	}
	log := m.logger.With().Str("project_id", projectID).Logger()
	log.Info().Strs("required_apis", requiredServices).Msg("Verifying service API prerequisites...")

	enabledServices, err := m.client.GetEnabledServices(ctx, projectID, requiredServices)
	if err != nil {
		return fmt.Errorf("failed to get currently enabled services: %w", err)
	}

	var servicesToEnable []string
	for _, required := range requiredServices {
		if _, ok := enabledServices[required]; !ok {
			servicesToEnable = append(servicesToEnable, required)
		}
	}
	if len(servicesToEnable) == 0 {
		log.Info().Msg("All required service APIs are already enabled.")
		return nil
	}
	if !enable {
		return fmt.Errorf("%w in project '%s': %s", ErrServicesDisabled, projectID, strings.Join(servicesToEnable, ", "))
	}

	log.Warn().Strs("apis_to_enable", servicesToEnable).Msg("Enabling missing service APIs...")
	if err := m.client.EnableServices(ctx, projectID, servicesToEnable); err != nil {
		return fmt.Errorf("failed to enable required services: %w", err)
	}
	log.Info().Strs("enabled_apis", servicesToEnable).Msg("Enabled all required service APIs.")
	return nil
}
