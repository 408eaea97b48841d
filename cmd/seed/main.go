package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"signalflow/backend/internal/config"
	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/repository"
	"signalflow/backend/pkg/models"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Fixture is the seed file layout.
type Fixture struct {
	Tenants []TenantFixture `yaml:"tenants"`
}

type TenantFixture struct {
	Name      string            `yaml:"name"`
	Domain    string            `yaml:"domain"`
	Workflows []WorkflowFixture `yaml:"workflows"`
	Routes    []RouteFixture    `yaml:"routes"`
}

type WorkflowFixture struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Status      string                 `yaml:"status"`
	InputSchema map[string]interface{} `yaml:"input_schema"`
}

type RouteFixture struct {
	Name     string                `yaml:"name"`
	Source   string                `yaml:"source"`
	Workflow string                `yaml:"workflow"`
	Enabled  *bool                 `yaml:"enabled"`
	Match    models.MatchPredicate `yaml:"match"`
}

type seedStore interface {
	repository.TenantStore
	repository.WorkflowStore
	CreateRoute(ctx context.Context, route *models.SignalRoute) error
	ListRoutes(ctx context.Context, tenantID string) ([]*models.SignalRoute, error)
}

var (
	fixtureFile string
	envFile     string
)

var rootCmd = &cobra.Command{
	Use:          "seed",
	Short:        "Load tenants, workflows and routes into the database",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(envFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

		data := defaultFixtures
		if fixtureFile != "" {
			if data, err = os.ReadFile(fixtureFile); err != nil {
				return err
			}
		}
		fixture, err := parseFixture(data)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		pool, err := pgxpool.New(ctx, cfg.DSN())
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		defer pool.Close()

		store := repository.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		if err := seed(ctx, store, fixture, logger); err != nil {
			return err
		}
		logger.Info("Seeding complete!")
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&fixtureFile, "file", "f", "", "YAML fixture file (defaults to the built-in fixture)")
	rootCmd.Flags().StringVar(&envFile, "env", "", "Path to .env file")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	for _, t := range f.Tenants {
		if t.Domain == "" {
			return nil, fmt.Errorf("invalid fixture: tenant %q has no domain", t.Name)
		}
	}
	return &f, nil
}

// seed is idempotent: tenants match by domain, workflows and routes by name.
func seed(ctx context.Context, store seedStore, f *Fixture, logger *logging.Logger) error {
	for _, tf := range f.Tenants {
		tenant, err := store.GetTenantByDomain(ctx, tf.Domain)
		switch {
		case err == nil:
			logger.Info("Found existing tenant", "id", tenant.ID, "domain", tf.Domain)
		case errors.Is(err, repository.ErrNotFound):
			tenant = &models.Tenant{Name: tf.Name, Domain: tf.Domain}
			if err := store.CreateTenant(ctx, tenant); err != nil {
				return fmt.Errorf("failed to create tenant %s: %w", tf.Domain, err)
			}
			logger.Info("Creating tenant", "id", tenant.ID, "domain", tf.Domain)
		default:
			return fmt.Errorf("failed to look up tenant %s: %w", tf.Domain, err)
		}

		workflowIDs, err := seedWorkflows(ctx, store, tenant.ID, tf.Workflows, logger)
		if err != nil {
			return err
		}
		if err := seedRoutes(ctx, store, tenant.ID, tf.Routes, workflowIDs, logger); err != nil {
			return err
		}
	}
	return nil
}

func seedWorkflows(ctx context.Context, store seedStore, tenantID string, fixtures []WorkflowFixture, logger *logging.Logger) (map[string]string, error) {
	existing, err := store.ListWorkflows(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing workflows: %w", err)
	}
	ids := make(map[string]string, len(existing))
	for _, w := range existing {
		ids[w.Name] = w.WorkflowID
	}

	for _, w := range fixtures {
		if _, ok := ids[w.Name]; ok {
			logger.Info("Skipping existing workflow", "name", w.Name)
			continue
		}
		status := w.Status
		if status == "" {
			status = "active"
		}
		wf := &models.Workflow{
			TenantID:    tenantID,
			WorkflowID:  uuid.New().String(),
			Name:        w.Name,
			Description: w.Description,
			Status:      status,
			InputSchema: w.InputSchema,
			CreatedBy:   "seed-script",
		}
		if err := store.CreateWorkflow(ctx, wf); err != nil {
			return nil, fmt.Errorf("failed to create workflow %s: %w", w.Name, err)
		}
		ids[w.Name] = wf.WorkflowID
		logger.Info("Seeded workflow", "name", w.Name, "id", wf.WorkflowID)
	}
	return ids, nil
}

func seedRoutes(ctx context.Context, store seedStore, tenantID string, fixtures []RouteFixture, workflowIDs map[string]string, logger *logging.Logger) error {
	existing, err := store.ListRoutes(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list existing routes: %w", err)
	}
	names := make(map[string]bool, len(existing))
	for _, r := range existing {
		names[r.Name] = true
	}

	for _, r := range fixtures {
		if names[r.Name] {
			logger.Info("Skipping existing route", "name", r.Name)
			continue
		}
		workflowID, ok := workflowIDs[r.Workflow]
		if !ok {
			return fmt.Errorf("route %s references unknown workflow %q", r.Name, r.Workflow)
		}
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		now := time.Now().UTC()
		route := &models.SignalRoute{
			ID:             uuid.New().String(),
			TenantID:       tenantID,
			Name:           r.Name,
			Source:         r.Source,
			MatchPredicate: r.Match,
			WorkflowID:     workflowID,
			Enabled:        enabled,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := store.CreateRoute(ctx, route); err != nil {
			return fmt.Errorf("failed to create route %s: %w", r.Name, err)
		}
		names[r.Name] = true
		logger.Info("Seeded route", "name", r.Name, "source", r.Source, "workflow", r.Workflow)
	}
	return nil
}
