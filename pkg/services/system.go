package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/models"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/params"
	sqlutil "github.com/ekaya-inc/ekaya-dataservices/pkg/sql"
)

// SystemService maintains configurations and connections by writing through
// the /configurations and /connections system configurations, so every
// change takes the same path as a client write and reloads its registry.
type SystemService struct {
	executor       *Executor
	configurations *ConfigurationRegistry
	connections    *ConnectionRegistry
	logger         *zap.Logger
}

func NewSystemService(executor *Executor, configurations *ConfigurationRegistry, connections *ConnectionRegistry, logger *zap.Logger) *SystemService {
	return &SystemService{
		executor:       executor,
		configurations: configurations,
		connections:    connections,
		logger:         logger.Named("system"),
	}
}

func (s *SystemService) systemConfiguration(path string) (*models.Configuration, error) {
	cfg, ok := s.configurations.Get(path)
	if !ok {
		return nil, fmt.Errorf("%w: system configuration %s", apperrors.ErrNotFound, path)
	}
	return cfg, nil
}

// SaveConfiguration inserts cfg, or updates it when its path already exists.
func (s *SystemService) SaveConfiguration(ctx context.Context, cfg *models.Configuration) (string, error) {
	if cfg == nil || strings.TrimSpace(cfg.Path) == "" {
		return "", fmt.Errorf("%w: configuration path is required", apperrors.ErrInvalidTemplate)
	}
	normalized := *cfg
	normalized.Normalize()

	for _, template := range []*string{
		&normalized.QueryStatement,
		&normalized.InsertStatement,
		&normalized.UpdateStatement,
		&normalized.DeleteStatement,
	} {
		t, err := sqlutil.NormalizeTemplate(*template)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", apperrors.ErrInvalidTemplate, normalized.Path, err)
		}
		*template = t
	}

	system, err := s.systemConfiguration(models.ConfigurationsPath)
	if err != nil {
		return "", err
	}

	action := models.ActionInsert
	if _, exists := s.configurations.Get(normalized.Path); exists {
		action = models.ActionUpdate
	}

	s.logger.Info("Saving configuration",
		zap.String("path", normalized.Path),
		zap.String("action", string(action)),
	)
	return s.executor.Execute(ctx, system, action, normalized.SystemParams())
}

// DeleteConfiguration removes the configuration stored under path.
func (s *SystemService) DeleteConfiguration(ctx context.Context, path string) (string, error) {
	system, err := s.systemConfiguration(models.ConfigurationsPath)
	if err != nil {
		return "", err
	}
	path = models.NormalizePath(path)
	s.logger.Info("Deleting configuration", zap.String("path", path))
	return s.executor.Execute(ctx, system, models.ActionDelete, params.FromPairs("path", path))
}

// SaveConnection inserts conn, or updates it when its name already exists.
func (s *SystemService) SaveConnection(ctx context.Context, conn *models.Connection) (string, error) {
	if conn == nil || strings.TrimSpace(conn.Name) == "" {
		return "", fmt.Errorf("%w: connection name is required", apperrors.ErrConnectionInvalid)
	}
	system, err := s.systemConfiguration(models.ConnectionsPath)
	if err != nil {
		return "", err
	}

	action := models.ActionInsert
	if s.connections.Has(conn.Name) {
		action = models.ActionUpdate
	}

	stored := *conn
	if stored.Password, err = s.connections.SealPassword(conn.Password); err != nil {
		return "", fmt.Errorf("failed to seal password for %s: %w", conn.Name, err)
	}

	s.logger.Info("Saving connection",
		zap.String("name", conn.Name),
		zap.String("action", string(action)),
	)
	return s.executor.Execute(ctx, system, action, stored.SystemParams())
}

// DeleteConnection removes the stored connection called name.
func (s *SystemService) DeleteConnection(ctx context.Context, name string) (string, error) {
	system, err := s.systemConfiguration(models.ConnectionsPath)
	if err != nil {
		return "", err
	}
	s.logger.Info("Deleting connection", zap.String("name", name))
	return s.executor.Execute(ctx, system, models.ActionDelete, params.FromPairs("name", name))
}

// TestConnection checks that conn can be opened without registering it.
func (s *SystemService) TestConnection(ctx context.Context, conn *models.Connection) error {
	return s.connections.TestConnection(ctx, conn)
}

// ExportConfigurations serializes the configurations selected by filter.
func (s *SystemService) ExportConfigurations(filter string) ([]byte, error) {
	configurations := s.configurations.Filter(filter)
	if configurations == nil {
		configurations = []*models.Configuration{}
	}
	return json.MarshalIndent(configurations, "", "  ")
}

// ExportConnections serializes every registered connection. Passwords are
// never exported.
func (s *SystemService) ExportConnections() ([]byte, error) {
	return json.MarshalIndent(s.connections.All(), "", "  ")
}

// RefreshConnections tears the connection registry down and rebuilds it.
func (s *SystemService) RefreshConnections(ctx context.Context) error {
	s.logger.Info("Refreshing connections")
	return s.connections.Refresh(ctx)
}

// RefreshConfigurations re-reads the configuration registry and drops every
// cached result.
func (s *SystemService) RefreshConfigurations(ctx context.Context) error {
	s.logger.Info("Refreshing configurations")
	if err := s.configurations.Refresh(ctx); err != nil {
		return err
	}
	return s.configurations.ClearCache(ctx)
}

// TestNamed checks that the registered connection called name can be borrowed.
func (s *SystemService) TestNamed(ctx context.Context, name string) error {
	return s.connections.Test(ctx, name)
}
