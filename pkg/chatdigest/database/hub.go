package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
)

// Hub owns the database backends of the process. The pipeline and the
// ingestion path share the primary backend.
type Hub struct {
	// backends stores all registered database backends by name
	backends map[string]*Backend

	// primary is the name of the default backend
	primary string

	// logger for hub operations
	logger *slog.Logger

	// mu protects concurrent access to backends
	mu sync.RWMutex

	// factories stores registered backend factories by type
	factories map[BackendType]BackendFactory
}

// NewHub opens the primary backend described by config and, unless
// auto_migrate is disabled, brings its schema up to date.
func NewHub(ctx context.Context, config HubConfig, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "database")

	hub := &Hub{
		backends:  make(map[string]*Backend),
		factories: make(map[BackendType]BackendFactory),
		logger:    logger,
	}

	hub.RegisterFactory(BackendSQLite, NewSQLiteFactory(logger))
	hub.RegisterFactory(BackendPostgreSQL, NewPostgreSQLFactory(logger))
	hub.RegisterFactory(BackendMySQL, NewMySQLFactory(logger))

	cfg := config.Effective()
	primaryConfig, err := primaryConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("get primary config: %w", err)
	}

	if err := hub.AddBackend(primaryConfig, "primary"); err != nil {
		return nil, fmt.Errorf("create primary backend: %w", err)
	}
	hub.primary = "primary"

	if *cfg.AutoMigrate {
		if err := hub.Migrate(ctx, "", 0); err != nil {
			hub.Close()
			return nil, fmt.Errorf("migrate primary backend: %w", err)
		}
	}

	return hub, nil
}

// primaryConfig extracts the configuration for the primary backend.
func primaryConfig(cfg HubConfig) (Config, error) {
	switch cfg.Backend {
	case BackendSQLite:
		return cfg.SQLite.ToConfig(), nil
	case BackendPostgreSQL:
		return cfg.PostgreSQL.ToConfig(), nil
	case BackendMySQL:
		return cfg.MySQL.ToConfig(), nil
	default:
		return Config{}, fmt.Errorf("unsupported backend type: %s", cfg.Backend)
	}
}

// RegisterFactory registers a backend factory for a specific backend type.
func (h *Hub) RegisterFactory(backendType BackendType, factory BackendFactory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[backendType] = factory
}

// AddBackend creates and registers a new database backend.
func (h *Hub) AddBackend(config Config, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.backends[name]; exists {
		return fmt.Errorf("backend %q already exists", name)
	}

	factory, ok := h.factories[config.Type]
	if !ok || !factory.Supports(config.Type) {
		return fmt.Errorf("no factory registered for backend type: %s", config.Type)
	}

	backend, err := factory.Create(config)
	if err != nil {
		return fmt.Errorf("create backend %q: %w", name, err)
	}

	backend.Name = name
	h.backends[name] = backend

	h.logger.Info("database backend registered", "name", name, "type", config.Type)
	return nil
}

// GetBackend returns a backend by name, or the primary backend if name is empty.
func (h *Hub) GetBackend(name string) (*Backend, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if name == "" {
		name = h.primary
	}

	backend, ok := h.backends[name]
	if !ok {
		return nil, fmt.Errorf("backend %q not found", name)
	}
	return backend, nil
}

// Primary returns the primary database backend.
func (h *Hub) Primary() *Backend {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.backends[h.primary]
}

// DB returns the sql.DB of the primary backend for direct access.
func (h *Hub) DB() *sql.DB {
	if backend := h.Primary(); backend != nil {
		return backend.DB
	}
	return nil
}

// Ping checks the primary backend.
func (h *Hub) Ping(ctx context.Context) error {
	backend := h.Primary()
	if backend == nil {
		return fmt.Errorf("no primary backend")
	}
	return backend.Health.Ping(ctx)
}

// Status returns the health status of all backends.
func (h *Hub) Status(ctx context.Context) map[string]HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := make(map[string]HealthStatus, len(h.backends))
	for name, backend := range h.backends {
		if backend.Health != nil {
			status[name] = backend.Health.Status(ctx)
		} else {
			status[name] = HealthStatus{Healthy: false, Error: "health checker not available"}
		}
	}
	return status
}

// Migrate runs migrations on the specified backend (or primary if empty).
func (h *Hub) Migrate(ctx context.Context, backendName string, target int) error {
	backend, err := h.GetBackend(backendName)
	if err != nil {
		return err
	}
	if backend.Migrator == nil {
		return fmt.Errorf("migrator not available for backend %q", backend.Name)
	}
	return backend.Migrator.Migrate(ctx, target)
}

// Close closes all database connections.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, backend := range h.backends {
		if err := backend.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend %q: %w", name, err))
		}
		h.logger.Debug("database backend closed", "name", name)
	}
	h.backends = make(map[string]*Backend)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing backends: %v", errs)
	}
	return nil
}
