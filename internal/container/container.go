package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/approval-chain/internal/application/dispatcher"
	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/application/service"
	"github.com/garyjia/approval-chain/internal/application/workflow"
	"github.com/garyjia/approval-chain/internal/infrastructure/metrics"
	"github.com/garyjia/approval-chain/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-chain/internal/infrastructure/worker"
	"github.com/garyjia/approval-chain/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	reader       *database.DB
	txManager    *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - Coordination
	locker      port.Locker
	redisClient redis.UniversalClient
	natsConn    *nats.Conn
	publisher   port.CompletionPublisher
	recorder    *metrics.Recorder

	// Application
	dispatcher dispatcher.Dispatcher
	workflow   workflow.WorkflowEngine
	catalog    service.CatalogService

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Templates       port.TemplateRepository
	Requests        port.RequestRepository
	Decisions       port.DecisionRepository
	History         port.HistoryRepository
	Outbox          port.OutboxRepository
	ProcessedCauses port.ProcessedCauseRepository
}

// Workflow returns the subset of repositories the workflow engine writes through.
func (b *RepositoryBundle) Workflow() workflow.Repositories {
	return workflow.Repositories{
		Templates: b.Templates,
		Requests:  b.Requests,
		Decisions: b.Decisions,
		History:   b.History,
		Outbox:    b.Outbox,
	}
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Database, migrations and repositories
// 2. Locker
// 3. Dispatcher, publisher and subscribers
// 4. Workflow engine and catalog
// 5. Redelivery of completions left unpublished by a previous run
// 6. Background workers
//
// On failure, components initialized so far are closed.
func (c *Container) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	defer func() {
		if err != nil {
			c.teardown()
		}
	}()

	c.logger.Info("Starting container initialization")

	// Step 1: Database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	// Step 2: Locker
	lockBundle, err := ProvideLocker(ctx, &c.config.Lock, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize locker: %w", err)
	}
	c.locker = lockBundle.Locker
	c.redisClient = lockBundle.Redis
	c.logger.Info("Locker initialized", zap.String("backend", c.config.Lock.Backend))

	// Step 3: Dispatcher and publisher
	if err := c.initMessaging(); err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	c.logger.Info("Messaging initialized", zap.String("publisher", c.config.Publisher.Backend))

	// Step 4: Engine and catalog
	if err := c.initApplication(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	c.logger.Info("Workflow engine and catalog initialized")

	// Step 5: Redeliver completions a previous run committed but never published
	if n, err := c.workflow.RedeliverPending(ctx, c.config.Publisher.RedeliveryBatch); err != nil {
		c.logger.Error("Startup redelivery failed", zap.Error(err))
	} else if n > 0 {
		c.logger.Info("Redelivered pending completions", zap.Int("count", n))
	}

	// Step 6: Background workers
	c.workers = ProvideWorkers(&c.config.Publisher, c.workflow, c.logger)
	if err := c.workers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.Count()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases every initialized component, newest first
func (c *Container) teardown() error {
	var errs []error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.natsConn != nil {
		if err := c.natsConn.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
		c.natsConn = nil
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		c.redisClient = nil
	}

	if c.reader != nil {
		if err := c.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close read pool: %w", err))
		}
		c.reader = nil
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.db = nil
	}

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if c.db == nil {
		set("database", errors.New("not initialized"))
	} else {
		set("database", c.db.PingContext(ctx))
	}

	if c.redisClient != nil {
		set("redis", c.redisClient.Ping(ctx).Err())
	}

	if c.natsConn != nil {
		var err error
		if !c.natsConn.IsConnected() {
			err = fmt.Errorf("nats status %s", c.natsConn.Status())
		}
		set("nats", err)
	}

	if c.workers != nil && c.workers.Count() > 0 {
		var err error
		if !c.workers.IsRunning() {
			err = errors.New("workers stopped")
		}
		set("workers", err)
	}

	if c.workflow == nil {
		set("workflow", errors.New("not initialized"))
	} else {
		set("workflow", nil)
	}

	return status
}

func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.db = dbBundle.DB
	c.reader = dbBundle.Reader
	c.txManager = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db.DB, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initMessaging() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	pubBundle, err := ProvidePublisher(&c.config.Publisher, disp, c.logger)
	if err != nil {
		return err
	}
	c.publisher = pubBundle.Publisher
	c.natsConn = pubBundle.NATS

	RegisterSubscribers(disp, c.repositories, c.txManager, c.logger)
	return nil
}

func (c *Container) initApplication() error {
	c.recorder = ProvideRecorder(&c.config.Metrics)

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Locker:     c.locker,
		Publisher:  c.publisher,
		Dispatcher: c.dispatcher,
		Recorder:   c.recorder,
		LockCfg:    &c.config.Lock,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.workflow = engine

	catalog, err := ProvideCatalog(c.repositories, c.txManager, c.logger)
	if err != nil {
		return err
	}
	c.catalog = catalog
	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.txManager
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.workflow
}

// Catalog returns the chain catalog service.
func (c *Container) Catalog() service.CatalogService {
	return c.catalog
}

// MetricsHandler returns the prometheus handler, or nil when metrics are disabled.
func (c *Container) MetricsHandler() http.Handler {
	if c.recorder == nil {
		return nil
	}
	return c.recorder.Handler()
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
