package container

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/approval-chain/internal/application/dispatcher"
	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/application/service"
	"github.com/garyjia/approval-chain/internal/application/subscriber"
	"github.com/garyjia/approval-chain/internal/application/workflow"
	"github.com/garyjia/approval-chain/internal/domain/event"
	"github.com/garyjia/approval-chain/internal/infrastructure/lock"
	"github.com/garyjia/approval-chain/internal/infrastructure/metrics"
	"github.com/garyjia/approval-chain/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-chain/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-chain/internal/infrastructure/publisher"
	"github.com/garyjia/approval-chain/internal/infrastructure/worker"
	"github.com/garyjia/approval-chain/migrations"
	"github.com/garyjia/approval-chain/pkg/database"
	"github.com/garyjia/approval-chain/pkg/utils"
)

// CompletionLogConsumer is the consumer name of the built-in completion log subscriber
const CompletionLogConsumer = "completion-log"

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	Reader         *database.DB
	TransactionMgr *sqlite.DB
}

// LockBundle holds the locker and the redis client backing it, if any.
type LockBundle struct {
	Locker port.Locker
	Redis  redis.UniversalClient
}

// PublisherBundle holds the completion publisher and the NATS connection backing it, if any.
type PublisherBundle struct {
	Publisher port.CompletionPublisher
	NATS      *nats.Conn
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(db, logger).Run(migrations.FS)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Migrations checked", zap.Int("applied", applied))

	reader, err := database.NewReader(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DatabaseBundle{
		DB:             db,
		Reader:         reader,
		TransactionMgr: sqlite.NewDB(db.DB, logger, sqlite.WithReadPool(reader.DB)),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Templates:       repository.NewTemplateRepository(sqlDB, logger),
		Requests:        repository.NewRequestRepository(sqlDB, logger),
		Decisions:       repository.NewDecisionRepository(sqlDB, logger),
		History:         repository.NewHistoryRepository(sqlDB, logger),
		Outbox:          repository.NewOutboxRepository(sqlDB, logger),
		ProcessedCauses: repository.NewProcessedCauseRepository(sqlDB, logger),
	}, nil
}

// ProvideLocker creates the configured lock backend. The redis backend is pinged
// before use so a bad address fails startup instead of the first mutation.
func ProvideLocker(ctx context.Context, cfg *LockConfig, logger *zap.Logger) (*LockBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lock config is required")
	}

	switch cfg.Backend {
	case LockBackendMemory, "":
		return &LockBundle{Locker: lock.NewMemoryLocker()}, nil

	case LockBackendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}

		locker := lock.NewRedisLocker(client, lock.RedisConfig{
			KeyPrefix:     cfg.Redis.KeyPrefix,
			TTL:           cfg.Redis.TTL,
			RetryInterval: cfg.Redis.RetryInterval,
			RenewInterval: cfg.Redis.RenewInterval,
		}, logger)
		return &LockBundle{Locker: locker, Redis: client}, nil

	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKeyValueLogger(logger))), nil
}

// ProvidePublisher creates the configured completion publisher.
func ProvidePublisher(cfg *PublisherConfig, disp dispatcher.Dispatcher, logger *zap.Logger) (*PublisherBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("publisher config is required")
	}

	local := publisher.NewDispatcherPublisher(disp)

	switch cfg.Backend {
	case PublisherDispatcher, "":
		return &PublisherBundle{Publisher: local}, nil

	case PublisherNATS, PublisherFanout:
		conn, err := publisher.Connect(cfg.NATSURL, cfg.ClientName, logger)
		if err != nil {
			return nil, err
		}
		remote := publisher.NewNATSPublisher(conn, cfg.SubjectPrefix, logger)

		if cfg.Backend == PublisherNATS {
			return &PublisherBundle{Publisher: remote, NATS: conn}, nil
		}
		return &PublisherBundle{Publisher: publisher.Fanout{local, remote}, NATS: conn}, nil

	default:
		return nil, fmt.Errorf("unknown publisher backend %q", cfg.Backend)
	}
}

// ProvideRecorder creates the prometheus recorder, or nil when metrics are disabled.
func ProvideRecorder(cfg *MetricsConfig) *metrics.Recorder {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return metrics.NewRecorder(cfg.Namespace, true)
}

// ProvideWorkers creates the background workers. The redelivery worker is omitted
// when its interval is zero.
func ProvideWorkers(cfg *PublisherConfig, redeliverer worker.Redeliverer, logger *zap.Logger) *worker.Manager {
	manager := worker.NewManager(logger)
	if cfg != nil && cfg.RedeliveryInterval > 0 {
		manager.Register(worker.NewRedeliveryWorker(worker.RedeliveryConfig{
			Interval:  cfg.RedeliveryInterval,
			BatchSize: cfg.RedeliveryBatch,
		}, redeliverer, logger))
	}
	return manager
}

// WorkflowDeps holds dependencies for the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Locker     port.Locker
	Publisher  port.CompletionPublisher
	Dispatcher dispatcher.Dispatcher
	Recorder   *metrics.Recorder
	LockCfg    *LockConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.WorkflowEngine, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.TxManager == nil || deps.Locker == nil {
		return nil, fmt.Errorf("transaction manager and locker are required")
	}

	opts := []workflow.EngineOption{
		workflow.WithPublisher(deps.Publisher),
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(utils.NewKeyValueLogger(deps.Logger)),
	}
	if deps.LockCfg != nil {
		opts = append(opts,
			workflow.WithLockTimeout(deps.LockCfg.Timeout),
			workflow.WithLockScope(workflow.LockScope(deps.LockCfg.Scope)),
		)
	}
	if deps.Recorder != nil {
		opts = append(opts, workflow.WithRecorder(deps.Recorder))
	}

	return workflow.NewEngine(deps.Repos.Workflow(), deps.TxManager, deps.Locker, opts...), nil
}

// ProvideCatalog creates the chain catalog service.
func ProvideCatalog(repos *RepositoryBundle, txManager port.TransactionManager, logger *zap.Logger) (service.CatalogService, error) {
	if repos == nil || txManager == nil {
		return nil, fmt.Errorf("repositories and transaction manager are required")
	}
	return service.NewCatalogService(repos.Templates, txManager, utils.NewKeyValueLogger(logger)), nil
}

// RegisterSubscribers attaches the built-in completion subscribers to the dispatcher.
// The completion log records each terminal outcome once, however often it is redelivered.
func RegisterSubscribers(disp dispatcher.Dispatcher, repos *RepositoryBundle, txManager port.TransactionManager, logger *zap.Logger) {
	kv := utils.NewKeyValueLogger(logger)

	disp.SubscribeCompletions(CompletionLogConsumer, subscriber.Idempotent(
		repos.ProcessedCauses,
		txManager,
		CompletionLogConsumer,
		func(ctx context.Context, completion event.Completion) error {
			logger.Info("Approval completed",
				zap.Int64("request_id", completion.RequestID),
				zap.String("subject_type", completion.SubjectType),
				zap.String("subject_id", completion.SubjectID),
				zap.String("outcome", completion.Outcome),
				zap.String("actor_id", completion.ActorID))
			return nil
		},
		kv,
	))
}
