package backend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"grouply/internal/amqp"
	"grouply/internal/log"
	"grouply/internal/storage"
	"grouply/internal/storage/memory"
	"grouply/internal/storage/postgres"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger

	// dialAMQP is swapped in tests.
	dialAMQP func(url, exchange, queue string) (*amqp.Client, error)
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger:   logger.WithComponent(log.ComponentBackend),
		dialAMQP: amqp.NewClient,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store storage.LedgerStore
		err   error
	)
	switch config.Type {
	case MemoryBackend:
		store = f.createMemoryStore(config)
	case SQLiteBackend:
		store, err = f.createSQLiteStore(config)
	case PostgresBackend:
		store, err = f.createPostgresStore(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	if config.SeedDemoData {
		n, err := storage.SeedParticipants(ctx, store, storage.DemoParticipants)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("seed demo participants: %w", err)
		}
		if n > 0 {
			f.logger.InfoContext(ctx, "Seeded demo participants", "count", n)
		}
	}

	result := &BackendResult{Store: store}
	if config.AMQPURL != "" {
		client, err := f.dialAMQP(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		} else {
			result.Publisher = client
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	result.Cleanup = func() error {
		var errs []error
		if result.Publisher != nil {
			if err := result.Publisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close AMQP client: %w", err))
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		return errors.Join(errs...)
	}
	return result, nil
}

func (f *DefaultFactory) createMemoryStore(config Config) storage.LedgerStore {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}
	path := filepath.Join(dataDir, "participants.txt")
	store := memory.NewFromFile(path)

	f.logger.Info("Initialized memory backend", "roster_file", path)
	return store
}

func (f *DefaultFactory) createSQLiteStore(config Config) (storage.LedgerStore, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return repo, nil
}

func (f *DefaultFactory) createPostgresStore(ctx context.Context, config Config) (storage.LedgerStore, error) {
	store, err := postgres.Open(ctx, config.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres store: %w", err)
	}
	f.logger.Info("Initialized Postgres backend")
	return store, nil
}
