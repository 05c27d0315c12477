package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/solatis/rulekeeper/internal/actions"
	"github.com/solatis/rulekeeper/internal/core/config"
	"github.com/solatis/rulekeeper/internal/core/db"
	"github.com/solatis/rulekeeper/internal/core/logsink"
	"github.com/solatis/rulekeeper/internal/engine"
	"github.com/solatis/rulekeeper/internal/metadata"
)

// app holds the wired components shared by serve and run.
type app struct {
	db       *sqlx.DB
	rules    *db.RuleStore
	records  *db.RecordStore
	execLog  *db.ExecutionLog
	engine   *engine.Engine
	registry *prometheus.Registry // nil unless metrics are enabled
	nc       *nats.Conn
}

// openStore opens the database and loads the named queries. Migrations must
// already be applied.
func openStore(ctx context.Context, url string) (*sqlx.DB, *db.Queries, error) {
	database, err := db.Open(url)
	if err != nil {
		return nil, nil, err
	}

	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			database.Close()
			return nil, nil, fmt.Errorf("migration %s not applied - run 'rulekeeper migrate' first", s.ID)
		}
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return database, queries, nil
}

// newApp wires storage, handlers, sinks and the engine from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withMetrics bool) (_ *app, err error) {
	database, queries, err := openStore(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a := &app{
		db:      database,
		rules:   db.NewRuleStore(queries),
		records: db.NewRecordStore(queries),
		execLog: db.NewExecutionLog(queries),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	catalog := metadata.NewCatalog()
	if cfg.MetadataFile != "" {
		if err := catalog.LoadFile(cfg.MetadataFile); err != nil {
			return nil, err
		}
	}

	handlers := actions.Handlers{
		Tags:     a.records,
		Status:   a.records,
		Tasks:    db.NewTaskStore(queries),
		Webhooks: actions.NewHTTPWebhookClient(nil, cfg.Engine.WebhookTimeout),
	}

	var notifier actions.NotificationService = db.NewNotifier(queries)
	if cfg.NATS.URL != "" {
		a.nc, err = nats.Connect(cfg.NATS.URL, nats.Name("rulekeeper"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		notifier = actions.FanoutNotifier{notifier, actions.NewNATSNotifier(a.nc, cfg.NATS.SubjectPrefix)}
	}
	handlers.Notifications = notifier

	if cfg.AI.APIKey != "" {
		provider, err := actions.NewOpenAIProvider(actions.OpenAIConfig{
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Timeout: cfg.Engine.AITimeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AI provider: %w", err)
		}
		handlers.AI = provider
	} else {
		logger.Warn("ai-analysis actions will be skipped", "reason", config.EnvAIAPIKey+" not set")
	}

	dispatcher := actions.NewDispatcher(handlers, actions.Config{
		AITimeout:         cfg.Engine.AITimeout,
		ActionTimeout:     cfg.Engine.ActionTimeout,
		WebhookTimeout:    cfg.Engine.WebhookTimeout,
		MaxAttempts:       cfg.Engine.MaxAttempts,
		RetryInitialDelay: cfg.Engine.RetryInitialDelay,
		DefaultModel:      cfg.Engine.DefaultModel,
		Logger:            logger,
	})

	sink := logsink.MultiSink{a.execLog}
	if cfg.LogDir != "" {
		jsonl, err := logsink.NewJSONLSink(cfg.LogDir)
		if err != nil {
			return nil, err
		}
		sink = append(sink, jsonl)
	}

	var metrics *engine.Metrics
	if withMetrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if metrics, err = engine.NewMetrics(a.registry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	a.engine = engine.New(a.rules, catalog, a.records, dispatcher, engine.Config{
		SequentialActions: !cfg.Engine.ConcurrentActions,
		Sink:              sink,
		Metrics:           metrics,
		Logger:            logger,
	})
	return a, nil
}

// Close releases the NATS connection and the database.
func (a *app) Close() {
	if a.nc != nil {
		_ = a.nc.Drain()
	}
	if a.db != nil {
		a.db.Close()
	}
}
