package cmd

import (
	"context"
	"time"

	"payment-reconciliation-engine/cmd/reconciler/config"
	"payment-reconciliation-engine/internal/audit"
	"payment-reconciliation-engine/internal/extract"
	"payment-reconciliation-engine/internal/fraud"
	"payment-reconciliation-engine/internal/matcher"
	"payment-reconciliation-engine/internal/parsers"
	"payment-reconciliation-engine/internal/reconciler"
	"payment-reconciliation-engine/internal/store"
	"payment-reconciliation-engine/pkg/errors"
	"payment-reconciliation-engine/pkg/logger"
)

// runtime holds the collaborators built from the application config
type runtime struct {
	store       store.Store
	sink        audit.Sink
	coordinator *reconciler.Coordinator
	scorer      *fraud.Scorer
	closers     []func(context.Context)
}

// newRuntime wires the store, audit sink, extractor, parser, matching engine,
// coordinator and scorer selected by cfg
func newRuntime(ctx context.Context, cfg *config.AppConfig) (*runtime, error) {
	log := logger.GetGlobalLogger()
	rt := &runtime{}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	rt.store = st
	rt.closers = append(rt.closers, func(context.Context) { st.Close() })

	rt.sink = audit.NewLogSink(log)
	if cfg.Audit.Sink == config.SinkMongo {
		mongoSink, err := audit.NewMongoSink(ctx, cfg.Audit.MongoURI, cfg.Audit.Database, cfg.Audit.Collection)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		if err := mongoSink.EnsureIndexes(ctx); err != nil {
			log.WithError(err).Warn("Failed to ensure audit indexes")
		}
		rt.sink = audit.MultiSink{rt.sink, mongoSink}
		rt.closers = append(rt.closers, func(ctx context.Context) {
			if err := mongoSink.Close(ctx); err != nil {
				log.WithError(err).Warn("Failed to close audit sink")
			}
		})
	}

	var extractor extract.Extractor = extract.PlainTextExtractor{}
	if cfg.Extraction.Endpoint != "" {
		extractor = extract.NewHTTPExtractor(cfg.Extraction.Endpoint, cfg.Extraction.Timeout)
	}

	parser, err := parsers.NewStatementParser(&cfg.Statement)
	if err != nil {
		rt.Close(ctx)
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "statement", nil, err)
	}

	matching := cfg.Matching
	engine := matcher.NewMatchingEngine(&matching)

	rt.coordinator, err = reconciler.NewCoordinator(reconciler.Dependencies{
		Obligations: st,
		Reports:     st,
		Extractor:   extractor,
		Parser:      parser,
		Engine:      engine,
		Sink:        rt.sink,
		Logger:      log,
	}, &cfg.Reconciliation)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	rt.scorer, err = fraud.NewScorer(st, st, rt.sink, &cfg.Fraud)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	return rt, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return store.NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		if cfg.FixturesPath == "" {
			return store.NewMemoryStore(), nil
		}
		return store.LoadFixtures(cfg.FixturesPath)
	}
}

// closeTimeout bounds how long Close waits for the store and sinks
const closeTimeout = 10 * time.Second

// Close releases the store and sinks in reverse order. It runs on a context
// detached from ctx's cancellation so that shutdown after a signal still
// disconnects cleanly.
func (rt *runtime) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i](ctx)
	}
}
