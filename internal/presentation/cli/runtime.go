package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	appcontent "github.com/Zhima-Mochi/repoevents/internal/application/content"
	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/config"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/browse"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/history"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/registry"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/search"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/id"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/kv"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/memory"
	obsprovider "github.com/Zhima-Mochi/repoevents/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/unitofwork"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/Zhima-Mochi/repoevents/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/repoevents/internal/presentation/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// runtime holds the wired service.
type runtime struct {
	cfg     *config.Config
	zap     *zap.Logger
	log     observability.Logger
	tel     observability.Observability
	metrics http.Handler

	repo       *memory.ContentRepository
	redis      *redis.Client
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	sessions   *unitofwork.Manager
	content    *appcontent.Service
}

func newTelemetry(cfg *config.Config, base *zap.Logger) (observability.Observability, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	counters, histograms := prometrics.Instruments(prometrics.New(cfg.Metrics.Namespace, cfg.Metrics.Subsystem, reg))

	systemLogger := logging.WithTrace(base, logging.SystemTraceID, logging.SystemSpanID)
	tel := obsprovider.New(
		obsprovider.WithTracer(oteltrace.New(cfg.Service.Name, attribute.String("deployment.environment", cfg.Service.Env))),
		obsprovider.WithLogger(zaplogger.New(systemLogger)),
		obsprovider.WithInstruments(counters, histograms),
	)
	return tel, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// newRuntime builds the content service and the dispatcher. Consumers are
// initialized before it returns.
func newRuntime(ctx context.Context, cfg *config.Config) (_ *runtime, err error) {
	base, err := logging.NewLogger(cfg.Service.Name, cfg.Service.Env, cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	tel, metrics := newTelemetry(cfg, base)
	rt := &runtime{
		cfg:     cfg,
		zap:     base,
		tel:     tel,
		log:     tel.Logger().With(observability.F("component", "runtime")),
		metrics: metrics,
		repo:    memory.NewContentRepository(),
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	var store kv.KV = kv.NewMemory()
	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		store = kv.RedisKV{R: rt.redis}
	}

	rt.registry = registry.New(registry.Deps{
		Observability: tel,
		Content:       rt.repo,
		KV:            store,
	})
	rt.dispatcher, err = dispatch.Build(ctx, cfg.Dispatcher.BuildConfig(), rt.registry, dispatch.WithObservability(tel))
	if err != nil {
		return nil, err
	}

	rt.sessions = unitofwork.NewManager(rt.dispatcher,
		unitofwork.WithMaxRounds(cfg.Dispatcher.MaxRounds),
		unitofwork.WithLogger(tel.Logger()),
	)
	rt.content = appcontent.NewService(rt.repo, id.NewUUIDGenerator(), tel)

	rt.log.Info("runtime_ready",
		observability.F("dispatcher", rt.dispatcher.Name()),
		observability.F("consumers", len(rt.dispatcher.Profiles())),
		observability.F("consolidate", rt.dispatcher.Consolidates()),
	)
	return rt, nil
}

// handler exposes the read models of the consumers that are configured.
func (rt *runtime) handler() *httppresentation.Handler {
	opts := []httppresentation.Option{httppresentation.WithMetricsHandler(rt.metrics)}
	if c, ok := registry.Find[*search.Consumer](rt.dispatcher); ok {
		opts = append(opts, httppresentation.WithSearch(c.Index()))
	}
	if c, ok := registry.Find[*browse.Consumer](rt.dispatcher); ok {
		opts = append(opts, httppresentation.WithBrowse(c.Index()))
	}
	if c, ok := registry.Find[*history.Consumer](rt.dispatcher); ok {
		opts = append(opts, httppresentation.WithHistory(c))
	}
	return httppresentation.NewHandler(rt.content, rt.sessions, rt.dispatcher, rt.tel, opts...)
}

// Close finishes the consumers and releases connections.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.dispatcher != nil {
		errs = append(errs, rt.dispatcher.Close(ctx))
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.zap != nil {
		_ = rt.zap.Sync()
	}
	return errors.Join(errs...)
}
