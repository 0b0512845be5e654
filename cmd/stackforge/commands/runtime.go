package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/stackforge/pkg/config"
	"github.com/openfroyo/stackforge/pkg/drivers/builtin"
	"github.com/openfroyo/stackforge/pkg/lock"
	"github.com/openfroyo/stackforge/pkg/service"
	"github.com/openfroyo/stackforge/pkg/stores"
	"github.com/openfroyo/stackforge/pkg/telemetry"
)

// runtime holds everything a command needs to run stack operations.
type runtime struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	nc       *nats.Conn
	engine   *service.Engine
	logger   zerolog.Logger

	closers []func() error
}

// openRuntime loads settings and connects the store, the lock backend and,
// when configured, NATS.
func openRuntime(ctx context.Context, version string) (rt *runtime, err error) {
	settings, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}
	settings.Telemetry.ServiceVersion = version

	tel, err := telemetry.NewTelemetry(&settings.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	rt = &runtime{
		settings: settings,
		tel:      tel,
		logger:   tel.Logger.WithEngineID(settings.EngineID).Zerolog(),
	}
	defer func() {
		if err != nil {
			rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.store, err = stores.NewSQLiteStore(stores.Config{Path: settings.DatabasePath})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, rt.store.Close)
	if err = rt.store.Init(ctx); err != nil {
		return nil, err
	}
	if err = rt.store.Migrate(ctx); err != nil {
		return nil, err
	}

	lockStore, err := rt.lockStore(ctx)
	if err != nil {
		return nil, err
	}
	prober, err := rt.prober()
	if err != nil {
		return nil, err
	}

	rt.engine, err = service.New(service.Options{
		Repository:      rt.store,
		Registry:        builtin.NewRegistry(),
		Lock:            lock.New(lockStore, prober, settings.EngineID, rt.logger, lock.WithObserver(tel.Metrics)),
		Telemetry:       tel,
		Region:          settings.Region,
		Timeout:         settings.Stack.Timeout,
		PollInterval:    settings.Stack.PollInterval,
		DisableRollback: settings.Stack.DisableRollback,
		Version:         version,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, rt.engine.Close)
	return rt, nil
}

// lockStore returns the backend selected by the lock settings.
func (rt *runtime) lockStore(ctx context.Context) (lock.Store, error) {
	cfg := rt.settings.Lock
	switch cfg.Backend {
	case config.LockBackendRedis:
		s, err := stores.NewRedisLockStore(ctx, stores.RedisConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s.Close)
		return s, nil
	case config.LockBackendPostgres:
		s, err := stores.NewPostgresLockStore(ctx, stores.PostgresConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error {
			s.Close()
			return nil
		})
		return s, nil
	default:
		return rt.store, nil
	}
}

// prober connects to NATS when a URL is configured. Without one every lock
// holder is assumed alive and stale locks must be cleared by hand.
func (rt *runtime) prober() (lock.Prober, error) {
	natsCfg := rt.settings.NATS
	if natsCfg.URL == "" {
		return lock.AssumeAlive{}, nil
	}
	nc, err := nats.Connect(natsCfg.URL,
		nats.Name("stackforge-"+rt.settings.EngineID),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsCfg.URL, err)
	}
	rt.nc = nc
	rt.closers = append(rt.closers, func() error {
		nc.Close()
		return nil
	})
	return lock.NewNATSProber(nc, rt.settings.EngineID, natsCfg.ProbeTimeout, rt.logger), nil
}

// Close releases every connection in reverse order of opening and flushes
// telemetry.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if err := rt.tel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// context attaches the telemetry logger to ctx.
func (rt *runtime) context(ctx context.Context) context.Context {
	return rt.tel.Logger.WithContext(ctx)
}

// withRuntime opens a runtime, runs fn and closes it again.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, appVersion)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))
	return fn(rt.context(ctx), rt)
}

// parseParameters turns repeated key=value flags into a parameter map.
func parseParameters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
