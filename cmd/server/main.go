package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/socialchat/internal/cache"
	"github.com/Tyrowin/socialchat/internal/events"
	"github.com/Tyrowin/socialchat/internal/logger"
	"github.com/Tyrowin/socialchat/internal/messaging"
	"github.com/Tyrowin/socialchat/internal/metrics"
	"github.com/Tyrowin/socialchat/internal/server"
	"github.com/Tyrowin/socialchat/internal/store/memory"
	"github.com/Tyrowin/socialchat/internal/store/pebblestore"
	"github.com/Tyrowin/socialchat/internal/store/postgres"
)

// backend is the union of the store interfaces every storage driver provides.
type backend interface {
	messaging.UserStore
	messaging.MessageStore
	messaging.GroupPersistence
}

func main() {
	_ = godotenv.Load(".env")

	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(server.ResolveConfigPath(*configPath)); err != nil {
		fmt.Fprintf(os.Stderr, "socialchat: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting_socialchat", "addr", cfg.Port, "storage", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close_failed", "error", err)
			}
		}
	}()

	store, closer, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	var users messaging.UserStore = store
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		closers = append(closers, rc)
		users = cache.NewUserCache(store, rc, cfg.Redis.UserTTL)
		logger.Info("user_cache_enabled", "ttl", cfg.Redis.UserTTL)
	}

	var publisher messaging.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		closers = append(closers, kp)
		publisher = kp
		logger.Info("kafka_publisher_enabled", "brokers", strings.Join(cfg.Kafka.Brokers, ","), "topic", cfg.Kafka.Topic)
	}

	collector := metrics.New()
	hub := messaging.NewHub(messaging.HubConfig{
		Users:     users,
		Messages:  store,
		Groups:    store,
		Publisher: publisher,
		Metrics:   collector,
	})

	srv := server.New(*cfg, hub, server.Options{Metrics: collector.Handler()})

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("signal_received_shutting_down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_incomplete", "error", err)
	}
	return nil
}

// openStore opens the configured storage driver and seeds the configured
// users. The returned closer is nil for the memory driver.
func openStore(ctx context.Context, cfg server.StorageConfig) (backend, io.Closer, error) {
	seeds := parseSeedUsers(cfg.SeedUsers)

	switch cfg.Driver {
	case server.DriverPebble:
		s, err := pebblestore.Open(cfg.PebblePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open pebble store: %w", err)
		}
		for _, u := range seeds {
			if err := s.PutUser(ctx, u); err != nil {
				_ = s.Close()
				return nil, nil, fmt.Errorf("seed user %s: %w", u.Username, err)
			}
		}
		return s, s, nil

	case server.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		s := postgres.NewStore(pool)
		for _, u := range seeds {
			if err := s.PutUser(ctx, u); err != nil {
				_ = s.Close()
				return nil, nil, fmt.Errorf("seed user %s: %w", u.Username, err)
			}
		}
		return s, s, nil

	case server.DriverMemory:
		s := memory.New()
		for _, u := range seeds {
			s.AddUser(u)
		}
		if len(seeds) == 0 {
			logger.Warn("memory_store_has_no_users", "hint", "set SEED_USERS or storage.seed_users")
		}
		return s, nil, nil
	}
	return nil, nil, errors.New("unknown storage driver " + cfg.Driver)
}

// parseSeedUsers reads "username" or "username:Known As" entries.
func parseSeedUsers(entries []string) []messaging.User {
	users := make([]messaging.User, 0, len(entries))
	for _, e := range entries {
		name, knownAs, _ := strings.Cut(strings.TrimSpace(e), ":")
		name = strings.TrimSpace(name)
		if !messaging.ValidUsername(name) {
			logger.Warn("seed_user_ignored", "entry", e)
			continue
		}
		knownAs = strings.TrimSpace(knownAs)
		if knownAs == "" {
			knownAs = name
		}
		users = append(users, messaging.User{Username: name, KnownAs: knownAs})
	}
	return users
}
