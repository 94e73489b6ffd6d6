package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rustyeddy/pmtrader/broker/paper"
	"github.com/rustyeddy/pmtrader/config"
	"github.com/rustyeddy/pmtrader/engine"
	"github.com/rustyeddy/pmtrader/internal/logging"
	"github.com/rustyeddy/pmtrader/journal"
	"github.com/rustyeddy/pmtrader/lock"
	"github.com/rustyeddy/pmtrader/metrics"
	"github.com/rustyeddy/pmtrader/notify"
	"github.com/rustyeddy/pmtrader/pricing"
	"github.com/sirupsen/logrus"
)

// app is everything a command needs to drive the pipeline.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	journal  journal.Journal
	quotes   *pricing.QuoteStore
	metrics  *metrics.Collector
	notifier *notify.Dispatcher
	engine   *engine.Engine

	closers []io.Closer
}

// newApp builds the full stack from the loaded config.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	log, logCloser, err := logging.New(cfg.LogOptions())
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	a.log = log
	a.closers = append(a.closers, logCloser)

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	j, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	a.journal = j

	a.quotes = pricing.NewQuoteStore()
	venue := paper.New(a.quotes, cfg.PaperOptions())

	locker, err := a.openLocker(ctx)
	if err != nil {
		return err
	}

	a.metrics = metrics.New()

	var channels notify.Multi
	channels = append(channels, notify.NewLog(a.log))
	if tg := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID); tg.Enabled() {
		channels = append(channels, tg)
	}
	a.notifier = notify.NewDispatcher(channels, a.log, cfg.Notify.QueueSize)

	eng, err := engine.New(ctx, cfg.EngineConfig(), a.journal, venue, a.quotes,
		engine.WithLogger(a.log),
		engine.WithObserver(a.metrics),
		engine.WithNotifier(a.notifier),
		engine.WithLocker(locker),
	)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	a.engine = eng
	return nil
}

func (a *app) openLocker(ctx context.Context) (lock.Locker, error) {
	lc := a.cfg.Lock
	switch lc.Type {
	case "", "local":
		return lock.NewLocal(), nil
	case "sqlite":
		if err := ensureDir(lc.Path); err != nil {
			return nil, err
		}
		l, err := lock.NewSQLite(lc.Path, lc.Key, lc.TTLDuration())
		if err != nil {
			return nil, fmt.Errorf("open sqlite lock: %w", err)
		}
		a.closers = append(a.closers, l)
		return l, nil
	case "redis":
		client, err := lock.DialRedis(ctx, lc.RedisAddr, lc.RedisPassword, lc.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		return lock.NewRedis(client, lc.Key, lc.TTLDuration()), nil
	}
	return nil, fmt.Errorf("unknown lock type %q", lc.Type)
}

// openJournal opens the configured journal, creating the directory of a
// SQLite file when needed.
func openJournal(ctx context.Context, cfg *config.Config) (journal.Journal, error) {
	if cfg.Journal.Type == "" || cfg.Journal.Type == "sqlite" {
		if err := ensureDir(cfg.Journal.Path); err != nil {
			return nil, err
		}
	}
	j, err := journal.Open(ctx, cfg.Journal.Type, cfg.Journal.Target())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	return nil
}

// Close flushes pending notifications and releases every resource, most
// recently opened first.
func (a *app) Close() {
	if a.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.notifier.Close(ctx); err != nil && a.log != nil {
			a.log.WithError(err).Warn("notifications not flushed")
		}
		cancel()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil && a.log != nil {
			a.log.WithError(err).Warn("close journal")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if a.closers[i] != nil {
			a.closers[i].Close()
		}
	}
}
