package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rustyeddy/pmtrader/api"
	"github.com/rustyeddy/pmtrader/engine"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled trading cycle",
	Long: `Serve the status API and Prometheus metrics, and run a trading cycle
every server.cycle_interval using server.signals_file and
server.quotes_file. Both files are re-read on every cycle.

Endpoints:
  GET  /healthz
  GET  /status
  GET  /positions[?all=true]
  POST /signals
  POST /reset
  GET  /metrics

Example:
  pmtrader serve -f pmtrader.yaml`,
	RunE: runServe,
}

var serveNoCycle bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveNoCycle, "no-cycle", false, "serve the API only, without scheduled cycles")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sc := a.cfg.Server
	server := api.NewServer(api.ServerConfig{
		Host:           sc.Host,
		Port:           sc.Port,
		ProductionMode: sc.ProductionMode,
		Token:          sc.APIToken,
	}, a.engine, a.metrics.Handler(), a.log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	if !serveNoCycle {
		go a.cycleLoop(ctx, sc.CycleIntervalDuration(), sc.SignalsFile, sc.QuotesFile)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// cycleLoop runs a cycle now and then on every tick until ctx ends. A
// failed cycle is logged and the next tick tries again.
func (a *app) cycleLoop(ctx context.Context, every time.Duration, signalsPath, quotesPath string) {
	log := a.log.WithFields(logrus.Fields{"every": every.String(), "signals": signalsPath, "quotes": quotesPath})
	log.Info("cycle scheduler started")

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		a.scheduledCycle(ctx, signalsPath, quotesPath)
		select {
		case <-ctx.Done():
			log.Info("cycle scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (a *app) scheduledCycle(ctx context.Context, signalsPath, quotesPath string) {
	batch, err := loadBatch(ctx, signalsPath, quotesPath)
	if err != nil {
		a.log.WithError(err).Error("cycle input not loaded")
		return
	}
	if _, err := a.engine.RunCycle(ctx, batch); err != nil {
		var cerr *engine.CycleError
		if errors.As(err, &cerr) {
			a.log.WithField("op", cerr.Op).Debug("cycle will be retried on the next tick")
		}
	}
}
