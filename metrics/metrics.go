// Package metrics exports pipeline counters and gauges to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rustyeddy/pmtrader/lock"
	"github.com/rustyeddy/pmtrader/market"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/risk"
	"github.com/shopspring/decimal"
)

// Collector owns its registry so several engines (and tests) never
// collide on the global one.
type Collector struct {
	reg *prometheus.Registry

	decisions     *prometheus.CounterVec
	opened        prometheus.Counter
	settled       *prometheus.CounterVec
	losses        prometheus.Counter
	positionSize  prometheus.Histogram
	balance       prometheus.Gauge
	drawdown      prometheus.Gauge
	dailyLoss     prometheus.Gauge
	lossStreak    prometheus.Gauge
	breaker       *prometheus.GaugeVec
	openPositions prometheus.Gauge
	exposure      prometheus.Gauge
	cycles        *prometheus.CounterVec
	cycleSeconds  prometheus.Histogram
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pmtrader_signal_decisions_total",
			Help: "Signals evaluated, by decision reason (OK = approved)",
		}, []string{"reason"}),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pmtrader_positions_opened_total",
			Help: "Positions opened",
		}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pmtrader_positions_settled_total",
			Help: "Positions settled, by close reason",
		}, []string{"reason"}),
		losses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pmtrader_settlements_losing_total",
			Help: "Settlements with negative realized pnl",
		}),
		positionSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pmtrader_position_size_usd",
			Help:    "Distribution of opened position sizes",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 25, 50, 100},
		}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pmtrader_balance_usd",
			Help: "Account balance",
		}),
		drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pmtrader_drawdown_pct",
			Help: "Drawdown from peak balance in percent",
		}),
		dailyLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pmtrader_daily_loss_usd",
			Help: "Losses booked since the last day rollover",
		}),
		lossStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pmtrader_consecutive_losses",
			Help: "Current losing streak",
		}),
		breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pmtrader_breaker_state",
			Help: "1 for the current circuit breaker state",
		}, []string{"state"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pmtrader_open_positions",
			Help: "Open positions",
		}),
		exposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pmtrader_open_exposure_usd",
			Help: "Capital committed to open positions",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pmtrader_cycles_total",
			Help: "Trading cycles, by outcome",
		}, []string{"outcome"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pmtrader_cycle_seconds",
			Help:    "Cycle duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
	c.reg.MustRegister(c.decisions, c.opened, c.settled, c.losses, c.positionSize,
		c.balance, c.drawdown, c.dailyLoss, c.lossStreak, c.breaker,
		c.openPositions, c.exposure, c.cycles, c.cycleSeconds)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) Decision(_ market.Signal, reason risk.Reason) {
	c.decisions.WithLabelValues(string(reason)).Inc()
}

func (c *Collector) Opened(p position.Position) {
	c.opened.Inc()
	size, _ := p.SizeUSD.Float64()
	c.positionSize.Observe(size)
}

func (c *Collector) Settled(p position.Position) {
	c.settled.WithLabelValues(string(p.CloseReason)).Inc()
	if p.PnL().IsNegative() {
		c.losses.Inc()
	}
}

func (c *Collector) StateChanged(s risk.State, b risk.BreakerState, open int, exposure decimal.Decimal) {
	c.balance.Set(f(s.Balance))
	c.drawdown.Set(f(s.DrawdownPct()))
	c.dailyLoss.Set(f(s.DailyLoss))
	c.lossStreak.Set(float64(s.ConsecutiveLosses))
	for _, st := range []risk.BreakerState{risk.Armed, risk.Cooldown, risk.Halted} {
		v := 0.0
		if st == b {
			v = 1
		}
		c.breaker.WithLabelValues(string(st)).Set(v)
	}
	c.openPositions.Set(float64(open))
	c.exposure.Set(f(exposure))
}

func (c *Collector) Cycle(elapsed time.Duration, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, lock.ErrTimeout):
		outcome = "lock_timeout"
	case err != nil:
		outcome = "error"
	}
	c.cycles.WithLabelValues(outcome).Inc()
	c.cycleSeconds.Observe(elapsed.Seconds())
}

func f(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}
