package httpapi

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"chainsettle/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var weiPerGwei = new(big.Float).SetInt64(1_000_000_000)

// Metrics owns a private registry and implements application.Observer.
type Metrics struct {
	registry *prometheus.Registry

	gasBid         *prometheus.GaugeVec
	rewardLegs     *prometheus.CounterVec
	rewardLatency  *prometheus.HistogramVec
	verifications  *prometheus.CounterVec
	verifyLatency  *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	welcomeBonuses *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		gasBid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chainsettle",
			Subsystem: "gas",
			Name:      "last_bid_gwei",
			Help:      "Last gas price bid per network",
		}, []string{"network"}),
		rewardLegs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainsettle",
			Subsystem: "rewards",
			Name:      "legs_total",
			Help:      "Reward asset legs by final status",
		}, []string{"network", "symbol", "status"}),
		rewardLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chainsettle",
			Subsystem: "rewards",
			Name:      "leg_duration_seconds",
			Help:      "Time from nonce lookup to confirmation or give-up",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}, []string{"network", "symbol"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainsettle",
			Subsystem: "purchases",
			Name:      "verifications_total",
			Help:      "Purchase verifications by outcome",
		}, []string{"network", "asset", "outcome"}),
		verifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chainsettle",
			Subsystem: "purchases",
			Name:      "verification_duration_seconds",
			Help:      "Purchase verification duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"network"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainsettle",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		welcomeBonuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainsettle",
			Subsystem: "rewards",
			Name:      "welcome_bonus_failures_total",
			Help:      "Detached welcome bonuses that did not fully confirm",
		}, []string{"network"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.gasBid,
		m.rewardLegs,
		m.rewardLatency,
		m.verifications,
		m.verifyLatency,
		m.httpRequests,
		m.welcomeBonuses,
	)
	return m
}

func (m *Metrics) OnGasBid(network domain.NetworkID, bidWei *big.Int) {
	if bidWei == nil {
		return
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(bidWei), weiPerGwei).Float64()
	m.gasBid.WithLabelValues(string(network)).Set(gwei)
}

func (m *Metrics) OnRewardLeg(network domain.NetworkID, symbol string, status domain.OutcomeStatus, elapsed time.Duration) {
	m.rewardLegs.WithLabelValues(string(network), symbol, string(status)).Inc()
	m.rewardLatency.WithLabelValues(string(network), symbol).Observe(elapsed.Seconds())
}

func (m *Metrics) OnPurchaseVerification(network domain.NetworkID, asset domain.AssetType, outcome string, elapsed time.Duration) {
	m.verifications.WithLabelValues(string(network), string(asset), outcome).Inc()
	m.verifyLatency.WithLabelValues(string(network)).Observe(elapsed.Seconds())
}

func (m *Metrics) OnWelcomeBonusFailure(network domain.NetworkID) {
	m.welcomeBonuses.WithLabelValues(string(network)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument counts requests per route. Routes are fixed strings so label
// cardinality stays bounded.
func (m *Metrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
