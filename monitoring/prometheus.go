package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"votor/logx"
)

type VoteRejectedReason string

var (
	VoteInvalidSignature VoteRejectedReason = "invalid_signature"
	VoteUnknownVoter     VoteRejectedReason = "unknown_voter"
	VoteEquivocation     VoteRejectedReason = "equivocation"
	VoteSlotOutOfRange   VoteRejectedReason = "slot_out_of_range"
	VoteDuplicated       VoteRejectedReason = "duplicated"
)

type votorPromMetrics struct {
	nodeUpUnixSeconds  prometheus.Gauge
	finalizedSlot      prometheus.Gauge
	skippedSlotCount   prometheus.Counter
	timeToFinality     prometheus.Histogram
	votesReceived      *prometheus.CounterVec
	votesRejected      *prometheus.CounterVec
	certsCreated       *prometheus.CounterVec
	equivocationCount  prometheus.Counter
	currentView        prometheus.Gauge
	timeoutFiredCount  prometheus.Counter
	peerCount          prometheus.Gauge
	panicCount         prometheus.Counter
}

var metrics = newVotorPromMetrics()

func newVotorPromMetrics() *votorPromMetrics {
	return &votorPromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "votor_node_up_unix_seconds",
			Help: "Unix timestamp at which the node came up",
		}),
		finalizedSlot: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "votor_finalized_slot",
			Help: "Highest finalized slot observed locally",
		}),
		skippedSlotCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "votor_skipped_slot_total",
			Help: "Number of slots that ended skipped",
		}),
		timeToFinality: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "votor_time_to_finality_seconds",
			Help:    "Delay between block delivery and finalization",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		votesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "votor_votes_received_total",
			Help: "Votes accepted into the pool, by vote type",
		}, []string{"type"}),
		votesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "votor_votes_rejected_total",
			Help: "Votes rejected at the pool boundary, by reason",
		}, []string{"reason"}),
		certsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "votor_certificates_created_total",
			Help: "Certificates aggregated locally, by certificate type",
		}, []string{"type"}),
		equivocationCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "votor_equivocation_evidence_total",
			Help: "Equivocating votes surfaced as slashing evidence",
		}),
		currentView: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "votor_current_view",
			Help: "View number of the current leader window",
		}),
		timeoutFiredCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "votor_timeout_fired_total",
			Help: "Per-window timeouts that expired without progress",
		}),
		peerCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "votor_peer_count",
			Help: "Connected gossip peers",
		}),
		panicCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "votor_panic_total",
			Help: "Recovered panics in background goroutines",
		}),
	}
}

func RecordVoteReceived(voteType string) {
	metrics.votesReceived.WithLabelValues(voteType).Inc()
}

func RecordVoteRejected(reason VoteRejectedReason) {
	metrics.votesRejected.WithLabelValues(string(reason)).Inc()
}

func RecordCertCreated(certType string) {
	metrics.certsCreated.WithLabelValues(certType).Inc()
}

func SetFinalizedSlot(slot uint64) {
	metrics.finalizedSlot.Set(float64(slot))
}

func IncreaseSkippedSlotCount() {
	metrics.skippedSlotCount.Inc()
}

func ObserveTimeToFinality(d time.Duration) {
	metrics.timeToFinality.Observe(d.Seconds())
}

func IncreaseEquivocationCount() {
	metrics.equivocationCount.Inc()
}

func SetCurrentView(view uint64) {
	metrics.currentView.Set(float64(view))
}

func IncreaseTimeoutFiredCount() {
	metrics.timeoutFiredCount.Inc()
}

func SetPeerCount(count int) {
	metrics.peerCount.Set(float64(count))
}

func IncreasePanicCount() {
	metrics.panicCount.Inc()
}

// StartMetricsServer exposes /metrics on addr. Blocking, run under SafeGo.
func StartMetricsServer(addr string) {
	metrics.nodeUpUnixSeconds.Set(float64(time.Now().Unix()))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logx.Info("MONITORING", "Serving metrics on ", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logx.Error("MONITORING", "Metrics server stopped: ", err)
	}
}
