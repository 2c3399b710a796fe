package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for identity resolution and verification.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TokensIssued      *prometheus.CounterVec
	TokensVerified    *prometheus.CounterVec
	CandidateSearches prometheus.Counter
	CandidatesFound   prometheus.Histogram
	Suggestions       *prometheus.CounterVec
	AutoLinks         *prometheus.CounterVec
	Merges            *prometheus.CounterVec
	AuditArchives     *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_tokens_issued_total",
			Help: "Verification tokens issued, by type",
		}, []string{"type"}),
		TokensVerified: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_tokens_verified_total",
			Help: "Verification attempts, by type and outcome",
		}, []string{"type", "outcome"}),
		CandidateSearches: f.NewCounter(prometheus.CounterOpts{
			Name: "identity_candidate_searches_total",
			Help: "Candidate searches performed",
		}),
		CandidatesFound: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_candidates_found",
			Help:    "Number of candidates returned per search",
			Buckets: []float64{0, 1, 2, 3, 5},
		}),
		Suggestions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_link_suggestions_total",
			Help: "Linking suggestions computed, by whether a link was suggested",
		}, []string{"suggested"}),
		AutoLinks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_auto_links_total",
			Help: "Unattended linking attempts, by outcome",
		}, []string{"outcome"}),
		Merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_merges_total",
			Help: "Account merges, by mode and outcome",
		}, []string{"mode", "outcome"}),
		AuditArchives: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_merge_audit_archives_total",
			Help: "Merge audit snapshots written, by outcome",
		}, []string{"outcome"}),
	}
}

// TokenIssued records a token issuance.
func (m *Metrics) TokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(tokenType).Inc()
}

// TokenVerified records the outcome of a verification attempt.
func (m *Metrics) TokenVerified(tokenType, outcome string) {
	if m == nil {
		return
	}
	m.TokensVerified.WithLabelValues(tokenType, outcome).Inc()
}

// CandidateSearch records one search and the number of candidates it returned.
func (m *Metrics) CandidateSearch(found int) {
	if m == nil {
		return
	}
	m.CandidateSearches.Inc()
	m.CandidatesFound.Observe(float64(found))
}

// Suggestion records whether a linking suggestion was shown.
func (m *Metrics) Suggestion(suggested bool) {
	if m == nil {
		return
	}
	m.Suggestions.WithLabelValues(boolLabel(suggested)).Inc()
}

// AutoLink records an unattended linking outcome.
func (m *Metrics) AutoLink(outcome string) {
	if m == nil {
		return
	}
	m.AutoLinks.WithLabelValues(outcome).Inc()
}

// Merge records a merge outcome. mode is "collapse" or "group".
func (m *Metrics) Merge(mode, outcome string) {
	if m == nil {
		return
	}
	m.Merges.WithLabelValues(mode, outcome).Inc()
}

// AuditArchive records whether a merge snapshot was archived.
func (m *Metrics) AuditArchive(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.AuditArchives.WithLabelValues(outcome).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
