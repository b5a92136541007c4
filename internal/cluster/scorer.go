// Package cluster decides session boundaries for incoming tab snapshots.
// The scorer is a weighted rule-based boundary detector: each firing signal
// contributes its configured weight, and a total at or above the promotion
// threshold starts a new session.
package cluster

import (
	"time"

	"github.com/tabrecall/tabrecall/internal/config"
)

// Session modes.
const (
	ModeStrict = "strict"
	ModeLoose  = "loose"
)

// Signal names reported in a Decision.
const (
	SignalSemanticShift   = "semantic_shift"
	SignalMajorityChanged = "majority_changed"
	SignalIdleGap         = "idle_gap"
	SignalWindowChanged   = "window_changed"
	SignalStableCandidate = "stable_candidate"
)

// Weights is the boundary-detector weight table.
type Weights struct {
	SemanticShift   int
	MajorityChanged int
	IdleGap         int
	WindowChanged   int
	StableCandidate int

	PromotionThreshold  int
	SimilarityThreshold float64
	IdleLimit           time.Duration
}

// DefaultWeights returns the standard weight table.
func DefaultWeights() Weights {
	return Weights{
		SemanticShift:       3,
		MajorityChanged:     2,
		IdleGap:             1,
		WindowChanged:       3,
		StableCandidate:     2,
		PromotionThreshold:  5,
		SimilarityThreshold: 0.6,
		IdleLimit:           20 * time.Minute,
	}
}

// WeightsFromConfig maps the clustering config section onto a weight table.
func WeightsFromConfig(c config.ClusteringConfig) Weights {
	return Weights{
		SemanticShift:       c.SemanticShiftWeight,
		MajorityChanged:     c.MajorityChangedWeight,
		IdleGap:             c.IdleGapWeight,
		WindowChanged:       c.WindowChangedWeight,
		StableCandidate:     c.StableCandidateWeight,
		PromotionThreshold:  c.PromotionThreshold,
		SimilarityThreshold: c.SimilarityThreshold,
		IdleLimit:           c.IdleLimit(),
	}
}

// TabState is one open tab inside a snapshot.
type TabState struct {
	TabID  int
	URL    string
	Title  string
	Pinned bool
}

// Snapshot is the set of open tabs in one window at a point in time.
// CandidateStreak counts how many consecutive snapshots the candidate new
// grouping has persisted for; CandidateTabs is the number of tabs in that
// grouping. Both are evidence of stability rather than noise.
type Snapshot struct {
	WindowID        int
	TakenAt         time.Time
	Tabs            []TabState
	CandidateStreak int
	CandidateTabs   int
}

// Titles returns the tab titles of the snapshot.
func (s Snapshot) Titles() []string {
	out := make([]string, len(s.Tabs))
	for i, t := range s.Tabs {
		out[i] = t.Title
	}
	return out
}

// Decision is the scorer's verdict for one snapshot.
type Decision struct {
	NewSession bool
	Score      int
	Signals    []string
}

// Scorer evaluates snapshots against the weight table. It is pure and
// deterministic given its inputs; the similarity function is the only
// pluggable part.
type Scorer struct {
	weights    Weights
	similarity Similarity
}

// NewScorer builds a Scorer. A nil similarity falls back to TokenOverlap.
func NewScorer(w Weights, sim Similarity) *Scorer {
	if sim == nil {
		sim = TokenOverlap
	}
	return &Scorer{weights: w, similarity: sim}
}

// Decide reports whether next starts a new session relative to prev.
// A nil prev (first-ever snapshot for the user) always starts a new session.
// In strict mode the window id decides alone: a matching window forces a
// merge regardless of score, a mismatch forces a boundary.
func (s *Scorer) Decide(mode string, prev *Snapshot, next Snapshot) Decision {
	if prev == nil {
		return Decision{NewSession: true}
	}

	if mode == ModeStrict {
		return Decision{NewSession: prev.WindowID != next.WindowID}
	}

	var score int
	var signals []string

	if s.similarity(prev.Titles(), next.Titles()) < s.weights.SimilarityThreshold {
		score += s.weights.SemanticShift
		signals = append(signals, SignalSemanticShift)
	}

	if majorityChanged(prev.Tabs, next.Tabs) {
		score += s.weights.MajorityChanged
		signals = append(signals, SignalMajorityChanged)
	}

	if next.TakenAt.Sub(prev.TakenAt) > s.weights.IdleLimit {
		score += s.weights.IdleGap
		signals = append(signals, SignalIdleGap)
	}

	if prev.WindowID != next.WindowID {
		score += s.weights.WindowChanged
		signals = append(signals, SignalWindowChanged)
	}

	if next.CandidateStreak > 2 || next.CandidateTabs > 3 {
		score += s.weights.StableCandidate
		signals = append(signals, SignalStableCandidate)
	}

	return Decision{
		NewSession: score >= s.weights.PromotionThreshold,
		Score:      score,
		Signals:    signals,
	}
}

// majorityChanged reports whether more than half of the tabs in next are not
// present in prev, keyed by URL.
func majorityChanged(prev, next []TabState) bool {
	if len(next) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(prev))
	for _, t := range prev {
		seen[t.URL] = struct{}{}
	}
	changed := 0
	for _, t := range next {
		if _, ok := seen[t.URL]; !ok {
			changed++
		}
	}
	return float64(changed)/float64(len(next)) > 0.5
}
