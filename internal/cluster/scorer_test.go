package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabrecall/tabrecall/internal/config"
)

func tabs(urls ...string) []TabState {
	out := make([]TabState, len(urls))
	for i, u := range urls {
		out[i] = TabState{TabID: i + 1, URL: u, Title: u}
	}
	return out
}

// fixedSimilarity returns a stub strategy with a constant score.
func fixedSimilarity(score float64) Similarity {
	return func(prev, next []string) float64 { return score }
}

func TestDecide_FirstSnapshotStartsSession(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)

	d := s.Decide(ModeLoose, nil, Snapshot{WindowID: 1, Tabs: tabs("https://a.com")})
	assert.True(t, d.NewSession)
}

func TestDecide_Deterministic(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	prev := Snapshot{WindowID: 1, TakenAt: base, Tabs: tabs("https://a.com", "https://b.com")}
	next := Snapshot{WindowID: 2, TakenAt: base.Add(30 * time.Minute), Tabs: tabs("https://c.com")}

	first := s.Decide(ModeLoose, &prev, next)
	for i := 0; i < 5; i++ {
		again := s.Decide(ModeLoose, &prev, next)
		assert.Equal(t, first, again)
	}
}

// Previous session has tabs {A,B,C} from window 1, 10 minutes idle; new
// snapshot has {A,B} from window 1. Nothing fires: merge.
func TestDecide_SubsetSameWindowMerges(t *testing.T) {
	s := NewScorer(DefaultWeights(), fixedSimilarity(0.9))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	prev := Snapshot{
		WindowID: 1,
		TakenAt:  base,
		Tabs:     tabs("https://a.com", "https://b.com", "https://c.com"),
	}
	next := Snapshot{
		WindowID: 1,
		TakenAt:  base.Add(10 * time.Minute),
		Tabs:     tabs("https://a.com", "https://b.com"),
	}

	d := s.Decide(ModeLoose, &prev, next)
	assert.False(t, d.NewSession)
	assert.Equal(t, 0, d.Score)
	assert.Empty(t, d.Signals)
}

// Window 1 -> window 2 with title similarity 0.4:
// window_changed(3) + semantic_shift(3) = 6 >= 5 -> new session.
func TestDecide_WindowChangePlusSemanticShiftPromotes(t *testing.T) {
	s := NewScorer(DefaultWeights(), fixedSimilarity(0.4))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	prev := Snapshot{
		WindowID: 1,
		TakenAt:  base,
		Tabs:     tabs("https://a.com", "https://b.com"),
	}
	next := Snapshot{
		WindowID: 2,
		TakenAt:  base.Add(5 * time.Minute),
		Tabs:     tabs("https://a.com", "https://b.com"),
	}

	d := s.Decide(ModeLoose, &prev, next)
	assert.True(t, d.NewSession)
	assert.Equal(t, 6, d.Score)
	assert.ElementsMatch(t, []string{SignalSemanticShift, SignalWindowChanged}, d.Signals)
}

// Strict mode: window unchanged but all five tabs replaced and similarity
// high. The window match forces a merge despite the turnover.
func TestDecide_StrictModeWindowMatchForcesMerge(t *testing.T) {
	s := NewScorer(DefaultWeights(), fixedSimilarity(0.9))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	prev := Snapshot{
		WindowID: 1,
		TakenAt:  base,
		Tabs:     tabs("https://1.com", "https://2.com", "https://3.com", "https://4.com", "https://5.com"),
	}
	next := Snapshot{
		WindowID: 1,
		TakenAt:  base.Add(5 * time.Minute),
		Tabs:     tabs("https://6.com", "https://7.com", "https://8.com", "https://9.com", "https://10.com"),
	}

	d := s.Decide(ModeStrict, &prev, next)
	assert.False(t, d.NewSession)
}

func TestDecide_StrictModeWindowMismatchForcesBoundary(t *testing.T) {
	s := NewScorer(DefaultWeights(), fixedSimilarity(1.0))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	prev := Snapshot{WindowID: 1, TakenAt: base, Tabs: tabs("https://a.com")}
	next := Snapshot{WindowID: 2, TakenAt: base.Add(time.Minute), Tabs: tabs("https://a.com")}

	d := s.Decide(ModeStrict, &prev, next)
	assert.True(t, d.NewSession)
}

func TestDecide_IdleGapSignal(t *testing.T) {
	s := NewScorer(DefaultWeights(), fixedSimilarity(0.9))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	prev := Snapshot{WindowID: 1, TakenAt: base, Tabs: tabs("https://a.com")}
	next := Snapshot{WindowID: 1, TakenAt: base.Add(25 * time.Minute), Tabs: tabs("https://a.com")}

	d := s.Decide(ModeLoose, &prev, next)
	assert.False(t, d.NewSession, "idle gap alone scores 1, below threshold")
	assert.Equal(t, 1, d.Score)
	assert.Equal(t, []string{SignalIdleGap}, d.Signals)
}

func TestDecide_MajorityChangedSignal(t *testing.T) {
	s := NewScorer(DefaultWeights(), fixedSimilarity(0.9))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	prev := Snapshot{WindowID: 1, TakenAt: base, Tabs: tabs("https://a.com", "https://b.com", "https://c.com")}
	next := Snapshot{
		WindowID: 1,
		TakenAt:  base.Add(time.Minute),
		Tabs:     tabs("https://x.com", "https://y.com", "https://a.com"),
	}

	d := s.Decide(ModeLoose, &prev, next)
	assert.Equal(t, 2, d.Score)
	assert.Equal(t, []string{SignalMajorityChanged}, d.Signals)
}

func TestDecide_StableCandidateSignal(t *testing.T) {
	s := NewScorer(DefaultWeights(), fixedSimilarity(0.9))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	prev := Snapshot{WindowID: 1, TakenAt: base, Tabs: tabs("https://a.com")}

	next := Snapshot{WindowID: 1, TakenAt: base.Add(time.Minute), Tabs: tabs("https://a.com"), CandidateStreak: 3}
	d := s.Decide(ModeLoose, &prev, next)
	assert.Equal(t, []string{SignalStableCandidate}, d.Signals)

	next = Snapshot{WindowID: 1, TakenAt: base.Add(time.Minute), Tabs: tabs("https://a.com"), CandidateTabs: 4}
	d = s.Decide(ModeLoose, &prev, next)
	assert.Equal(t, []string{SignalStableCandidate}, d.Signals)

	next = Snapshot{WindowID: 1, TakenAt: base.Add(time.Minute), Tabs: tabs("https://a.com"), CandidateStreak: 2, CandidateTabs: 3}
	d = s.Decide(ModeLoose, &prev, next)
	assert.Empty(t, d.Signals)
}

func TestDecide_AllSignalsSum(t *testing.T) {
	s := NewScorer(DefaultWeights(), fixedSimilarity(0.1))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	prev := Snapshot{WindowID: 1, TakenAt: base, Tabs: tabs("https://a.com", "https://b.com")}
	next := Snapshot{
		WindowID:        2,
		TakenAt:         base.Add(time.Hour),
		Tabs:            tabs("https://x.com", "https://y.com"),
		CandidateStreak: 5,
	}

	d := s.Decide(ModeLoose, &prev, next)
	assert.True(t, d.NewSession)
	assert.Equal(t, 3+2+1+3+2, d.Score)
	assert.Len(t, d.Signals, 5)
}

func TestMajorityChanged(t *testing.T) {
	a := tabs("https://a.com", "https://b.com", "https://c.com")

	assert.False(t, majorityChanged(a, tabs("https://a.com", "https://b.com")))
	assert.False(t, majorityChanged(a, nil))
	assert.True(t, majorityChanged(a, tabs("https://x.com", "https://y.com", "https://a.com")))
	assert.True(t, majorityChanged(nil, tabs("https://a.com")))
}

func TestWeightsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	w := WeightsFromConfig(cfg.Clustering)

	require.Equal(t, DefaultWeights(), w)
	assert.Equal(t, 20*time.Minute, w.IdleLimit)
}

func TestTokenOverlap(t *testing.T) {
	assert.Equal(t, 1.0, TokenOverlap(nil, nil))
	assert.Equal(t, 0.0, TokenOverlap([]string{"golang docs"}, nil))
	assert.Equal(t, 1.0, TokenOverlap([]string{"Golang Docs"}, []string{"golang docs"}))

	// Half overlap: {golang, docs} vs {golang, blog} -> 1/3
	got := TokenOverlap([]string{"golang docs"}, []string{"golang blog"})
	assert.InDelta(t, 1.0/3.0, got, 1e-9)

	// Punctuation and single chars are stripped
	assert.Equal(t, 1.0, TokenOverlap([]string{"news: today!"}, []string{"(news) today"}))
}
