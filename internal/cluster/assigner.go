package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tabrecall/tabrecall/internal/event"
	"github.com/tabrecall/tabrecall/internal/storage"
)

// AssignerStore is the slice of the storage layer the assigner needs.
type AssignerStore interface {
	CreateSession(ctx context.Context, s *storage.Session) error
	TouchSession(ctx context.Context, id string, lastActive time.Time) error
	UpsertTab(ctx context.Context, t *storage.Tab) error
}

// Assigner folds accepted events into sessions: it reconstructs the open-tab
// snapshot per user, asks the scorer whether each event crosses a session
// boundary, and persists the resulting sessions and tabs.
type Assigner struct {
	store AssignerStore

	mu     sync.Mutex
	scorer *Scorer
	mode   string
	users  map[int64]*userState
}

// userState is the per-user snapshot reconstruction state.
type userState struct {
	tabs      map[int]trackedTab // by browser tab id
	prev      *Snapshot
	sessionID string
	streak    int
}

type trackedTab struct {
	windowID int
	state    TabState
}

// NewAssigner creates an Assigner using the given scorer and session mode.
func NewAssigner(store AssignerStore, scorer *Scorer, mode string) *Assigner {
	return &Assigner{
		store:  store,
		scorer: scorer,
		mode:   mode,
		users:  make(map[int64]*userState),
	}
}

// SetWeights swaps the weight table, keeping the similarity strategy. Used
// for config hot-reload.
func (a *Assigner) SetWeights(w Weights) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scorer = NewScorer(w, a.scorer.similarity)
}

// Assignment reports what happened to one event.
type Assignment struct {
	SessionID  string
	NewSession bool
	Score      int
}

// Apply folds one event into the user's session state. Events must arrive in
// timestamp order per user (the ingestion path guarantees this).
func (a *Assigner) Apply(ctx context.Context, ev storage.StoredEvent) (*Assignment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.users[ev.UserID]
	if !ok {
		state = &userState{tabs: make(map[int]trackedTab)}
		a.users[ev.UserID] = state
	}

	switch ev.Type {
	case event.TypeClose:
		delete(state.tabs, ev.TabID)
	default:
		state.tabs[ev.TabID] = trackedTab{
			windowID: ev.WindowID,
			state:    TabState{TabID: ev.TabID, URL: ev.URL, Title: ev.Title},
		}
	}

	next := state.snapshot(ev.WindowID, ev.Timestamp)

	// First-ever activity for this user: always a new session.
	if state.prev == nil {
		sess, err := a.openSession(ctx, ev, next, 0.5)
		if err != nil {
			return nil, err
		}
		state.sessionID = sess.ID
		state.prev = &next
		return &Assignment{SessionID: sess.ID, NewSession: true}, nil
	}

	decision := a.scorer.Decide(a.mode, state.prev, next)

	if decision.NewSession {
		confidence := promotionConfidence(decision.Score, a.scorer.weights.PromotionThreshold)
		sess, err := a.openSession(ctx, ev, next, confidence)
		if err != nil {
			return nil, err
		}
		state.sessionID = sess.ID
		state.streak = 0
	} else {
		if err := a.store.TouchSession(ctx, state.sessionID, ev.Timestamp); err != nil {
			return nil, fmt.Errorf("extend session: %w", err)
		}
		if err := a.syncTabs(ctx, state.sessionID, next, ev.Timestamp); err != nil {
			return nil, err
		}
		if decision.Score > 0 {
			state.streak++
		} else {
			state.streak = 0
		}
	}

	state.prev = &next
	return &Assignment{
		SessionID:  state.sessionID,
		NewSession: decision.NewSession,
		Score:      decision.Score,
	}, nil
}

// snapshot builds the current snapshot for one window, carrying the
// candidate-stability counters.
func (s *userState) snapshot(windowID int, takenAt time.Time) Snapshot {
	snap := Snapshot{
		WindowID:        windowID,
		TakenAt:         takenAt,
		CandidateStreak: s.streak,
	}
	for _, t := range s.tabs {
		if t.windowID == windowID {
			snap.Tabs = append(snap.Tabs, t.state)
		}
	}
	// Map iteration order is random; keep snapshots and tab order indexes
	// stable.
	sort.Slice(snap.Tabs, func(i, j int) bool { return snap.Tabs[i].TabID < snap.Tabs[j].TabID })
	if s.prev != nil {
		snap.CandidateTabs = countNewTabs(s.prev.Tabs, snap.Tabs)
	}
	return snap
}

// countNewTabs counts tabs in next whose URL is absent from prev.
func countNewTabs(prev, next []TabState) int {
	seen := make(map[string]struct{}, len(prev))
	for _, t := range prev {
		seen[t.URL] = struct{}{}
	}
	n := 0
	for _, t := range next {
		if _, ok := seen[t.URL]; !ok {
			n++
		}
	}
	return n
}

// openSession creates a session anchored at the triggering event and
// persists the snapshot's tabs.
func (a *Assigner) openSession(ctx context.Context, ev storage.StoredEvent, snap Snapshot, confidence float64) (*storage.Session, error) {
	sess := &storage.Session{
		UserID:       ev.UserID,
		Title:        sessionTitle(ev, snap),
		Confidence:   confidence,
		StartedAt:    ev.Timestamp,
		LastActiveAt: ev.Timestamp,
		Mode:         a.mode,
	}
	if err := a.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := a.syncTabs(ctx, sess.ID, snap, ev.Timestamp); err != nil {
		return nil, err
	}
	return sess, nil
}

// syncTabs upserts every tab of the snapshot into the session.
func (a *Assigner) syncTabs(ctx context.Context, sessionID string, snap Snapshot, seenAt time.Time) error {
	for _, t := range snap.Tabs {
		tab := &storage.Tab{
			SessionID:  sessionID,
			URL:        t.URL,
			Title:      t.Title,
			Pinned:     t.Pinned,
			LastSeenAt: seenAt,
		}
		if err := a.store.UpsertTab(ctx, tab); err != nil {
			return fmt.Errorf("upsert tab %s: %w", t.URL, err)
		}
	}
	return nil
}

// sessionTitle picks a human-readable title: the triggering tab's title
// when it has one, otherwise the first tab of the snapshot.
func sessionTitle(ev storage.StoredEvent, snap Snapshot) string {
	if ev.Title != "" && ev.Title != event.PlaceholderTitle {
		return ev.Title
	}
	for _, t := range snap.Tabs {
		if t.Title != "" {
			return t.Title
		}
	}
	return event.PlaceholderTitle
}

// promotionConfidence maps a boundary score onto [0.75, 1]: meeting the
// threshold starts at 0.75 and the surplus asymptotically approaches 1.
// Strict-mode boundaries carry no score and get the baseline confidence.
func promotionConfidence(score, threshold int) float64 {
	if score <= 0 || threshold <= 0 {
		return 0.75
	}
	c := 0.75 + 0.25*float64(score-threshold)/float64(score)
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}
