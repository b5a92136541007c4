package storage

import "time"

// User is a registered account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// AuthToken is an issued access/refresh token pair. Only hashes are stored.
type AuthToken struct {
	TokenHash   string
	RefreshHash string
	UserID      int64
	ExpiresAt   time.Time
}

// Session is an inferred contiguous block of browsing activity.
// LastActiveAt is always >= StartedAt. Confidence is derived, not
// authoritative: a later summarization pass may revise it.
type Session struct {
	ID            string    `json:"id"`
	UserID        int64     `json:"user_id"`
	Title         string    `json:"title"`
	Summary       string    `json:"summary,omitempty"`
	Confidence    float64   `json:"confidence"`
	StartedAt     time.Time `json:"started_at"`
	LastActiveAt  time.Time `json:"last_active_at"`
	ScreenshotRef string    `json:"screenshot_ref,omitempty"`
	Mode          string    `json:"mode"`
}

// Tab is a member of a session. (SessionID, OrderIdx) is unique.
type Tab struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Pinned      bool      `json:"pinned"`
	OrderIdx    int       `json:"order_idx"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// StoredEvent is a persisted tab-activity event. ClientID is the id the
// agent generated locally; it is unique so a re-sent batch inserts cleanly.
type StoredEvent struct {
	ID        int64
	ClientID  string
	UserID    int64
	WindowID  int
	TabID     int
	Type      string
	Title     string
	URL       string
	Timestamp time.Time
}

// Vector is an embedding owned by a session, tab, or query.
type Vector struct {
	ID         int64
	OwnerType  string // "session", "tab", "query"
	OwnerID    string
	Model      string
	Dimensions int
	Embedding  []float64
}

// SessionQuery defines filters for listing sessions.
type SessionQuery struct {
	UserID int64
	Mode   string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Stats holds aggregate statistics about the database.
type Stats struct {
	TotalUsers    int64
	TotalSessions int64
	TotalTabs     int64
	TotalEvents   int64
	OldestEvent   time.Time
	NewestEvent   time.Time
}
