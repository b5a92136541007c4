package event

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Activity types emitted by the browser extension.
const (
	TypeOpen     = "open"
	TypeUpdate   = "update"
	TypeActivate = "activate"
	TypeClose    = "close"
)

const (
	// MaxTitleLen is the longest title stored; longer titles are truncated.
	MaxTitleLen = 1000
	// MaxURLLen is the longest URL accepted; longer URLs are rejected.
	MaxURLLen = 2048

	// PlaceholderTitle is used when the extension reports no title.
	PlaceholderTitle = "Untitled"
)

// Event is one observed tab-activity fact. Immutable once created; the only
// lifecycle transition is pending -> synced, tracked by presence in the local
// store rather than a field.
type Event struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id,omitempty"`
	WindowID  int       `json:"window_id"`
	TabID     int       `json:"tab_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"ts"`
}

// RawActivity is what the extension reports before validation.
type RawActivity struct {
	WindowID  int       `json:"window_id"`
	TabID     int       `json:"tab_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"ts"`
}

// ValidationError reports why a raw activity was rejected at the boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid activity: %s: %s", e.Field, e.Reason)
}

// DefaultIgnoredSchemes lists URL schemes and prefixes that never become
// events: internal browser pages, extension pages, and inline URIs.
func DefaultIgnoredSchemes() []string {
	return []string{
		"chrome://",
		"chrome-extension://",
		"edge://",
		"brave://",
		"opera://",
		"vivaldi://",
		"about:",
		"devtools://",
		"view-source:",
		"data:",
		"javascript:",
		"blob:",
		"file://",
	}
}

// Validator turns raw tab activity into canonical Events. It is pure: no
// side effects, deterministic apart from generated ids.
type Validator struct {
	ignored []string
}

// NewValidator builds a Validator with the given ignored scheme prefixes.
// Pass nil to use DefaultIgnoredSchemes.
func NewValidator(ignored []string) *Validator {
	if ignored == nil {
		ignored = DefaultIgnoredSchemes()
	}
	return &Validator{ignored: ignored}
}

// Ignored reports whether a URL matches the ignore-list of internal schemes.
func (v *Validator) Ignored(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	for _, prefix := range v.ignored {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate normalizes a raw activity into an Event or returns a
// ValidationError. Sensitive query parameters are redacted before the event
// exists anywhere.
func (v *Validator) Validate(raw RawActivity) (*Event, error) {
	switch raw.Type {
	case TypeOpen, TypeUpdate, TypeActivate, TypeClose:
	default:
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", raw.Type)}
	}

	trimmed := strings.TrimSpace(raw.URL)
	if trimmed == "" {
		return nil, &ValidationError{Field: "url", Reason: "empty"}
	}
	if len(trimmed) > MaxURLLen {
		return nil, &ValidationError{Field: "url", Reason: fmt.Sprintf("exceeds %d bytes", MaxURLLen)}
	}
	if v.Ignored(trimmed) {
		return nil, &ValidationError{Field: "url", Reason: "ignored scheme"}
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, &ValidationError{Field: "url", Reason: err.Error()}
	}
	if raw.TabID < 0 {
		return nil, &ValidationError{Field: "tab_id", Reason: "negative"}
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = PlaceholderTitle
	}
	title = truncateTitle(title, MaxTitleLen)

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return &Event{
		ID:        uuid.NewString(),
		WindowID:  raw.WindowID,
		TabID:     raw.TabID,
		Type:      raw.Type,
		Title:     title,
		URL:       Redact(trimmed),
		Timestamp: ts,
	}, nil
}

// truncateTitle caps a title at max bytes without splitting a multi-byte
// rune, so a truncated title is still valid UTF-8.
func truncateTitle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
