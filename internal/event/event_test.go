package event

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsWellFormedActivity(t *testing.T) {
	v := NewValidator(nil)

	raw := RawActivity{
		WindowID:  1,
		TabID:     42,
		Type:      TypeOpen,
		Title:     "Example Page",
		URL:       "https://example.com/docs",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	ev, err := v.Validate(raw)
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID, "event ID should be generated")
	assert.Equal(t, 1, ev.WindowID)
	assert.Equal(t, 42, ev.TabID)
	assert.Equal(t, TypeOpen, ev.Type)
	assert.Equal(t, "Example Page", ev.Title)
	assert.Equal(t, "https://example.com/docs", ev.URL)
	assert.Equal(t, raw.Timestamp, ev.Timestamp)
}

func TestValidate_GeneratesUniqueIDs(t *testing.T) {
	v := NewValidator(nil)
	raw := RawActivity{TabID: 1, Type: TypeUpdate, URL: "https://example.com"}

	e1, err := v.Validate(raw)
	require.NoError(t, err)
	e2, err := v.Validate(raw)
	require.NoError(t, err)

	assert.NotEqual(t, e1.ID, e2.ID)
}

func TestValidate_RejectsUnknownType(t *testing.T) {
	v := NewValidator(nil)

	_, err := v.Validate(RawActivity{Type: "hover", URL: "https://example.com"})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Field)
}

func TestValidate_RejectsIgnoredSchemes(t *testing.T) {
	v := NewValidator(nil)

	ignored := []string{
		"chrome://settings",
		"chrome-extension://abcdef/popup.html",
		"about:blank",
		"devtools://devtools/bundled/inspector.html",
		"data:text/html,<h1>hi</h1>",
		"javascript:void(0)",
		"view-source:https://example.com",
		"CHROME://flags", // scheme match is case-insensitive
	}

	for _, u := range ignored {
		_, err := v.Validate(RawActivity{Type: TypeOpen, URL: u})
		assert.Error(t, err, "url %q should be rejected", u)
	}
}

func TestValidate_EmptyTitleGetsPlaceholder(t *testing.T) {
	v := NewValidator(nil)

	ev, err := v.Validate(RawActivity{Type: TypeOpen, URL: "https://example.com", Title: "  "})
	require.NoError(t, err)
	assert.Equal(t, PlaceholderTitle, ev.Title)
}

func TestValidate_TruncatesLongTitle(t *testing.T) {
	v := NewValidator(nil)

	long := strings.Repeat("x", MaxTitleLen+500)
	ev, err := v.Validate(RawActivity{Type: TypeOpen, URL: "https://example.com", Title: long})
	require.NoError(t, err)
	assert.Len(t, ev.Title, MaxTitleLen)
}

func TestValidate_TruncationKeepsValidUTF8(t *testing.T) {
	v := NewValidator(nil)

	// Place a multi-byte rune across the cut point; a byte-boundary cut
	// would leave a dangling partial rune.
	long := strings.Repeat("x", MaxTitleLen-1) + strings.Repeat("日", 200)
	ev, err := v.Validate(RawActivity{Type: TypeOpen, URL: "https://example.com", Title: long})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ev.Title), MaxTitleLen)
	assert.True(t, utf8.ValidString(ev.Title))
	assert.True(t, strings.HasSuffix(ev.Title, "x"), "the partial rune is dropped entirely")
}

func TestValidate_RejectsOverlongURL(t *testing.T) {
	v := NewValidator(nil)

	long := "https://example.com/" + strings.Repeat("a", MaxURLLen)
	_, err := v.Validate(RawActivity{Type: TypeOpen, URL: long})
	assert.Error(t, err)
}

func TestValidate_RejectsEmptyURL(t *testing.T) {
	v := NewValidator(nil)

	_, err := v.Validate(RawActivity{Type: TypeClose, URL: "   "})
	assert.Error(t, err)
}

func TestValidate_DefaultsTimestamp(t *testing.T) {
	v := NewValidator(nil)

	ev, err := v.Validate(RawActivity{Type: TypeActivate, URL: "https://example.com"})
	require.NoError(t, err)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestValidate_RedactsBeforeEventExists(t *testing.T) {
	v := NewValidator(nil)

	ev, err := v.Validate(RawActivity{
		Type: TypeOpen,
		URL:  "https://example.com/cb?code=abc123&next=/home",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cb?code=REDACTED&next=/home", ev.URL)
}

func TestValidate_CustomIgnoreList(t *testing.T) {
	v := NewValidator([]string{"https://internal.corp/"})

	_, err := v.Validate(RawActivity{Type: TypeOpen, URL: "https://internal.corp/wiki"})
	assert.Error(t, err)

	_, err = v.Validate(RawActivity{Type: TypeOpen, URL: "chrome://settings"})
	assert.NoError(t, err, "custom list replaces the default list")
}
