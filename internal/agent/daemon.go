package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tabrecall/tabrecall/internal/config"
	"github.com/tabrecall/tabrecall/internal/event"
	"github.com/tabrecall/tabrecall/internal/logging"
	"github.com/tabrecall/tabrecall/internal/remote"
)

// activitySchema is the wire contract for POST /activity. Payloads are
// checked against it before the event model ever sees them. Close events
// may omit the url: the browser often discards the tab object before the
// close fires, and the daemon recovers the url from its snapshot table.
const activitySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["window_id", "tab_id", "type"],
  "properties": {
    "window_id": {"type": "integer", "minimum": 0},
    "tab_id": {"type": "integer", "minimum": 0},
    "type": {"type": "string", "enum": ["open", "update", "activate", "close"]},
    "title": {"type": "string"},
    "url": {"type": "string"},
    "ts": {"type": "string"}
  },
  "if": {"properties": {"type": {"const": "close"}}},
  "else": {"required": ["url"], "properties": {"url": {"minLength": 1}}},
  "additionalProperties": false
}`

// Daemon is the local HTTP endpoint the browser extension posts tab
// activity to. It owns the local store, the persisted state blob, and
// the background sync runner.
type Daemon struct {
	cfg       config.Config
	store     *Store
	engine    *Engine
	runner    *Runner
	client    *remote.Client
	validator *event.Validator
	schema    *jsonschema.Schema
	denylist  []string

	mu    sync.Mutex // guards state
	state *State
}

// NewDaemon loads persisted state and wires the store, sync engine and
// runner together.
func NewDaemon(cfg config.Config) (*Daemon, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("activity.json", strings.NewReader(activitySchema)); err != nil {
		return nil, fmt.Errorf("add activity schema: %w", err)
	}
	schema, err := compiler.Compile("activity.json")
	if err != nil {
		return nil, fmt.Errorf("compile activity schema: %w", err)
	}

	statePath, err := config.ExpandPath(cfg.Agent.StatePath)
	if err != nil {
		return nil, err
	}
	cfg.Agent.StatePath = statePath

	state, err := LoadState(statePath)
	if err != nil {
		return nil, err
	}

	store := NewStore(cfg.Agent.BufferCapacity)
	store.Restore(state)

	client := remote.New(cfg.Agent.ServerURL)
	if state.AuthToken != "" {
		client.SetToken(state.AuthToken)
	}

	d := &Daemon{
		cfg:       cfg,
		store:     store,
		client:    client,
		validator: event.NewValidator(cfg.Capture.IgnoreSchemes),
		schema:    schema,
		denylist:  cfg.Capture.DenylistDomains,
		state:     state,
	}
	d.engine = NewEngine(store, client, cfg.Agent.BatchSize)
	d.runner = NewRunner(d.engine, store, cfg.Agent.SyncInterval(), cfg.Agent.SyncThreshold)
	d.runner.OnReport = d.afterSync
	return d, nil
}

// Handler returns the daemon's HTTP routes.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/activity", d.handleActivity)
	mux.HandleFunc("/status", d.handleStatus)
	return mux
}

// Run serves the local endpoint and runs the sync loop until ctx is
// cancelled, then persists state one last time.
func (d *Daemon) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", d.cfg.Agent.Host, d.cfg.Agent.Port),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go d.runner.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("agent listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("agent server: %w", err)
		}
	}

	if err := d.saveState(); err != nil {
		logging.Errorf("persist state on shutdown: %v", err)
	}
	return nil
}

func (d *Daemon) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var payload any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := d.schema.Validate(payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity: "+err.Error())
		return
	}

	raw, err := decodeRaw(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Close events often arrive after the browser discarded the tab
	// object; recover title and URL from the snapshot table before any
	// URL-based filtering so the recovered URL is what gets filtered.
	if raw.Type == event.TypeClose {
		if info, ok := d.store.TabSnapshot(raw.TabID); ok {
			if strings.TrimSpace(raw.Title) == "" {
				raw.Title = info.Title
			}
			if strings.TrimSpace(raw.URL) == "" {
				raw.URL = info.URL
			}
		}
		if strings.TrimSpace(raw.URL) == "" {
			// Never tracked and nothing to recover; nothing to record.
			writeData(w, map[string]any{"accepted": false, "reason": "unknown tab"})
			return
		}
	}

	if d.validator.Ignored(raw.URL) || d.denied(raw.URL) {
		// A filtered close still retires its snapshot entry so the side
		// table cannot leak.
		if raw.Type == event.TypeClose {
			d.store.ClearTabSnapshot(raw.TabID)
		}
		writeData(w, map[string]any{"accepted": false, "reason": "filtered"})
		return
	}

	ev, err := d.validator.Validate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if raw.Type == event.TypeClose {
		d.store.ClearTabSnapshot(raw.TabID)
	} else {
		d.store.SetTabSnapshot(raw.TabID, TabInfo{
			WindowID: ev.WindowID,
			Title:    ev.Title,
			URL:      ev.URL,
			LastSeen: ev.Timestamp,
		})
	}

	d.store.Append(*ev)
	if err := d.saveState(); err != nil {
		logging.Errorf("persist state: %v", err)
	}
	d.runner.Notify()

	writeData(w, map[string]any{"accepted": true, "pending": d.store.Len()})
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	d.mu.Lock()
	lastSync := d.state.LastSync
	d.mu.Unlock()

	writeData(w, map[string]any{
		"pending":       d.store.Len(),
		"evicted":       d.store.Evicted(),
		"last_sync":     lastSync,
		"authenticated": d.client.HasToken(),
	})
}

// SyncNow runs one sync cycle immediately.
func (d *Daemon) SyncNow(ctx context.Context) (*SyncReport, error) {
	report, err := d.engine.Sync(ctx)
	if err != nil {
		return nil, err
	}
	d.afterSync(report)
	return report, nil
}

func (d *Daemon) afterSync(report *SyncReport) {
	if report.Synced == 0 && report.Dropped == 0 {
		return
	}
	d.mu.Lock()
	d.state.LastSync = report.CompletedAt
	d.mu.Unlock()
	if err := d.saveState(); err != nil {
		logging.Errorf("persist state after sync: %v", err)
	}
}

func (d *Daemon) saveState() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.store.Export(d.state)
	d.state.Config = &d.cfg.Agent
	return d.state.Save(d.cfg.Agent.StatePath)
}

func (d *Daemon) denied(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range d.denylist {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// decodeRaw converts a schema-validated payload into a RawActivity.
func decodeRaw(payload any) (event.RawActivity, error) {
	var raw event.RawActivity
	data, err := json.Marshal(payload)
	if err != nil {
		return raw, fmt.Errorf("re-encode activity: %w", err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return raw, fmt.Errorf("decode activity: %w", err)
	}
	return raw, nil
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}
