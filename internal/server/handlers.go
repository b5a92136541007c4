package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tabrecall/tabrecall/internal/event"
	"github.com/tabrecall/tabrecall/internal/logging"
	"github.com/tabrecall/tabrecall/internal/storage"
)

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

type userKey struct{}

// requireAuth resolves the bearer token and stashes the user id in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.auth.authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	}
}

func userFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(userKey{}).(int64)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]string{"status": "ok"})
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	_, creds, err := s.auth.register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, creds)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	_, creds, err := s.auth.login(r.Context(), req.Email, req.Password)
	if errors.Is(err, errBadCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, creds)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	creds, err := s.auth.refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeData(w, creds)
}

const maxBatchSize = 100

func (s *Server) handleEventBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	userID := userFrom(r)

	var req struct {
		Events []event.Event `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if n := len(req.Events); n == 0 || n > maxBatchSize {
		writeError(w, http.StatusBadRequest, "batch must contain 1 to 100 events")
		return
	}

	// Clients are trusted to validate, but the boundary checks again.
	// One bad event rejects the whole batch so the client can drop it.
	validated := make([]event.Event, 0, len(req.Events))
	for i, in := range req.Events {
		ev, err := s.revalidate(in)
		if err != nil {
			writeError(w, http.StatusBadRequest, "event "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		ev.UserID = userID
		validated = append(validated, *ev)
	}

	inserted, err := s.store.InsertEventBatch(r.Context(), userID, validated)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persist batch: "+err.Error())
		return
	}
	fresh := make(map[string]struct{}, len(inserted))
	for _, id := range inserted {
		fresh[id] = struct{}{}
	}

	// The batch is committed; clustering failures must not make the
	// client re-send it. Duplicates skipped by the insert already had
	// their boundary decisions applied, so only fresh events reach the
	// assigner.
	for _, ev := range validated {
		if _, ok := fresh[ev.ID]; !ok {
			continue
		}
		stored := storage.StoredEvent{
			ClientID:  ev.ID,
			UserID:    ev.UserID,
			WindowID:  ev.WindowID,
			TabID:     ev.TabID,
			Type:      ev.Type,
			Title:     ev.Title,
			URL:       ev.URL,
			Timestamp: ev.Timestamp,
		}
		if _, err := s.assigner.Apply(r.Context(), stored); err != nil {
			logging.Errorf("assign event %s: %v", ev.ID, err)
		}
	}

	writeData(w, map[string]int{"synced_count": len(validated)})
}

// revalidate runs an uploaded event through the same validation the
// agent applies, keeping the client-generated id.
func (s *Server) revalidate(in event.Event) (*event.Event, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, errors.New("missing id")
	}
	ev, err := s.validator.Validate(event.RawActivity{
		WindowID:  in.WindowID,
		TabID:     in.TabID,
		Type:      in.Type,
		Title:     in.Title,
		URL:       in.URL,
		Timestamp: in.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	ev.ID = in.ID
	return ev, nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	q := storage.SessionQuery{UserID: userFrom(r)}
	params := r.URL.Query()
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}
	if v := params.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		q.Offset = n
	}
	if v := params.Get("mode"); v != "" {
		if v != "strict" && v != "loose" {
			writeError(w, http.StatusBadRequest, "invalid mode")
			return
		}
		q.Mode = v
	}
	for param, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		if v := params.Get(param); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+param+" timestamp")
				return
			}
			*dst = ts
		}
	}

	sessions, err := s.store.ListSessions(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type sessionOut struct {
		storage.Session
		TabCount int `json:"tab_count"`
	}
	out := make([]sessionOut, 0, len(sessions))
	for _, sess := range sessions {
		tabs, err := s.store.TabsForSession(r.Context(), sess.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, sessionOut{Session: sess, TabCount: len(tabs)})
	}

	writeData(w, map[string]any{"sessions": out})
}
