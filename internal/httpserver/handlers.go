package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"azaan/internal/domain"
	"azaan/internal/push"
	"azaan/internal/schedule"
	"azaan/internal/service"
	"azaan/internal/store"
	"azaan/internal/util"
)

const (
	legacyPlatform     = "none"
	legacyHistoryLimit = 100
)

type API struct {
	Tokens  *service.TokenService
	History *service.HistoryService
	Queue   *service.QueueService
	Status  *service.StatusService
	Tester  *service.TestSender
	Now     func() time.Time
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/", a.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/prayer-times", a.handlePrayerTimes).Methods(http.MethodGet)
	r.HandleFunc("/test-notification", a.handleTestNotification).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/fcm-tokens", a.handleListTokens).Methods(http.MethodGet)
	api.HandleFunc("/fcm-tokens", a.handleRegisterToken).Methods(http.MethodPost)
	api.HandleFunc("/fcm-tokens/{id}", a.handleDeleteToken).Methods(http.MethodDelete)
	api.HandleFunc("/history", a.handleListHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/stats", a.handleHistoryStats).Methods(http.MethodGet)
	api.HandleFunc("/history/clear", a.handleClearHistory).Methods(http.MethodDelete)
	api.HandleFunc("/history/{id}", a.handleDeleteHistory).Methods(http.MethodDelete)
	api.HandleFunc("/queue", a.handleListQueue).Methods(http.MethodGet)
	api.HandleFunc("/queue/{id}", a.handleDeleteQueue).Methods(http.MethodDelete)
	api.HandleFunc("/queue/{id}/reset", a.handleResetQueue).Methods(http.MethodPost)

	// older clients
	r.HandleFunc("/pushfcmtoken", a.handleLegacyRegister).Methods(http.MethodPost)
	r.HandleFunc("/fcmtoken", a.handleLegacyTokens).Methods(http.MethodGet)
	r.HandleFunc("/history", a.handleLegacyHistory).Methods(http.MethodGet)
}

func (a *API) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Prayer Notification Server (FCM)",
		"status":  "running",
		"endpoints": map[string]string{
			"health":           "/health",
			"prayerTimes":      "/prayer-times",
			"registerToken":    "POST /api/fcm-tokens",
			"listTokens":       "GET /api/fcm-tokens",
			"history":          "GET /api/history",
			"queue":            "GET /api/queue",
			"testNotification": "POST /test-notification",
		},
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Status.Health(r.Context(), a.now()))
}

func (a *API) handlePrayerTimes(w http.ResponseWriter, r *http.Request) {
	pt, err := a.Status.PrayerTimes(r.URL.Query().Get("date"), a.now())
	switch {
	case errors.Is(err, service.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, schedule.ErrUnavailable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		slog.ErrorContext(r.Context(), "prayer times failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, struct {
			OK bool `json:"ok"`
			service.PrayerTimes
		}{OK: true, PrayerTimes: pt})
	}
}

func (a *API) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	var req domain.TestNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	req.Token = util.NormalizeToken(req.Token)
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Device token is required")
		return
	}
	res, err := a.Tester.Send(r.Context(), req, a.now())
	switch {
	case errors.Is(err, push.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrUnavailable)
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeOK(w, res, "Test notification sent successfully")
	}
}

// ---- tokens ----

func (a *API) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, p, err := a.Tokens.List(r.Context(), pageRequest(r))
	if err != nil {
		a.dependencyError(w, r, "list tokens failed", err)
		return
	}
	writePage(w, orEmpty(tokens), p)
}

func (a *API) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidJSON)
		return
	}
	req.Token = util.NormalizeToken(req.Token)
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tok, err := a.Tokens.Register(r.Context(), req, a.now())
	if err != nil {
		a.dependencyError(w, r, "register token failed", err)
		return
	}
	slog.InfoContext(r.Context(), "fcm token registered", "platform", tok.Platform, "token_id", tok.ID)
	writeOK(w, tok, "FCM token registered successfully")
}

func (a *API) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := a.Tokens.Delete(r.Context(), id)
	a.writeDeleted(w, r, ok, err, "FCM token deleted successfully")
}

func (a *API) handleLegacyRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ErrInvalidJSON})
		return
	}
	req.Token = util.NormalizeToken(req.Token)
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ErrTokenMissing})
		return
	}
	if req.Platform == "" {
		req.Platform = legacyPlatform
	}
	if _, err := a.Tokens.Register(r.Context(), req, a.now()); err != nil {
		slog.ErrorContext(r.Context(), "register token failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Message: "FCM Token registered successfully"})
}

func (a *API) handleLegacyTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := a.Tokens.ListAll(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "list tokens failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if platform := r.URL.Query().Get("platform"); platform != "" {
		kept := tokens[:0]
		for _, t := range tokens {
			if t.Platform == platform {
				kept = append(kept, t)
			}
		}
		tokens = kept
	}
	tokens = orEmpty(tokens)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": tokens, "count": len(tokens)})
}

// ---- history ----

func (a *API) handleListHistory(w http.ResponseWriter, r *http.Request) {
	f, ok := historyFilter(w, r)
	if !ok {
		return
	}
	recs, p, err := a.History.List(r.Context(), f, pageRequest(r))
	if err != nil {
		a.dependencyError(w, r, "list history failed", err)
		return
	}
	writePage(w, orEmpty(recs), p)
}

func (a *API) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.History.Stats(r.Context())
	if err != nil {
		a.dependencyError(w, r, "history stats failed", err)
		return
	}
	writeOK(w, st, "")
}

func (a *API) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := a.History.Clear(r.Context(), a.now())
	if err != nil {
		a.dependencyError(w, r, "clear history failed", err)
		return
	}
	writeOK(w, map[string]int{"deletedCount": n}, "Old history cleared")
}

func (a *API) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	ok, err := a.History.Delete(r.Context(), mux.Vars(r)["id"])
	a.writeDeleted(w, r, ok, err, "History log deleted successfully")
}

func (a *API) handleLegacyHistory(w http.ResponseWriter, r *http.Request) {
	f, ok := historyFilter(w, r)
	if !ok {
		return
	}
	limit := intParam(r, "limit", legacyHistoryLimit)
	recs, _, err := a.History.List(r.Context(), f, service.PageRequest{Page: 1, Limit: limit})
	if err != nil {
		slog.ErrorContext(r.Context(), "list history failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	recs = orEmpty(recs)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(recs), "data": recs})
}

// ---- queue ----

func (a *API) handleListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.QueueFilter{Status: q.Get("status"), DayDate: q.Get("dayDate")}
	if f.Status != "" && !domain.QueueStatus(f.Status).Valid() {
		writeError(w, http.StatusBadRequest, ErrInvalidStatus)
		return
	}
	entries, p, err := a.Queue.List(r.Context(), f, pageRequest(r))
	if err != nil {
		a.dependencyError(w, r, "list queue failed", err)
		return
	}
	writePage(w, orEmpty(entries), p)
}

func (a *API) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	ok, err := a.Queue.Delete(r.Context(), mux.Vars(r)["id"])
	a.writeDeleted(w, r, ok, err, "Queue item deleted successfully")
}

func (a *API) handleResetQueue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := a.Queue.Reset(r.Context(), id, a.now())
	if err != nil {
		a.dependencyError(w, r, "reset queue entry failed", err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "queue item is missing or not failed")
		return
	}
	slog.InfoContext(r.Context(), "queue entry reset", "queue_id", id)
	writeOK(w, nil, "Queue item reset to pending")
}

// ---- helpers ----

func (a *API) writeDeleted(w http.ResponseWriter, r *http.Request, ok bool, err error, msg string) {
	if err != nil {
		a.dependencyError(w, r, "delete failed", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	writeOK(w, nil, msg)
}

func (a *API) dependencyError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.ErrorContext(r.Context(), msg, "err", err, "path", r.URL.Path)
	writeError(w, http.StatusBadGateway, ErrDependency)
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return util.NowUTC()
}

func historyFilter(w http.ResponseWriter, r *http.Request) (store.HistoryFilter, bool) {
	q := r.URL.Query()
	f := store.HistoryFilter{Status: q.Get("status"), Prayer: q.Get("prayer"), DayDate: q.Get("dayDate")}
	if f.Status != "" && !domain.DeliveryStatus(f.Status).Valid() {
		writeError(w, http.StatusBadRequest, ErrInvalidStatus)
		return f, false
	}
	return f, true
}

func pageRequest(r *http.Request) service.PageRequest {
	return service.PageRequest{Page: intParam(r, "page", 1), Limit: intParam(r, "limit", 0)}
}

// intParam parses a positive integer query parameter, falling back to def.
func intParam(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 1 {
		return def
	}
	return n
}
