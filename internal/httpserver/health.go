package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

type ReadyzCheck func(ctx context.Context) error

func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, envelope{OK: true})
	}
}

// Readyz runs every check under one shared timeout and answers 503 with the
// joined failures if any check fails.
func Readyz(timeout time.Duration, checks ...ReadyzCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		var errs []error
		for _, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			slog.WarnContext(r.Context(), "readiness check failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		writeJSON(w, http.StatusOK, envelope{OK: true})
	}
}
