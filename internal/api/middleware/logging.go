// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"time"

	xglog "github.com/ManuGH/samplr/internal/log"
)

// AccessLog writes one structured line per request and installs a
// request-scoped logger in the context.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := xglog.WithComponentFromContext(r.Context(), "api")
		ctx := logger.WithContext(r.Context())

		sw := wrap(w)
		next.ServeHTTP(sw, r.WithContext(ctx))

		ev := logger.Info()
		if sw.status >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Str(xglog.FieldEvent, "http.request").
			Str("method", r.Method).
			Str(xglog.FieldPath, r.URL.Path).
			Int("status", sw.status).
			Int("bytes", sw.bytes).
			Int64(xglog.FieldDuration, time.Since(start).Milliseconds()).
			Str("remote_addr", r.RemoteAddr).
			Msg("request served")
	})
}
