package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dream-ai/docchat/internal/chat"
)

// Headers set by the authenticating gateway in front of the server.
const (
	HeaderTenant = "X-Tenant-ID"
	HeaderUser   = "X-User-ID"
	HeaderPlan   = "X-Plan"
)

type principalKey struct{}

// PrincipalFrom returns the caller attached by requirePrincipal.
func PrincipalFrom(ctx context.Context) (chat.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(chat.Principal)
	return p, ok
}

func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := chat.Principal{
			Tenant: strings.TrimSpace(r.Header.Get(HeaderTenant)),
			UserID: strings.TrimSpace(r.Header.Get(HeaderUser)),
			Plan:   strings.TrimSpace(r.Header.Get(HeaderPlan)),
		}
		if p.Tenant == "" || p.UserID == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing caller identity"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// statusRecorder captures the response status. It forwards Flush so
// streaming handlers keep working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		elapsed := time.Since(start)
		s.metrics.requestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.code())).Observe(elapsed.Seconds())
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.code()),
			zap.Duration("duration", elapsed))
	})
}
