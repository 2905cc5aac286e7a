package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"cotrack/config"
	"cotrack/core/auth"
	"cotrack/logger"
	"cotrack/model"
)

type principalKey struct{}

// WithPrincipal 把已认证的用户ID放入上下文
func WithPrincipal(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, principalKey{}, userID)
}

// PrincipalFromContext 取出已认证的用户ID
func PrincipalFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(principalKey{}).(string)
	return userID, ok && userID != ""
}

// bearerToken 优先 Authorization 头，WebSocket 握手时允许 ?token=
func bearerToken(r *http.Request, allowQuery bool) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

// authMiddleware 校验 JWT 并把 sub 作为 principal
func authMiddleware(verifier *auth.Verifier, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r, allowQuery)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, model.ErrorResponse{Error: "authorization required", Code: "unauthorized"})
				return
			}
			userID, err := verifier.ParseToken(token)
			if err != nil {
				logger.Debug("token rejected", logger.ErrorField(err))
				writeJSON(w, http.StatusUnauthorized, model.ErrorResponse{Error: "invalid token", Code: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), userID)))
		})
	}
}

// corsMiddleware 只对 ALLOWED_ORIGINS 中的来源回写 CORS 头
func corsMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && cfg.OriginAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// accessLogMiddleware 请求日志，WebSocket 握手不包装 ResponseWriter
func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.Duration("latency", time.Since(start)))
	})
}
