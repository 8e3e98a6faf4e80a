package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"prospectcrm/internal/requestctx"
)

const requestIDHeader = "X-Request-ID"

// RequestID propagates a caller-supplied X-Request-ID or mints one, and
// records the caller's address for audit rows.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !usableRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := requestctx.WithClientIP(requestctx.WithRequestID(r.Context(), id), clientIPKey(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// usableRequestID accepts short printable ASCII ids so they are safe to log
// and store.
func usableRequestID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

func GetRequestID(ctx context.Context) string {
	return requestctx.GetRequestID(ctx)
}
