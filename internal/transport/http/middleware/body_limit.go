package middleware

import (
	"net/http"
	"strings"
)

// BodyLimit caps mutating request bodies. Multipart uploads get uploadBytes
// when it is larger than maxBytes.
func BodyLimit(maxBytes, uploadBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				limit := maxBytes
				if uploadBytes > limit && strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/") {
					limit = uploadBytes
				}
				if limit > 0 {
					r.Body = http.MaxBytesReader(w, r.Body, limit)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
