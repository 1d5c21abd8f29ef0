package middleware

import (
	"net/http"
	"strings"
)

// UserIDHeader carries the caller identity established by the gateway in
// front of the storefront.
const UserIDHeader = "X-User-ID"

// Identity copies the gateway supplied user id into the request context.
// Requests without the header continue anonymously.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
			r = r.WithContext(WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUserID rejects anonymous requests with 401.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing user identity"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
