package middleware

import (
	"context"
	"net/http"

	"checkpoint-sync-api/internal/identity"
	"checkpoint-sync-api/internal/model"
	"checkpoint-sync-api/pkg/apierror"
)

// OwnerKeyKey is the key for storing the caller's owner key in request context.
const OwnerKeyKey contextKey = "owner_key"

// DeviceIdentity derives the caller's owner key from the Serial header.
// Requests without a usable serial are rejected before reaching the handler.
// The raw serial never leaves this middleware.
func DeviceIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerKey, err := identity.Derive(r.Header.Get(identity.HeaderName))
		if err != nil {
			writeError(w, apierror.ValidationError("Serial header is required",
				apierror.FieldError{Field: model.FieldOf(err), Message: "missing device serial"}))
			return
		}

		ctx := context.WithValue(r.Context(), OwnerKeyKey, ownerKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	w.Write(err.ToJSON())
}

// GetOwnerKey retrieves the caller's owner key from request context.
func GetOwnerKey(ctx context.Context) string {
	if key, ok := ctx.Value(OwnerKeyKey).(string); ok {
		return key
	}
	return ""
}
