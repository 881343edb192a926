package middleware

import (
	"context"
	"net/http"

	"github.com/xprocessing/neoaigc/internal/notify"
)

type localeContextKey struct{}

var LocaleKey = localeContextKey{}

// Locale negotiates the response language from X-Locale or Accept-Language
// and echoes it in Content-Language.
func Locale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := detectLocale(r)
		w.Header().Set("Content-Language", locale)
		ctx := context.WithValue(r.Context(), LocaleKey, locale)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func detectLocale(r *http.Request) string {
	if v := r.Header.Get("X-Locale"); v != "" {
		return notify.Match(v).String()
	}
	return notify.Match(r.Header.Get("Accept-Language")).String()
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}
