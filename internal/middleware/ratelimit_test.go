package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterWindow(t *testing.T) {
	l := NewLimiter(2, time.Second)
	start := time.Now()
	l.now = func() time.Time { return start }

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow("a"); !ok {
			t.Fatalf("request %d refused", i+1)
		}
	}
	ok, wait := l.Allow("a")
	if ok || wait != time.Second {
		t.Fatalf("third request ok=%v wait=%s", ok, wait)
	}
	if ok, _ := l.Allow("b"); !ok {
		t.Fatal("other caller refused")
	}

	l.now = func() time.Time { return start.Add(time.Second) }
	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("window did not reset")
	}
	if got := l.Throttled(); got != 1 {
		t.Fatalf("throttled = %d", got)
	}
}

func TestLimiterMiddlewareKeysByToken(t *testing.T) {
	l := NewLimiter(1, 1500*time.Millisecond)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/task/1", nil)
		req.RemoteAddr = "198.51.100.10:1234"
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if got := do("Bearer a").Code; got != http.StatusOK {
		t.Fatalf("first request = %d", got)
	}
	rec := do("Bearer a")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("retry-after = %q", got)
	}
	if got := do("Bearer b").Code; got != http.StatusOK {
		t.Fatalf("other token = %d", got)
	}
	if got := do("").Code; got != http.StatusOK {
		t.Fatalf("anonymous = %d", got)
	}
	if got := do("").Code; got != http.StatusTooManyRequests {
		t.Fatalf("anonymous again = %d", got)
	}
}
