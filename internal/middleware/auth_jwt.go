package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/xprocessing/neoaigc/internal/domain"
)

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")
)

// Claims is the payload of a session token handed out after a QR login.
type Claims struct {
	Subject   string `json:"sub"`
	Nickname  string `json:"nickname,omitempty"`
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

type userKey string

const userIDKey userKey = "user_id"

// Sessions signs and checks HS256 bearer tokens. Revoked tokens are refused
// until the process exits.
type Sessions struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]struct{}
}

// NewSessions builds an issuer. ttl <= 0 issues tokens that never expire.
func NewSessions(secret, issuer string, ttl time.Duration) *Sessions {
	return &Sessions{
		secret:  []byte(secret),
		issuer:  issuer,
		ttl:     ttl,
		now:     time.Now,
		revoked: make(map[string]struct{}),
	}
}

// Issue returns a signed token for u.
func (s *Sessions) Issue(u *domain.User) (string, error) {
	now := s.now()
	claims := Claims{Subject: u.ID, Nickname: u.Nickname, Issuer: s.issuer, IssuedAt: now.Unix()}
	if s.ttl > 0 {
		claims.ExpiresAt = now.Add(s.ttl).Unix()
	}
	header, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	data := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	return data + "." + s.sign(data), nil
}

// Revoke makes every later Verify of token fail.
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = struct{}{}
}

// Verify checks signature, issuer, expiry and revocation.
func (s *Sessions) Verify(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrTokenMalformed
	}
	if !hmac.Equal([]byte(s.sign(parts[0]+"."+parts[1])), []byte(parts[2])) {
		return nil, ErrTokenSignature
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Subject == "" || claims.Issuer != s.issuer {
		return nil, ErrTokenMalformed
	}
	if claims.ExpiresAt != 0 && s.now().Unix() > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	s.mu.Lock()
	_, revoked := s.revoked[token]
	s.mu.Unlock()
	if revoked {
		return nil, ErrTokenRevoked
	}
	return &claims, nil
}

func (s *Sessions) sign(data string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Require rejects requests without a valid bearer token using the same
// {success:false} envelope the image service answers with.
func (s *Sessions) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			unauthorized(w, "Unauthorized")
			return
		}
		claims, err := s.Verify(token)
		if err != nil {
			unauthorized(w, "Unauthorized: "+err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
