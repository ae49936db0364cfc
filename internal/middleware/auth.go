package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const LiveIDKey contextKey = "live_id"

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
)

// SessionTokens issues and checks the bearer tokens that bind a participant
// page to one live session.
type SessionTokens struct {
	Secret []byte
	TTL    time.Duration
	now    func() time.Time
}

func NewSessionTokens(secret string, ttl time.Duration) *SessionTokens {
	return &SessionTokens{Secret: []byte(secret), TTL: ttl, now: time.Now}
}

func (s *SessionTokens) Issue(liveID uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"live_id": liveID.String(),
		"exp":     now.Add(s.TTL).Unix(),
		"iat":     now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.Secret)
}

// Verify returns the live session a token was issued for.
func (s *SessionTokens) Verify(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.Secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, ErrTokenExpired
		}
		return uuid.Nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}
	raw, ok := claims["live_id"].(string)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

// Middleware accepts the token as a Bearer header or a "token" query
// parameter (browsers cannot set headers on websocket upgrades) and attaches
// the live session id to the context.
func (s *SessionTokens) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, ok := bearer(r)
		if !ok {
			tokenStr = r.URL.Query().Get("token")
		}
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing session token", r)
			return
		}

		liveID, err := s.Verify(tokenStr)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Session token has expired", r)
			} else {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid session token", r)
			}
			return
		}

		ctx := context.WithValue(r.Context(), LiveIDKey, liveID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLiveID extracts the token's live session id from the request context.
func GetLiveID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(LiveIDKey).(uuid.UUID)
	return id
}

// AdminAuth guards the admin surface with the shared admin secret. When
// passwordHash is set the bearer value is checked against that bcrypt hash;
// otherwise it must equal password exactly. With neither configured every
// request is refused.
func AdminAuth(password, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" && passwordHash == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Admin access is not configured", r)
				return
			}

			supplied, ok := bearer(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authorization header", r)
				return
			}

			if !adminSecretMatches(supplied, password, passwordHash) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func adminSecretMatches(supplied, password, passwordHash string) bool {
	if passwordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(password)) == 1
}

func bearer(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// RequestID returns the id chi assigned to the request, falling back to the
// client's X-Request-ID header.
func RequestID(r *http.Request) string {
	if id := chimw.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": RequestID(r),
		},
	})
}
