package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/hospital-scheduling/internal/session"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

// SessionClaims is the token payload: sub carries the user id.
type SessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 session token for s valid for ttl.
func IssueToken(secret string, s session.Session, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("middleware: session secret required")
	}
	now := time.Now()
	claims := SessionClaims{
		Role: string(s.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies an HS256 token and returns the session it carries.
func ParseToken(secret, tokenString string) (session.Session, error) {
	var claims SessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return session.Session{}, errors.New("middleware: invalid token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return session.Session{}, errors.New("middleware: token subject is not a user id")
	}
	role, err := session.ParseRole(claims.Role)
	if err != nil {
		return session.Session{}, err
	}
	return session.Session{UserID: userID, Role: role}, nil
}

// SessionJWT attaches the caller's session when a valid bearer token is
// present. Requests without a token pass through anonymously; a malformed
// or expired token is rejected.
func SessionJWT(secret string, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				next.ServeHTTP(w, r)
				return
			}
			if secret == "" || !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}
			sess, err := ParseToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				logger.Debug("session token rejected", "error", err, "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
		})
	}
}

// DevSession trusts X-Debug-User and X-Debug-Role headers. Only mounted in development.
func DevSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.FromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := uuid.Parse(r.Header.Get("X-Debug-User"))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		role, err := session.ParseRole(r.Header.Get("X-Debug-Role"))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), session.Session{UserID: userID, Role: role})))
	})
}

// RequireRole rejects requests without a session, or whose role is not listed.
// With no roles any session is accepted.
func RequireRole(roles ...session.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := session.FromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "session required")
				return
			}
			if len(roles) > 0 && !hasRole(sess.Role, roles) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(role session.Role, roles []session.Role) bool {
	for _, allowed := range roles {
		if role == allowed {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
