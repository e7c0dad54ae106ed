package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fshare/fshare/internal/constants"
)

const ctxUsernameKey = "username"

// sessionClaims are the claims carried in the session cookie.
type sessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"usr"`
}

type sessionManager struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

func newSessionManager(secret []byte, ttl time.Duration, secure bool) *sessionManager {
	if ttl <= 0 {
		ttl = constants.DefaultSessionTTL
	}
	return &sessionManager{secret: secret, ttl: ttl, secure: secure}
}

func (m *sessionManager) issue(username string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Username: username,
	})
	return token.SignedString(m.secret)
}

func (m *sessionManager) parse(tokenString string) (string, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Username == "" {
		return "", errors.New("invalid session")
	}
	return claims.Username, nil
}

func (m *sessionManager) setCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *sessionManager) clearCookie(c *gin.Context) {
	m.setCookie(c, "", -1)
}

// requireSession rejects requests without a valid session cookie and stores
// the user name in the context.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(constants.SessionCookieName)
		if err != nil || cookie == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Login required"})
			return
		}
		username, err := s.sessions.parse(cookie)
		if err != nil {
			s.sessions.clearCookie(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session expired, please log in again"})
			return
		}
		c.Set(ctxUsernameKey, username)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	if v := c.GetString(ctxUsernameKey); v != "" {
		return v
	}
	return "unknown"
}
