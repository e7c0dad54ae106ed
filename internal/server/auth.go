package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fshare/fshare/internal/accesslog"
	"github.com/fshare/fshare/internal/constants"
)

const lockoutMessage = "Too many failed login attempts. Try again later."

// handleLogin checks the throttle before verifying credentials. Failures
// report the attempts left until lockout; once locked the duration is not
// disclosed.
func (s *Server) handleLogin(c *gin.Context) {
	addr := s.clientAddr(c)

	if blocked, _ := s.throttle.IsBlocked(addr); blocked {
		s.accessLog.Append(addr, "", accesslog.ActionLoginBlocked, "")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": lockoutMessage})
		return
	}

	username := strings.TrimSpace(c.PostForm("username"))
	password := strings.TrimSpace(c.PostForm("password"))

	if username == "" || !s.users.Verify(username, password) {
		remaining := s.throttle.RecordFailure(addr)
		s.accessLog.Append(addr, username, accesslog.ActionLoginFailed, "")
		if remaining <= 0 {
			s.logger.Warn().Str("ip", addr).Msg("Address blocked after repeated login failures")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": lockoutMessage})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":              "Invalid username or password",
			"attempts_remaining": remaining,
		})
		return
	}

	token, err := s.sessions.issue(username)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.throttle.RecordSuccess(addr)
	s.sessions.setCookie(c, token, int(s.sessions.ttl.Seconds()))
	s.accessLog.Append(addr, username, accesslog.ActionLogin, "")
	c.JSON(http.StatusOK, gin.H{"success": true, "username": username})
}

func (s *Server) handleLogout(c *gin.Context) {
	user := ""
	if cookie, err := c.Cookie(constants.SessionCookieName); err == nil {
		user, _ = s.sessions.parse(cookie)
	}
	s.sessions.clearCookie(c)
	if user != "" {
		s.accessLog.Append(s.clientAddr(c), user, accesslog.ActionLogout, "")
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handlePing answers LAN discovery without a session.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"code":         s.cfg.AccessCode,
		"port":         s.cfg.Port,
		"users":        s.users.Names(),
		"shared_count": len(s.existingRoots()),
	})
}

func (s *Server) handleCheckCode(c *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(c.Query("code")))
	addr := s.clientAddr(c)

	if code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(s.cfg.AccessCode)) != 1 {
		s.accessLog.Append(addr, "", accesslog.ActionCheckCode, "invalid")
		c.JSON(http.StatusForbidden, gin.H{"valid": false})
		return
	}
	s.accessLog.Append(addr, "", accesslog.ActionCheckCode, "valid")
	c.JSON(http.StatusOK, gin.H{"valid": true, "users": s.users.Names()})
}

func (s *Server) handleSharedFolders(c *gin.Context) {
	roots := s.existingRoots()
	s.accessLog.Append(s.clientAddr(c), currentUser(c), accesslog.ActionSharedFolders,
		fmt.Sprintf("%d folders", len(roots)))
	c.JSON(http.StatusOK, gin.H{"folders": roots})
}

// existingRoots returns the roots that still exist on disk.
func (s *Server) existingRoots() []string {
	roots := s.sandbox.Roots()
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if info, err := os.Stat(r); err == nil && info.IsDir() {
			out = append(out, r)
		}
	}
	return out
}
