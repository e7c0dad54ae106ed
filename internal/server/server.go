// Package server implements the HTTP file server: listing, downloads,
// archive-on-demand folder downloads and uploads, all confined to the shared
// roots and gated by a login session.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fshare/fshare/internal/accesslog"
	"github.com/fshare/fshare/internal/config"
	"github.com/fshare/fshare/internal/constants"
	"github.com/fshare/fshare/internal/logging"
	"github.com/fshare/fshare/internal/sandbox"
	"github.com/fshare/fshare/internal/throttle"
)

// Options configures a Server. Only Config is required.
type Options struct {
	Config    *config.ServerConfig
	Logger    *logging.Logger
	Throttle  *throttle.Throttle
	AccessLog *accesslog.Log

	// SessionSecret signs session cookies. A random secret is generated when
	// empty, which invalidates sessions on restart.
	SessionSecret []byte

	// BcryptCost is used when hashing plain passwords from Config.
	BcryptCost int
}

// Server holds the state shared by all request handlers. Users and roots are
// fixed at construction; the throttle and access log synchronize internally.
type Server struct {
	cfg       *config.ServerConfig
	sandbox   *sandbox.Sandbox
	users     *config.Users
	throttle  *throttle.Throttle
	accessLog *accesslog.Log
	sessions  *sessionManager
	logger    *logging.Logger
	engine    *gin.Engine
}

// New validates the configuration and builds the router.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("server config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	sb, skipped := sandbox.New(cfg.SharedFolders)
	for _, root := range skipped {
		logger.Warn().Str("folder", root).Msg("Shared folder does not exist or is not a directory, skipping")
	}
	if len(sb.Roots()) == 0 {
		return nil, config.ErrNoSharedFolders
	}

	users, err := config.NewUsers(cfg.Users, opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	secret := opts.SessionSecret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
	}

	if _, err := cfg.EnsureAccessCode(); err != nil {
		return nil, err
	}

	th := opts.Throttle
	if th == nil {
		th = throttle.New(throttle.DefaultConfig())
	}
	al := opts.AccessLog
	if al == nil {
		al = accesslog.New(constants.AccessLogCapacity, logger)
	}

	s := &Server{
		cfg:       cfg,
		sandbox:   sb,
		users:     users,
		throttle:  th,
		accessLog: al,
		sessions:  newSessionManager(secret, cfg.SessionTTL, cfg.TLSEnabled()),
		logger:    logger,
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	// Client addresses come from clientAddr, which applies the config's proxy trust.
	_ = r.SetTrustedProxies(nil)
	r.MaxMultipartMemory = s.cfg.MaxUploadMemory

	r.POST("/login", s.handleLogin)
	r.GET("/logout", s.handleLogout)
	r.POST("/logout", s.handleLogout)
	r.GET("/api/ping", s.handlePing)
	r.GET("/api/check_code", s.handleCheckCode)

	authed := r.Group("/", s.requireSession())
	authed.GET("/api/shared_folders", s.handleSharedFolders)
	authed.GET("/api/files", s.handleListFolder)
	authed.GET("/api/access_log", s.handleAccessLog)
	authed.GET("/download", s.handleDownload)
	authed.GET("/download_folder", s.handleDownloadFolder)
	authed.POST("/upload", s.handleUpload)

	return r
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Sandbox returns the path sandbox in effect.
func (s *Server) Sandbox() *sandbox.Sandbox {
	return s.sandbox
}

// AccessLog returns the access log ring.
func (s *Server) AccessLog() *accesslog.Log {
	return s.accessLog
}

// AccessCode returns the code clients use with /api/check_code.
func (s *Server) AccessCode() string {
	return s.cfg.AccessCode
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// In-flight transfers get ServerShutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.TLSEnabled() {
			errCh <- srv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("tls", s.cfg.TLSEnabled()).
		Strs("shared", s.sandbox.Roots()).
		Msg("File server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
		defer cancel()
		s.logger.Info().Msg("Shutting down file server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
