package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fshare/fshare/internal/constants"
)

// ServerConfig is the file server configuration.
//
// YAML format:
//
//	host: 0.0.0.0
//	port: 5000
//	users:
//	  admin: admin            # plain passwords are hashed at load time
//	  bob: $2a$10$...         # bcrypt hashes are used as-is
//	shared_folders:
//	  - /srv/share
//	access_code: ""           # generated when empty
//	trust_proxy_headers: true
//	session_ttl: 12h
//	access_log_db: ""         # optional SQLite file for the access log
//	access_log_keep: 100000   # rows kept in access_log_db
//	tls_cert: ""
//	tls_key: ""
type ServerConfig struct {
	Host              string            `yaml:"host"`
	Port              int               `yaml:"port"`
	Users             map[string]string `yaml:"users"`
	SharedFolders     []string          `yaml:"shared_folders"`
	AccessCode        string            `yaml:"access_code"`
	TrustProxyHeaders bool              `yaml:"trust_proxy_headers"`
	SessionTTL        time.Duration     `yaml:"session_ttl"`
	AccessLogDB       string            `yaml:"access_log_db,omitempty"`
	AccessLogKeep     int               `yaml:"access_log_keep,omitempty"`
	TLSCert           string            `yaml:"tls_cert,omitempty"`
	TLSKey            string            `yaml:"tls_key,omitempty"`
	MaxUploadMemory   int64             `yaml:"max_upload_memory,omitempty"`
	TempDir           string            `yaml:"temp_dir,omitempty"`
}

// Validation errors
var (
	ErrNoSharedFolders = errors.New("at least one shared folder is required")
	ErrNoUsers         = errors.New("at least one user is required")
	ErrInvalidPort     = errors.New("port must be between 1 and 65535")
	ErrIncompleteTLS   = errors.New("tls_cert and tls_key must be set together")
)

// NewServerConfig returns a config with default values.
func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:              "0.0.0.0",
		Port:              constants.DefaultServerPort,
		Users:             map[string]string{},
		TrustProxyHeaders: true,
		SessionTTL:        constants.DefaultSessionTTL,
		MaxUploadMemory:   constants.MaxUploadMemory,
	}
}

// LoadServerConfig reads path over the defaults. A missing file yields the
// defaults and no error; a malformed file is an error.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := NewServerConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read server config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	if cfg.Users == nil {
		cfg.Users = map[string]string{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = constants.DefaultSessionTTL
	}
	if cfg.MaxUploadMemory <= 0 {
		cfg.MaxUploadMemory = constants.MaxUploadMemory
	}
	return cfg, nil
}

// SaveServerConfig writes cfg as YAML with owner-only permissions.
func SaveServerConfig(cfg *ServerConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode server config: %w", err)
	}
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to save server config: %w", err)
	}
	return nil
}

// AddUserSpec parses "name:password" and adds or replaces the user.
func (cfg *ServerConfig) AddUserSpec(spec string) error {
	name, pass, ok := strings.Cut(spec, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" || pass == "" {
		return fmt.Errorf("invalid user %q, expected name:password", spec)
	}
	if cfg.Users == nil {
		cfg.Users = map[string]string{}
	}
	cfg.Users[name] = pass
	return nil
}

// EnsureAccessCode generates an access code if none is configured and
// returns the code in effect.
func (cfg *ServerConfig) EnsureAccessCode() (string, error) {
	if cfg.AccessCode != "" {
		return cfg.AccessCode, nil
	}
	code, err := GenerateAccessCode(constants.AccessCodeLength)
	if err != nil {
		return "", err
	}
	cfg.AccessCode = code
	return code, nil
}

// Addr returns host:port.
func (cfg *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// TLSEnabled reports whether both certificate and key are configured.
func (cfg *ServerConfig) TLSEnabled() bool {
	return cfg.TLSCert != "" && cfg.TLSKey != ""
}

// Validate checks the settings needed to serve.
func (cfg *ServerConfig) Validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return ErrInvalidPort
	}
	if len(cfg.SharedFolders) == 0 {
		return ErrNoSharedFolders
	}
	if len(cfg.Users) == 0 {
		return ErrNoUsers
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return ErrIncompleteTLS
	}
	return nil
}

const accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateAccessCode returns n random characters from A-Z0-9.
func GenerateAccessCode(n int) (string, error) {
	max := big.NewInt(int64(len(accessCodeAlphabet)))
	var b strings.Builder
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate access code: %w", err)
		}
		b.WriteByte(accessCodeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
