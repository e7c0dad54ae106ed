package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Folder download modes.
const (
	FolderModeZip     = "zip"
	FolderModeExtract = "extract"
)

// Duplicate handling modes for downloads.
const (
	DuplicateOverwrite = "overwrite"
	DuplicateRename    = "rename"
)

// Proxy modes.
const (
	ProxyModeNone   = "no-proxy"
	ProxyModeSystem = "system"
	ProxyModeBasic  = "basic"
	ProxyModeNTLM   = "ntlm"
)

// Settings are the client preferences.
type Settings struct {
	DownloadDir        string        `yaml:"download_dir"`
	FolderDownloadMode string        `yaml:"folder_download_mode"` // zip | extract
	DuplicateMode      string        `yaml:"duplicate_mode"`       // overwrite | rename
	ArchiveCompression string        `yaml:"archive_compression"`  // store | deflate
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify,omitempty"`
	SavedServers       []SavedServer `yaml:"saved_servers,omitempty"`
	Proxy              ProxySettings `yaml:"proxy"`
}

// SavedServer is a remembered server entry.
type SavedServer struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Username string `yaml:"username,omitempty"`
}

// ProxySettings configures the outbound proxy used by the client.
// The password is never written back to disk.
type ProxySettings struct {
	Mode     string `yaml:"mode"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"-"`
	NoProxy  string `yaml:"no_proxy,omitempty"`
}

// Validation errors
var (
	ErrInvalidFolderMode    = errors.New("folder_download_mode must be zip or extract")
	ErrInvalidDuplicateMode = errors.New("duplicate_mode must be overwrite or rename")
	ErrInvalidProxyMode     = errors.New("proxy mode must be no-proxy, system, basic or ntlm")
)

// NewSettings returns settings with default values.
func NewSettings() *Settings {
	return &Settings{
		DownloadDir:        DefaultDownloadDirectory(),
		FolderDownloadMode: FolderModeZip,
		DuplicateMode:      DuplicateRename,
		ArchiveCompression: "store",
		Proxy:              ProxySettings{Mode: ProxyModeNone},
	}
}

// LoadSettings loads settings from path (DefaultSettingsPath when empty).
// A missing file yields defaults.
func LoadSettings(path string) (*Settings, error) {
	s := NewSettings()
	if path == "" {
		path = DefaultSettingsPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	s.normalize()
	return s, nil
}

// SaveSettings writes settings to path (DefaultSettingsPath when empty).
func SaveSettings(s *Settings, path string) error {
	if path == "" {
		path = DefaultSettingsPath()
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *Settings) normalize() {
	s.FolderDownloadMode = strings.ToLower(strings.TrimSpace(s.FolderDownloadMode))
	s.DuplicateMode = strings.ToLower(strings.TrimSpace(s.DuplicateMode))
	s.Proxy.Mode = strings.ToLower(strings.TrimSpace(s.Proxy.Mode))
	if s.FolderDownloadMode == "" {
		s.FolderDownloadMode = FolderModeZip
	}
	if s.DuplicateMode == "" {
		s.DuplicateMode = DuplicateRename
	}
	if s.Proxy.Mode == "" {
		s.Proxy.Mode = ProxyModeNone
	}
	if s.DownloadDir == "" {
		s.DownloadDir = DefaultDownloadDirectory()
	}
}

// Validate checks enumerated fields.
func (s *Settings) Validate() error {
	switch s.FolderDownloadMode {
	case FolderModeZip, FolderModeExtract:
	default:
		return ErrInvalidFolderMode
	}
	switch s.DuplicateMode {
	case DuplicateOverwrite, DuplicateRename:
	default:
		return ErrInvalidDuplicateMode
	}
	switch s.Proxy.Mode {
	case ProxyModeNone, ProxyModeSystem, ProxyModeBasic, ProxyModeNTLM:
	default:
		return ErrInvalidProxyMode
	}
	return nil
}

// FindServer returns the saved server with the given name.
func (s *Settings) FindServer(name string) (SavedServer, bool) {
	for _, srv := range s.SavedServers {
		if srv.Name == name {
			return srv, true
		}
	}
	return SavedServer{}, false
}

// RememberServer adds or replaces a saved server by name.
func (s *Settings) RememberServer(srv SavedServer) {
	for i := range s.SavedServers {
		if s.SavedServers[i].Name == srv.Name {
			s.SavedServers[i] = srv
			return
		}
	}
	s.SavedServers = append(s.SavedServers, srv)
}
