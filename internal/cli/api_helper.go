package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fshare/fshare/internal/api"
	"github.com/fshare/fshare/internal/config"
	"github.com/fshare/fshare/internal/http"
)

// loadSettings reads the client settings named by --settings.
func loadSettings() (*config.Settings, error) {
	s, err := config.LoadSettings(settingsFile)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// resolveServer turns --server (a URL or a saved server name) into a URL and
// a default user name. With no flag, a single saved server is used.
func resolveServer(s *config.Settings, flag string) (string, string, error) {
	if flag == "" {
		flag = os.Getenv("FSHARE_SERVER")
	}
	if flag == "" {
		if len(s.SavedServers) == 1 {
			return s.SavedServers[0].URL, s.SavedServers[0].Username, nil
		}
		return "", "", errors.New("no server given: use --server or save one with 'fshare connect'")
	}
	if srv, ok := s.FindServer(flag); ok {
		return srv.URL, srv.Username, nil
	}
	return flag, "", nil
}

// newAPIClient builds a client for the selected server without logging in.
// A proxy password missing from the settings is prompted for.
func newAPIClient(ctx context.Context, s *config.Settings) (*api.Client, string, error) {
	baseURL, savedUser, err := resolveServer(s, serverFlag)
	if err != nil {
		return nil, "", err
	}

	if http.NeedsProxyPassword(s.Proxy) {
		pw := os.Getenv("FSHARE_PROXY_PASSWORD")
		if pw == "" {
			if pw, err = promptSecret("Proxy password for " + s.Proxy.User); err != nil {
				return nil, "", err
			}
		}
		s.Proxy.Password = pw
	}

	client, err := api.NewClient(api.Options{BaseURL: baseURL, Settings: s, Logger: GetLogger()})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create API client: %w", err)
	}

	if http.ProxyActive(s, os.Getenv) {
		probe, err := http.ConfigureHTTPClient(s, GetLogger())
		if err != nil {
			return nil, "", err
		}
		if err := http.WarmupProxy(ctx, probe, client.BaseURL()); err != nil {
			return nil, "", fmt.Errorf("proxy check failed: %w", err)
		}
	}
	return client, savedUser, nil
}

// getAPIClient creates a client and logs in. Credentials come from flags,
// then the environment, then the saved server entry, then a prompt.
func getAPIClient(ctx context.Context) (*api.Client, *config.Settings, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	client, savedUser, err := newAPIClient(ctx, s)
	if err != nil {
		return nil, nil, err
	}

	user := firstNonEmpty(userFlag, os.Getenv("FSHARE_USER"), savedUser)
	if user == "" {
		return nil, nil, errors.New("no user given: use --user or FSHARE_USER")
	}
	password := firstNonEmpty(passwordFlag, os.Getenv("FSHARE_PASSWORD"))
	if password == "" {
		if password, err = promptSecret("Password for " + user); err != nil {
			return nil, nil, err
		}
	}

	if err := client.Login(ctx, user, password); err != nil {
		return nil, nil, describeLoginError(err)
	}
	GetLogger().Debug().Str("server", client.BaseURL()).Str("user", user).Msg("Logged in")
	return client, s, nil
}

func describeLoginError(err error) error {
	var se *api.StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("login failed: %w", err)
	}
	if se.Locked() {
		return fmt.Errorf("login blocked: %s", se.Message)
	}
	if se.AttemptsRemaining >= 0 {
		return fmt.Errorf("login failed: %s (%d attempts remaining)", se.Message, se.AttemptsRemaining)
	}
	return fmt.Errorf("login failed: %w", err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
