package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fshare/fshare/internal/accesslog"
	"github.com/fshare/fshare/internal/config"
	"github.com/fshare/fshare/internal/constants"
)

type testEnv struct {
	srv     *Server
	share   string
	outside string
	tmp     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	base := t.TempDir()
	share := filepath.Join(base, "share")
	outside := filepath.Join(base, "outside")
	tmp := filepath.Join(base, "tmp")
	for _, dir := range []string{
		filepath.Join(share, "docs", "docs"),
		outside,
		tmp,
	} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(share, "docs", "readme.txt"), []byte("read me"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(share, "docs", "docs", "inner.txt"), []byte("inner"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0644))

	cfg := config.NewServerConfig()
	cfg.SharedFolders = []string{share}
	cfg.Users = map[string]string{"admin": "admin"}
	cfg.AccessCode = "ABC123"
	cfg.TempDir = tmp

	srv, err := New(Options{Config: cfg, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	return &testEnv{srv: srv, share: share, outside: outside, tmp: tmp}
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, user, pass, ip string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"username": {user}, "password": {pass}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	return e.do(req)
}

func (e *testEnv) session(t *testing.T) *http.Cookie {
	t.Helper()
	rec := e.login(t, "admin", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == constants.SessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func get(path string, query url.Values) *http.Request {
	u := path
	if query != nil {
		u += "?" + query.Encode()
	}
	return httptest.NewRequest(http.MethodGet, u, nil)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestExampleScenario(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)

	rec := env.do(get("/api/files", url.Values{"path": {filepath.Join(env.share, "docs")}}), cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Files       []FileEntry `json:"files"`
		CurrentPath string      `json:"currentPath"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Files, 2)
	assert.Equal(t, "docs", listing.Files[0].Name)
	assert.True(t, listing.Files[0].IsDir)
	assert.Equal(t, "readme.txt", listing.Files[1].Name)
	assert.False(t, listing.Files[1].IsDir)
	assert.Equal(t, int64(7), listing.Files[1].SizeBytes)
	assert.Equal(t, filepath.Join(env.share, "docs"), listing.CurrentPath)

	rec = env.do(get("/api/files", url.Values{"path": {"/etc"}}), cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", decode(t, rec)["error"])
}

func TestRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/files", "/api/shared_folders", "/download", "/download_folder", "/api/access_log"} {
		rec := env.do(get(path, url.Values{"path": {env.share}}))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	bogus := &http.Cookie{Name: constants.SessionCookieName, Value: "not-a-token"}
	rec := env.do(get("/api/shared_folders", nil), bogus)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginThrottling(t *testing.T) {
	env := newTestEnv(t)
	const ip = "203.0.113.7"

	for want := 4; want >= 1; want-- {
		rec := env.login(t, "admin", "wrong", ip)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.EqualValues(t, want, decode(t, rec)["attempts_remaining"])
	}

	rec := env.login(t, "admin", "wrong", ip)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Correct credentials are refused while blocked, without timing details.
	rec = env.login(t, "admin", "admin", ip)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotContains(t, rec.Body.String(), "900")
	assert.Empty(t, rec.Result().Cookies())

	// Other addresses are unaffected.
	rec = env.login(t, "admin", "admin", "198.51.100.1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)

	rec := env.do(get("/logout", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == constants.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "logout should expire the session cookie")
}

func TestPingAndCheckCode(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(get("/api/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "ABC123", body["code"])
	assert.EqualValues(t, 1, body["shared_count"])

	rec = env.do(get("/api/check_code", url.Values{"code": {"abc123"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["valid"])

	rec = env.do(get("/api/check_code", url.Values{"code": {"WRONG1"}}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, decode(t, rec)["valid"])
}

func TestSharedFolders(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(get("/api/shared_folders", nil), env.session(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{env.share}, decode(t, rec)["folders"])
}

func TestListFolder_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"b.txt", "A.txt", "c", "B2"} {
		p := filepath.Join(env.share, name)
		if strings.Contains(name, ".") {
			require.NoError(t, os.WriteFile(p, nil, 0644))
		} else {
			require.NoError(t, os.Mkdir(p, 0755))
		}
	}

	_, first, err := ListFolder(env.srv.Sandbox(), env.share)
	require.NoError(t, err)
	_, second, err := ListFolder(env.srv.Sandbox(), env.share)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var names []string
	for _, e := range first {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"B2", "c", "docs", "A.txt", "b.txt"}, names)
}

func TestListFolder_Errors(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)

	rec := env.do(get("/api/files", url.Values{"path": {filepath.Join(env.share, "docs", "readme.txt")}}), cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(get("/api/files", url.Values{"path": {filepath.Join(env.share, "..", "outside")}}), cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), env.outside)

	rec = env.do(get("/api/files", nil), cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)
	name := "отчёт 2024.txt"
	require.NoError(t, os.WriteFile(filepath.Join(env.share, name), []byte("0123456789"), 0644))

	rec := env.do(get("/download", url.Values{"path": {filepath.Join(env.share, name)}}), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	cd := rec.Header().Get("Content-Disposition")
	assert.True(t, strings.HasPrefix(cd, "attachment;"), cd)
	assert.Contains(t, cd, "filename*=UTF-8''"+encodeRFC5987(name))
	assert.Contains(t, cd, "%20")

	req := get("/download", url.Values{"path": {filepath.Join(env.share, name)}})
	req.Header.Set("Range", "bytes=2-4")
	rec = env.do(req, cookie)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "234", rec.Body.String())
}

func TestDownload_Errors(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)

	rec := env.do(get("/download", url.Values{"path": {filepath.Join(env.outside, "secret.txt")}}), cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = env.do(get("/download", url.Values{"path": {filepath.Join(env.share, "missing.txt")}}), cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(get("/download", url.Values{"path": {filepath.Join(env.share, "docs")}}), cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadFolder(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)

	for _, comp := range []string{"", "deflate"} {
		rec := env.do(get("/download_folder", url.Values{"path": {filepath.Join(env.share, "docs")}, "comp": {comp}}), cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="docs.zip"`)
		assert.Equal(t, strconv.Itoa(rec.Body.Len()), rec.Header().Get("Content-Length"))

		zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
		require.NoError(t, err)
		names := map[string]uint16{}
		for _, f := range zr.File {
			names[f.Name] = f.Method
		}
		assert.Contains(t, names, "readme.txt")
		assert.Contains(t, names, "docs/inner.txt")
		if comp == "deflate" {
			assert.Equal(t, zip.Deflate, names["readme.txt"])
		} else {
			assert.Equal(t, zip.Store, names["readme.txt"])
		}

		left, err := os.ReadDir(env.tmp)
		require.NoError(t, err)
		assert.Empty(t, left, "temporary archive must be removed")
	}
}

func TestDownloadFolder_SkipsEscapingSymlink(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)
	if err := os.Symlink(env.outside, filepath.Join(env.share, "docs", "leak")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	rec := env.do(get("/download_folder", url.Values{"path": {filepath.Join(env.share, "docs")}}), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestDownloadFolder_Errors(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)

	rec := env.do(get("/download_folder", url.Values{"path": {env.outside}}), cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(get("/download_folder", url.Values{"path": {filepath.Join(env.share, "docs", "readme.txt")}}), cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func uploadRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)

	rec := env.do(uploadRequest(t, map[string]string{"target_folder": env.share}, "new.txt", []byte("hello")), cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, filepath.Join(env.share, "new.txt"), body["path"])
	data, err := os.ReadFile(filepath.Join(env.share, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Same destination is overwritten.
	rec = env.do(uploadRequest(t, map[string]string{"target_folder": env.share}, "new.txt", []byte("v2")), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	data, _ = os.ReadFile(filepath.Join(env.share, "new.txt"))
	assert.Equal(t, "v2", string(data))

	// No stray temp files remain.
	entries, _ := os.ReadDir(env.share)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".part"), e.Name())
	}
}

func TestUpload_RelativePath(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)

	fields := map[string]string{"target_folder": env.share, "relative_path": "photos/2024/img.jpg"}
	rec := env.do(uploadRequest(t, fields, "img.jpg", []byte("jpeg")), cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err := os.Stat(filepath.Join(env.share, "photos", "2024", "img.jpg"))
	assert.NoError(t, err)
}

func TestUpload_SanitizesFilename(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)

	rec := env.do(uploadRequest(t, map[string]string{"target_folder": env.share}, "../../escape.txt", []byte("x")), cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err := os.Stat(filepath.Join(env.share, "escape.txt"))
	assert.NoError(t, err)
}

func TestUpload_Errors(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)

	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		want     int
	}{
		{"no file", map[string]string{"target_folder": env.share}, "", http.StatusBadRequest},
		{"no target", map[string]string{}, "a.txt", http.StatusBadRequest},
		{"target outside", map[string]string{"target_folder": env.outside}, "a.txt", http.StatusForbidden},
		{"relative traversal", map[string]string{"target_folder": env.share, "relative_path": "../outside/a.txt"}, "a.txt", http.StatusForbidden},
		{"deep relative traversal", map[string]string{"target_folder": env.share, "relative_path": "../../outside/a.txt"}, "a.txt", http.StatusForbidden},
		{"absolute relative path", map[string]string{"target_folder": env.share, "relative_path": "/etc/passwd"}, "a.txt", http.StatusForbidden},
		{"empty relative path", map[string]string{"target_folder": env.share, "relative_path": "./."}, "a.txt", http.StatusBadRequest},
		{"destination is dir", map[string]string{"target_folder": env.share, "relative_path": "docs"}, "a.txt", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(uploadRequest(t, tt.fields, tt.filename, []byte("x")), cookie)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Contains(t, decode(t, rec), "error")
		})
	}

	_, err := os.Stat(filepath.Join(env.outside, "a.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestAccessLogRecordsActions(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)
	env.do(get("/download", url.Values{"path": {filepath.Join(env.share, "docs", "readme.txt")}}), cookie)

	rec := env.do(get("/api/access_log", url.Values{"limit": {"10"}}), cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entries []accesslog.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 2)
	assert.Equal(t, accesslog.ActionLogin, body.Entries[0].Action)
	assert.Equal(t, accesslog.ActionDownload, body.Entries[1].Action)
	assert.Equal(t, "admin", body.Entries[1].Identity)
}

func TestDataEndpointsAreLogged(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)
	log := env.srv.AccessLog()
	before := log.Len()

	rec := env.do(get("/api/shared_folders", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, before+1, log.Len())
	last := log.Recent(1)[0]
	assert.Equal(t, accesslog.ActionSharedFolders, last.Action)
	assert.Equal(t, "admin", last.Identity)
	assert.Equal(t, "1 folders", last.Detail)

	rec = env.do(get("/api/access_log", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, before+2, log.Len())
	assert.Equal(t, accesslog.ActionAccessLog, log.Recent(1)[0].Action)
}

func TestUploadEscapeIsLoggedAsForbidden(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.session(t)

	fields := map[string]string{"target_folder": env.share, "relative_path": "../outside/pwned.txt"}
	rec := env.do(uploadRequest(t, fields, "pwned.txt", []byte("x")), cookie)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, "Access denied", decode(t, rec)["error"])

	last := env.srv.AccessLog().Recent(1)[0]
	assert.Equal(t, accesslog.ActionForbidden, last.Action)
	assert.Equal(t, "../outside/pwned.txt", last.Detail)
	_, err := os.Stat(filepath.Join(env.outside, "pwned.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestClientAddr(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		headers map[string]string
		trust   bool
		want    string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, true, "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "3.3.3.3"}, true, "3.3.3.3"},
		{"remote addr", nil, true, "192.0.2.1"},
		{"untrusted headers", map[string]string{"X-Forwarded-For": "1.1.1.1"}, false, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.srv.cfg.TrustProxyHeaders = tt.trust
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, env.srv.clientAddr(c))
		})
	}
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename="report.pdf"; filename*=UTF-8''report.pdf`, contentDisposition("report.pdf"))
	assert.Equal(t, `attachment; filename="a_b.txt"; filename*=UTF-8''a%22b.txt`, contentDisposition(`a"b.txt`))
	assert.Equal(t, "%C3%A9", encodeRFC5987("é"))
}
