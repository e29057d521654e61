package commands

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdfdown/internal/domain"
)

func chatServer(t *testing.T, status int, markdown string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, `{"error":"unavailable"}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": markdown}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupEnv isolates the command from the host environment.
func setupEnv(t *testing.T, endpoint string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("PDFDOWN_MODEL", "")
	t.Setenv("PDFDOWN_WORKERS", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("PDFDOWN_ENDPOINT", endpoint)
	t.Setenv("PDFDOWN_HISTORY_DB", dbPath)
	return dbPath
}

func writeJPEG(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), nil))
	path := filepath.Join(t.TempDir(), "scan.jpg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand("test")
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--quiet", "--no-color"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestConvert_PrintsMarkdownToStdout(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "# Hello")
	setupEnv(t, srv.URL)

	stdout, stderr, err := run(t, "convert", "-i", writeJPEG(t), "--api-key", "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "# Hello\n", stdout)
	assert.NotContains(t, stderr, "# Hello")
}

func TestConvert_APIKeyFromEnv(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "# Env")
	setupEnv(t, srv.URL)
	t.Setenv("OPENAI_API_KEY", "sk-env")

	stdout, _, err := run(t, "convert", "-i", writeJPEG(t))
	require.NoError(t, err)
	assert.Equal(t, "# Env\n", stdout)
}

func TestConvert_WritesOutputFile(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "# File")
	setupEnv(t, srv.URL)
	out := filepath.Join(t.TempDir(), "out.md")

	stdout, _, err := run(t, "convert", "-i", writeJPEG(t), "--api-key", "sk-test", "-o", out)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "# File", string(data))
}

func TestConvert_AllPagesFailedStillSucceeds(t *testing.T) {
	srv := chatServer(t, http.StatusUnauthorized, "")
	setupEnv(t, srv.URL)

	stdout, _, err := run(t, "convert", "-i", writeJPEG(t), "--api-key", "sk-bad", "--max-retries", "0")
	require.NoError(t, err)
	assert.Empty(t, stdout)
}

func TestConvert_SetupErrors(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "unused")

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing api key", args: []string{"convert", "-i", "x.pdf"}},
		{name: "zero workers", args: []string{"convert", "-i", "x.pdf", "--api-key", "k", "--workers", "0"}},
		{name: "zero dpi", args: []string{"convert", "-i", "x.pdf", "--api-key", "k", "--dpi", "0"}},
		{name: "bad log level", args: []string{"--log-level", "loud", "convert", "-i", "x.pdf", "--api-key", "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupEnv(t, srv.URL)
			_, _, err := run(t, tt.args...)
			require.Error(t, err)
			assert.True(t, domain.IsType(err, domain.ErrorTypeSetup), "got %v", err)
		})
	}
}

func TestConvert_MissingInputFlag(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")
	_, _, err := run(t, "convert", "--api-key", "k")
	assert.Error(t, err)
}

func TestConvert_UnreadableInput(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "unused")
	setupEnv(t, srv.URL)

	_, _, err := run(t, "convert", "-i", filepath.Join(t.TempDir(), "missing.pdf"), "--api-key", "k")
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypePageSource))
}

func TestHistory_ListsRecordedRuns(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "# Logged")
	setupEnv(t, srv.URL)
	input := writeJPEG(t)

	_, _, err := run(t, "convert", "-i", input, "--api-key", "sk-test")
	require.NoError(t, err)

	stdout, _, err := run(t, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, stdout, input)
	assert.Contains(t, stdout, "1/1")
}

func TestHistory_UnknownRun(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")
	_, _, err := run(t, "history", "does-not-exist")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	stdout, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pdfdown version test\n", stdout)
}
