package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/pawfect/pkg/config"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error", "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, root.ExecuteContext(context.Background()))
	return out.String()
}

func TestConfigCommandRedactsSecrets(t *testing.T) {
	t.Setenv("PAWFECT_SERVER_JWT_SECRET", "s3cret")
	t.Setenv("PAWFECT_SERVER_ADDR", ":9090")

	out := run(t, "config")
	require.NotContains(t, out, "s3cret")

	var s config.Settings
	require.NoError(t, yaml.Unmarshal([]byte(out), &s))
	require.Equal(t, ":9090", s.Server.Addr)
	require.Equal(t, "<redacted>", s.Server.JWTSecret)
}

func TestConfigFileAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "pawfect.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("client:\n  base-url: http://chat.example:8080\n"), 0o600))
	env := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(env, []byte("PAWFECT_GEO_ENDPOINT=http://geo.example/v1\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("PAWFECT_GEO_ENDPOINT") })

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config", cfg, "--env-file", env, "--log-level", "error"})
	require.NoError(t, root.Execute())

	var s config.Settings
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &s))
	require.Equal(t, "http://chat.example:8080", s.Client.BaseURL)
	require.Equal(t, "http://geo.example/v1", s.Geo.Endpoint)
}

func TestAddressCommandMarksServiceArea(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"place_id": "1", "display_name": "Isulan, Sultan Kudarat", "address": map[string]string{"city": "Isulan", "state": "Sultan Kudarat"}},
			{"place_id": "2", "display_name": "Koronadal, South Cotabato", "address": map[string]string{"city": "Koronadal", "state": "South Cotabato"}},
		})
	}))
	defer srv.Close()

	out := run(t, "address", "--geo-endpoint", srv.URL, "Isu")
	require.Contains(t, out, "Isulan, Sultan Kudarat")
	require.Contains(t, out, "outside service area")
}

func TestParseSalary(t *testing.T) {
	v, err := parseSalary("25,000.50")
	require.NoError(t, err)
	require.Equal(t, 25000.5, v)

	v, err = parseSalary("")
	require.NoError(t, err)
	require.Zero(t, v)

	_, err = parseSalary("-1")
	require.Error(t, err)
	_, err = parseSalary("lots")
	require.Error(t, err)
}

func TestValidBirthdate(t *testing.T) {
	require.NoError(t, validBirthdate(""))
	require.NoError(t, validBirthdate("1990-04-12"))
	require.Error(t, validBirthdate("12/04/1990"))
	require.Error(t, validBirthdate("2999-01-01"))
}
