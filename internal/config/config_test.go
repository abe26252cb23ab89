package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, source, err := Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Empty(t, source)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_ProjectFileWithComments(t *testing.T) {
	dir := t.TempDir()
	want := writeFile(t, dir, FileName, `{
	// local dev server
	"database": "dev.db",
	"log": {"level": "debug"}, /* format stays text */
	"coordinator": {"dedup_window": 0},
	"remote": {"write_timeout": "250ms"},
	"definitions": ["defs/contacts.cue"],
}`)

	cfg, source, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, want, source)

	expected := Default()
	expected.Database = "dev.db"
	expected.Log.Level = "debug"
	expected.Coordinator.DedupWindow = 0
	expected.Remote.WriteTimeout = Duration(250 * time.Millisecond)
	expected.Definitions = []string{"defs/contacts.cue"}
	if diff := cmp.Diff(expected, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, _, err := Load(t.TempDir(), "missing.json")
	require.ErrorIs(t, err, errFileNotFound)
}

func TestLoad_ExplicitRelativePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "etc"), 0o755))
	writeFile(t, filepath.Join(dir, "etc"), "rs.json", `{"listen": ":9000"}`)

	cfg, source, err := Load(dir, "etc/rs.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "etc", "rs.json"), source)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "recsync.db", cfg.Database)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", `{"database": }`, "invalid JSONC"},
		{"unknown key", `{"databse": "x.db"}`, "unknown field"},
		{"empty database", `{"database": ""}`, "database must not be empty"},
		{"bad level", `{"log": {"level": "loud"}}`, "log.level"},
		{"bad format", `{"log": {"format": "xml"}}`, "log.format"},
		{"bad duration", `{"remote": {"write_timeout": "soon"}}`, "invalid duration"},
		{"numeric duration", `{"remote": {"write_timeout": 5}}`, "duration must be a string"},
		{"negative window", `{"coordinator": {"dedup_window": -1}}`, "dedup_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, FileName, tt.content)
			_, _, err := Load(dir, "")
			require.ErrorIs(t, err, errInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]string{
		"debug":   "DEBUG",
		"INFO":    "INFO",
		"":        "INFO",
		"warning": "WARN",
		"error":   "ERROR",
	} {
		lvl, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, lvl.String(), name)
	}
}

func TestFormat_RoundTrips(t *testing.T) {
	out, err := Format(Default())
	require.NoError(t, err)
	assert.Contains(t, out, `"write_timeout": "5s"`)

	cfg, err := Parse([]byte(out))
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}
