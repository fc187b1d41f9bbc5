package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-harvester/internal/harvest"
)

func writeRoster(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestListTargetsPreservesOrder(t *testing.T) {
	t.Parallel()

	path := writeRoster(t, `
profiles:
  - identity_key: zed
    source_url: " https://scholar.example.org/zed "
  - identity_key: ada
  - identity_key: grace
    source_url: https://scholar.example.org/grace
`)
	provider, err := NewRosterProvider(path)
	require.NoError(t, err)

	targets, err := provider.ListTargets(context.Background())
	require.NoError(t, err)
	require.Equal(t, []harvest.ProfileTarget{
		{IdentityKey: "zed", SourceURL: "https://scholar.example.org/zed"},
		{IdentityKey: "ada"},
		{IdentityKey: "grace", SourceURL: "https://scholar.example.org/grace"},
	}, targets)
}

func TestListTargetsErrors(t *testing.T) {
	t.Parallel()

	_, err := NewRosterProvider("")
	require.Error(t, err)

	missing, err := NewRosterProvider(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	_, err = missing.ListTargets(context.Background())
	require.ErrorContains(t, err, "read roster")

	bad, err := NewRosterProvider(writeRoster(t, "profiles: [\n"))
	require.NoError(t, err)
	_, err = bad.ListTargets(context.Background())
	require.ErrorContains(t, err, "parse roster")

	anonymous, err := NewRosterProvider(writeRoster(t, "profiles:\n  - source_url: https://x\n"))
	require.NoError(t, err)
	_, err = anonymous.ListTargets(context.Background())
	require.ErrorContains(t, err, "identity_key")
}
