package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/wits/internal/domain/wits"
)

// TestWithDefaults fills only the empty answers.
func TestWithDefaults(t *testing.T) {
	t.Parallel()

	filled := WithDefaults(wits.UserAnswers{BaseAppPath: "/app"}, "10.0.0.2")
	require.Equal(t, wits.UserAnswers{
		BaseAppPath: "/app",
		HostIP:      "10.0.0.2",
		SocketPort:  DefaultSocketPort,
		Width:       DefaultWidth,
	}, filled)

	kept := wits.UserAnswers{HostIP: "10.0.0.9", SocketPort: 9000, Width: "1280"}
	require.Equal(t, kept, WithDefaults(kept, "10.0.0.2"))
}

// TestValidators accepts well-formed answers and rejects the rest.
func TestValidators(t *testing.T) {
	t.Parallel()

	app := t.TempDir()
	require.ErrorIs(t, ValidateBaseAppPath(app), errNoManifest)
	require.ErrorIs(t, ValidateBaseAppPath(" "), errEmptyValue)

	manifest := filepath.Join(app, "config.xml")
	require.NoError(t, os.WriteFile(manifest, []byte("<widget/>"), 0o600))
	require.NoError(t, ValidateBaseAppPath(app))
	require.ErrorIs(t, ValidateBaseAppPath(manifest), errNotDirectory)

	require.NoError(t, ValidateFile(manifest))
	require.ErrorIs(t, ValidateFile(app), errMissingFile)

	require.NoError(t, ValidateIP("192.168.0.10"))
	require.ErrorIs(t, ValidateIP("tv.local"), errBadIP)
	require.NoError(t, ValidateOptionalIP(""))
	require.ErrorIs(t, ValidateOptionalIP("nope"), errBadIP)

	require.NoError(t, ValidatePort("8498"))
	require.ErrorIs(t, ValidatePort("0"), errBadPort)
	require.ErrorIs(t, ValidatePort("70000"), errBadPort)
	require.ErrorIs(t, ValidatePort("port"), errBadPort)
}
