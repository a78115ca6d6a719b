package scaffold

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/wits/internal/config"
	"github.com/oshokin/wits/internal/logger"
	"github.com/oshokin/wits/internal/workspace"
)

// Prepare creates the ignore file and resets an unusable project config.
func Prepare(ctx context.Context, ws workspace.Context) error {
	if err := EnsureIgnoreFile(ctx, ws); err != nil {
		return err
	}

	return EnsureProjectConfig(ctx, ws)
}

// EnsureIgnoreFile creates an empty ignore file when none exists.
func EnsureIgnoreFile(ctx context.Context, ws workspace.Context) error {
	path := ws.IgnorePath()

	if _, err := os.Stat(path); err == nil {
		logger.InfoKV(ctx, "Ignore file already exists", "path", path)

		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.WriteFile(path, nil, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	logger.InfoKV(ctx, "Ignore file prepared", "path", path)

	return nil
}

// EnsureProjectConfig keeps a populated project config and recreates
// anything else as an empty file.
func EnsureProjectConfig(ctx context.Context, ws workspace.Context) error {
	path := ws.ProjectConfigPath()

	data, err := os.ReadFile(path)

	switch {
	case err == nil && config.IsPopulated(data):
		logger.InfoKV(ctx, "Project config already exists", "path", path)

		return nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err = os.WriteFile(path, nil, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	logger.InfoKV(ctx, "Project config prepared", "path", path)

	return nil
}
