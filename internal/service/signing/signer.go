package signing

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/logger"
	"github.com/oshokin/wits/internal/workspace"
)

// Transient artifacts produced by signing and removed after packaging.
const (
	AuthorSignatureFilename            = "author-signature.xml"
	DistributorSignatureFilename       = "signature1.xml"
	SecondDistributorSignatureFilename = "signature2.xml"
	ManifestTempFilename               = ".manifest.tmp"
)

var errEmptyCommand = errors.New("signer command is empty")

// Signer produces signature artifacts in the container workspace.
type Signer interface {
	Sign(ctx context.Context, profilePath string) error
}

// TransientFiles lists the signature and manifest-temp artifact names.
func TransientFiles() []string {
	return []string{
		AuthorSignatureFilename,
		DistributorSignatureFilename,
		SecondDistributorSignatureFilename,
		ManifestTempFilename,
	}
}

func isTransient(rel string) bool {
	return slices.Contains(TransientFiles(), rel)
}

// CommandSigner runs an external signing tool inside the container.
type CommandSigner struct {
	ws      workspace.Context
	command []string
}

// NewCommandSigner creates a signer that runs command with the profile path appended.
func NewCommandSigner(ws workspace.Context, command []string) (*CommandSigner, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errEmptyCommand
	}

	return &CommandSigner{ws: ws, command: slices.Clone(command)}, nil
}

// Sign runs the tool and treats a non-zero exit as a signing failure.
func (s *CommandSigner) Sign(ctx context.Context, profilePath string) error {
	args := append(slices.Clone(s.command[1:]), profilePath)

	//nolint:gosec // The signer command comes from the tool settings.
	cmd := exec.CommandContext(ctx, s.command[0], args...)
	cmd.Dir = s.ws.Container()

	logger.DebugKV(ctx, "Running signer command", "command", s.command[0], "profile", profilePath)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", wits.ErrSigning, strings.TrimSpace(string(output)), err)
	}

	return nil
}
