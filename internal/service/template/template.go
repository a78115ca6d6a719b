package template

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/logger"
	"github.com/oshokin/wits/internal/service/manifest"
	"github.com/oshokin/wits/internal/workspace"
)

// Placeholder names.
const (
	TokenContentPath         = "CONTENT_PATH"
	TokenContentSrc          = "CONTENT_SRC"
	TokenHostIP              = "HOST_IP"
	TokenHostPort            = "HOST_PORT"
	TokenHostBaseContentPath = "HOST_BASE_CONTENT_PATH"
	TokenHostWidth           = "HOST_WIDTH"

	startTag = "{{"
	endTag   = "}}"

	renderedFileMode = 0o644
)

// Params maps placeholder names to their substitutions.
type Params map[string]string

// ScriptTokens returns the placeholders recognized in the bootstrap script.
func ScriptTokens() []string {
	return []string{TokenContentPath, TokenContentSrc, TokenHostIP, TokenHostPort, TokenHostBaseContentPath}
}

// DocumentTokens returns the placeholders recognized in the host document.
func DocumentTokens() []string {
	return []string{TokenHostWidth}
}

// Render substitutes recognized placeholders in text. A recognized token
// without a parameter renders empty; anything else between braces is kept.
func Render(text string, recognized []string, params Params) (string, error) {
	known := make(map[string]struct{}, len(recognized))
	for _, token := range recognized {
		known[token] = struct{}{}
	}

	return fasttemplate.ExecuteFuncStringWithErr(text, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		if _, ok := known[tag]; ok {
			return io.WriteString(w, params[tag])
		}

		// A stray start tag swallows everything up to the next end tag,
		// so the token itself is whatever follows the last start tag.
		if i := strings.LastIndex(tag, startTag); i >= 0 {
			token := tag[i+len(startTag):]
			if _, ok := known[token]; ok {
				return io.WriteString(w, startTag+tag[:i]+params[token])
			}
		}

		return io.WriteString(w, startTag+tag+endTag)
	})
}

// IsRemoteURL reports whether src points at a remote document.
func IsRemoteURL(src string) bool {
	lower := strings.ToLower(strings.TrimSpace(src))

	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// ResolveContentSrc returns src verbatim when remote, otherwise the on-device
// path of src under hostAppPath with one leading separator dropped.
func ResolveContentSrc(hostAppPath, src string) string {
	if IsRemoteURL(src) {
		return src
	}

	return hostAppPath + "/" + strings.TrimPrefix(src, "/")
}

// ScriptParams builds the bootstrap script substitutions.
func ScriptParams(answers wits.UserAnswers, device wits.DeviceInfo, hostAppID, contentSrc string) Params {
	hostAppPath := device.AppInstallPath + manifest.HostAppName(hostAppID)

	return Params{
		TokenContentPath:         hostAppPath,
		TokenContentSrc:          ResolveContentSrc(hostAppPath, contentSrc),
		TokenHostIP:              "http://" + answers.HostIP,
		TokenHostPort:            answers.Port(),
		TokenHostBaseContentPath: answers.BaseAppPath,
	}
}

// DocumentParams builds the host document substitutions.
func DocumentParams(answers wits.UserAnswers) Params {
	return Params{TokenHostWidth: answers.Width}
}

// Injector renders the container templates in a workspace.
type Injector struct {
	ws workspace.Context
}

// NewInjector creates an Injector for ws.
func NewInjector(ws workspace.Context) *Injector {
	return &Injector{ws: ws}
}

// Inject renders the template at templatePath.
func (i *Injector) Inject(templatePath string, recognized []string, params Params) (string, error) {
	//nolint:gosec // Template paths are derived from the workspace.
	data, err := os.ReadFile(templatePath)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w: %w", templatePath, wits.ErrResourceRead, err)
	}

	rendered, err := Render(string(data), recognized, params)
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", templatePath, err)
	}

	return rendered, nil
}

// InjectScript renders js/base.js into the executable entry point js/main.js.
func (i *Injector) InjectScript(
	ctx context.Context,
	answers wits.UserAnswers,
	device wits.DeviceInfo,
	hostAppID string,
	contentSrc string,
) error {
	params := ScriptParams(answers, device, hostAppID, contentSrc)

	if err := i.injectTo(i.ws.ScriptTemplatePath(), i.ws.ScriptOutputPath(), ScriptTokens(), params); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Bootstrap script rendered",
		"content_path", params[TokenContentPath],
		"content_src", params[TokenContentSrc],
		"host", params[TokenHostIP]+":"+params[TokenHostPort])

	return nil
}

// InjectDocument renders base.html into the installable entry document index.html.
func (i *Injector) InjectDocument(ctx context.Context, answers wits.UserAnswers) error {
	if err := i.injectTo(
		i.ws.DocumentTemplatePath(),
		i.ws.DocumentOutputPath(),
		DocumentTokens(),
		DocumentParams(answers),
	); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Entry document rendered", "width", answers.Width)

	return nil
}

func (i *Injector) injectTo(templatePath, outputPath string, recognized []string, params Params) error {
	rendered, err := i.Inject(templatePath, recognized, params)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("prepare %s: %w", outputPath, err)
	}

	if err = os.WriteFile(outputPath, []byte(rendered), renderedFileMode); err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}

	return nil
}
