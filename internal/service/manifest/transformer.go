package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beevik/etree"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/logger"
	"github.com/oshokin/wits/internal/workspace"
)

const (
	manifestFileMode = 0o644
	indentSpaces     = 4
)

// Transformer writes the container manifest derived from a host application.
type Transformer struct {
	ws workspace.Context
}

// NewTransformer creates a Transformer writing into ws.
func NewTransformer(ws workspace.Context) *Transformer {
	return &Transformer{ws: ws}
}

// Transform reads baseAppPath/config.xml, applies the container policy and
// writes the result to the container manifest.
func (t *Transformer) Transform(ctx context.Context, baseAppPath string) (*Manifest, error) {
	source := filepath.Join(baseAppPath, workspace.ManifestFilename)

	//nolint:gosec // Path comes from the user's own answers.
	original, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", source, wits.ErrManifestRead, err)
	}

	transformed, m, err := Apply(original)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", source, err)
	}

	logDiff(ctx, source, original, transformed)

	target := t.ws.ManifestPath()
	if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("prepare container: %w", err)
	}

	if err = os.WriteFile(target, transformed, manifestFileMode); err != nil {
		return nil, fmt.Errorf("write container manifest: %w", err)
	}

	logger.InfoKV(ctx, "Container manifest written", "app_id", m.AppID, "path", target)

	return m, nil
}

// Apply transforms manifest bytes and returns the serialized result with its typed view.
func Apply(data []byte) ([]byte, *Manifest, error) {
	doc, root, err := parse(data)
	if err != nil {
		return nil, nil, err
	}

	application := findFirst(root, applicationTag)
	if application == nil {
		return nil, nil, fmt.Errorf("%s element missing: %w", applicationTag, wits.ErrUnsupportedFormat)
	}

	application.CreateAttr("id", DeriveAppID(application.SelectAttrValue("id", "")))

	applyDebugShell(root)
	ensurePrivileges(root)
	ensureDeclaration(doc)

	doc.Indent(indentSpaces)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("serialize manifest: %w", err)
	}

	return out, fromDocument(root), nil
}

// HostAppID returns the derived container id for the host application at baseAppPath.
func HostAppID(baseAppPath string) (string, error) {
	source := filepath.Join(baseAppPath, workspace.ManifestFilename)

	//nolint:gosec // Path comes from the user's own answers.
	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("read %s: %w: %w", source, wits.ErrManifestRead, err)
	}

	_, root, err := parse(data)
	if err != nil {
		return "", err
	}

	application := findFirst(root, applicationTag)
	if application == nil {
		return "", fmt.Errorf("%s element missing: %w", applicationTag, wits.ErrUnsupportedFormat)
	}

	return DeriveAppID(application.SelectAttrValue("id", "")), nil
}

// ContentSource returns the host application's own entry document, read
// before the transform replaces it. Unreadable manifests fall back to
// DefaultContentSrc with a warning.
func ContentSource(ctx context.Context, baseAppPath string) string {
	source := filepath.Join(baseAppPath, workspace.ManifestFilename)

	//nolint:gosec // Path comes from the user's own answers.
	data, err := os.ReadFile(source)
	if err != nil {
		logger.WarnKV(ctx, "Failed to read config.xml, using default content src", "error", err)
		return DefaultContentSrc
	}

	_, root, err := parse(data)
	if err != nil {
		logger.WarnKV(ctx, "Failed to parse config.xml, using default content src", "error", err)
		return DefaultContentSrc
	}

	content := findFirst(root, contentTag)
	if content == nil || content.SelectAttrValue("src", "") == "" {
		logger.Warn(ctx, "config.xml has no content src, using default")
		return DefaultContentSrc
	}

	src := content.SelectAttrValue("src", "")
	logger.InfoKV(ctx, "Resolved content src", "src", src)

	return src
}

// applyDebugShell discards the user's access, content and icon elements and
// installs the fixed debugging shell values. The overwrite is intentional:
// the container must behave the same whatever the host application declares.
func applyDebugShell(root *etree.Element) {
	replaceAll(root, accessTag, map[string]string{"origin": "*", "subdomains": "true"})
	replaceAll(root, contentTag, map[string]string{"src": DefaultContentSrc})
	replaceAll(root, iconTag, map[string]string{"src": DefaultIconSrc})
}

// ensurePrivileges declares every required privilege exactly once.
func ensurePrivileges(root *etree.Element) {
	declared := make(map[string]struct{})

	var last *etree.Element

	for _, child := range root.ChildElements() {
		if child.FullTag() != privilegeTag {
			continue
		}

		name := child.SelectAttrValue("name", "")
		if _, ok := declared[name]; ok {
			root.RemoveChild(child)

			continue
		}

		declared[name] = struct{}{}
		last = child
	}

	insertAt := len(root.Child)
	if last != nil {
		insertAt = last.Index() + 1
	}

	for _, uri := range RequiredPrivileges() {
		if _, ok := declared[uri]; ok {
			continue
		}

		privilege := etree.NewElement(privilegeTag)
		privilege.CreateAttr("name", uri)
		root.InsertChildAt(insertAt, privilege)
		insertAt++
	}
}

// replaceAll removes every tag child and puts a single fresh element where the first one was.
func replaceAll(root *etree.Element, tag string, attrs map[string]string) {
	insertAt := -1

	for _, child := range root.ChildElements() {
		if child.FullTag() != tag {
			continue
		}

		if insertAt < 0 {
			insertAt = child.Index()
		}

		root.RemoveChild(child)
	}

	if insertAt < 0 {
		insertAt = len(root.Child)
	}

	element := etree.NewElement(tag)
	for _, key := range []string{"origin", "subdomains", "src"} {
		if value, ok := attrs[key]; ok {
			element.CreateAttr(key, value)
		}
	}

	root.InsertChildAt(insertAt, element)
}

// ensureDeclaration makes the document start with a UTF-8 XML declaration.
func ensureDeclaration(doc *etree.Document) {
	for _, token := range doc.Child {
		if pi, ok := token.(*etree.ProcInst); ok && pi.Target == "xml" {
			doc.RemoveChild(pi)
			break
		}
	}

	doc.InsertChildAt(0, etree.NewProcInst("xml", `version="1.0" encoding="UTF-8"`))
}

func parse(data []byte) (*etree.Document, *etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w: %w", wits.ErrUnsupportedFormat, err)
	}

	root := doc.Root()
	if root == nil || root.Tag != rootTag {
		return nil, nil, fmt.Errorf("%s root element missing: %w", rootTag, wits.ErrUnsupportedFormat)
	}

	return doc, root, nil
}

func findFirst(root *etree.Element, tag string) *etree.Element {
	for _, child := range root.ChildElements() {
		if child.FullTag() == tag {
			return child
		}
	}

	return nil
}

// logDiff logs a unified diff of the manifest change when debug logging is on.
func logDiff(ctx context.Context, source string, before, after []byte) {
	if !logger.FromContext(ctx).Desugar().Core().Enabled(zapcore.DebugLevel) {
		return
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: source,
		ToFile:   workspace.ManifestFilename,
		Context:  2,
	})
	if err != nil {
		logger.DebugKV(ctx, "Unable to diff manifest", "error", err)
		return
	}

	logger.Debugf(ctx, "Manifest changes:\n%s", diff)
}
