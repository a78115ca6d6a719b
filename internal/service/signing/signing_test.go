package signing

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/workspace"
)

func newWorkspace(t *testing.T) workspace.Context {
	t.Helper()

	ws, err := workspace.New(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	files := map[string]string{
		"config.xml":           "<widget/>",
		"index.html":           "<html></html>",
		"js/main.js":           "run();",
		"build/Wits.wgt":       "old package",
		".resource/x.txt":      "hidden",
		".wits-build.lock":     "1",
		"author-signature.xml": "stale",
	}

	for rel, content := range files {
		path := filepath.Join(ws.Container(), filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	return ws
}

func newMaterial(t *testing.T, id Identity, elliptical bool) *Material {
	t.Helper()

	var (
		key crypto.Signer
		err error
	)

	if elliptical {
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	} else {
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	}

	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: string(id)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &Material{Identity: id, Key: key, Chain: []*x509.Certificate{cert}}
}

func readSignature(t *testing.T, path string) (*etree.Element, []string) {
	t.Helper()

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromFile(path))

	signature := doc.SelectElement("Signature")
	require.NotNil(t, signature)

	var uris []string
	for _, ref := range signature.FindElements("./SignedInfo/Reference") {
		uris = append(uris, ref.SelectAttrValue("URI", ""))
	}

	return signature, uris
}

// TestActiveCredentials lists key and certificate files for every identity.
func TestActiveCredentials(t *testing.T) {
	t.Parallel()

	ws, err := workspace.New(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	paths := ActiveCredentialPaths(ws)
	require.Len(t, paths, 6)
	require.Equal(t, filepath.Join(ws.ActiveCredentialDir(), "author.key.pem"), paths[0])
	require.Equal(t, filepath.Join(ws.ActiveCredentialDir(), "distributor2.crt.pem"), paths[5])
}

// TestProfileSigner_SignWith writes verifiable signatures over the workspace files.
func TestProfileSigner_SignWith(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	author := newMaterial(t, Author, false)
	distributor := newMaterial(t, Distributor, true)

	signer := NewProfileSigner(ws)
	require.NoError(t, signer.SignWith(context.Background(), []*Material{author, distributor}))

	signature, uris := readSignature(t, filepath.Join(ws.Container(), AuthorSignatureFilename))
	require.Equal(t, []string{"config.xml", "index.html", "js/main.js"}, uris)

	signedInfo := signature.SelectElement("SignedInfo")
	data, err := SignedInfoBytes(signedInfo)
	require.NoError(t, err)

	value, err := base64.StdEncoding.DecodeString(signature.SelectElement("SignatureValue").Text())
	require.NoError(t, err)

	sum := sha512.Sum512(data)
	pub, ok := author.Key.Public().(*rsa.PublicKey)
	require.True(t, ok)
	require.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.SHA512, sum[:], value))

	content, err := os.ReadFile(filepath.Join(ws.Container(), "js", "main.js"))
	require.NoError(t, err)

	digest := sha512.Sum512(content)
	reference := signature.FindElement("./SignedInfo/Reference[@URI='js/main.js']/DigestValue")
	require.NotNil(t, reference)
	require.Equal(t, base64.StdEncoding.EncodeToString(digest[:]), reference.Text())

	_, uris = readSignature(t, filepath.Join(ws.Container(), DistributorSignatureFilename))
	require.Equal(t, []string{"config.xml", "index.html", "js/main.js", AuthorSignatureFilename}, uris)

	require.NoFileExists(t, filepath.Join(ws.Container(), SecondDistributorSignatureFilename))

	manifest, err := os.ReadFile(filepath.Join(ws.Container(), ManifestTempFilename))
	require.NoError(t, err)
	require.Equal(t, "config.xml\nindex.html\njs/main.js\nauthor-signature.xml\nsignature1.xml\n", string(manifest))
}

// TestProfileSigner_SecondDistributor writes signature2.xml when a second distributor exists.
func TestProfileSigner_SecondDistributor(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	materials := []*Material{
		newMaterial(t, Author, true),
		newMaterial(t, Distributor, true),
		newMaterial(t, SecondDistributor, true),
	}

	require.NoError(t, NewProfileSigner(ws).SignWith(context.Background(), materials))
	require.FileExists(t, filepath.Join(ws.Container(), SecondDistributorSignatureFilename))
}

// TestProfileSigner_SignWithRequiresIdentities rejects material without a distributor.
func TestProfileSigner_SignWithRequiresIdentities(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)

	err := NewProfileSigner(ws).SignWith(context.Background(), []*Material{newMaterial(t, Author, true)})
	require.ErrorIs(t, err, wits.ErrSigning)
}

// TestProfileSigner_SignFailures reports every profile problem as a signing error.
func TestProfileSigner_SignFailures(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)
	dir := t.TempDir()

	garbage := filepath.Join(dir, "author.p12")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key store"), 0o600))

	profile := filepath.Join(dir, "profiles.xml")
	require.NoError(t, os.WriteFile(profile, []byte(`<profiles active="wits">
  <profile name="wits">
    <profileitem distributor="0" key="author.p12" password="secret"/>
    <profileitem distributor="1" key="author.p12" password="secret"/>
  </profile>
</profiles>`), 0o600))

	signer := NewProfileSigner(ws)

	require.ErrorIs(t, signer.Sign(context.Background(), filepath.Join(dir, "missing.xml")), wits.ErrSigning)
	require.ErrorIs(t, signer.Sign(context.Background(), profile), wits.ErrSigning)
}

// TestLoadProfile resolves the active profile and relative key store paths.
func TestLoadProfile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<?xml version="1.0" encoding="UTF-8"?>
<profiles active="tv">
  <profile name="other">
    <profileitem distributor="0" key="/other/author.p12" password=""/>
  </profile>
  <profile name="tv">
    <profileitem distributor="0" key="author.p12" password="a"/>
    <profileitem distributor="1" key="/abs/distributor.p12" password="d"/>
    <profileitem distributor="2" key="" password=""/>
  </profile>
</profiles>`), 0o600))

	profile, err := LoadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "tv", profile.Name)
	require.Equal(t, []ProfileItem{
		{Identity: Author, KeyPath: filepath.Join(dir, "author.p12"), Password: "a"},
		{Identity: Distributor, KeyPath: "/abs/distributor.p12", Password: "d"},
	}, profile.Items)

	_, ok := profile.Item(SecondDistributor)
	require.False(t, ok)
}

// TestLoadProfile_Incomplete rejects a profile without a distributor key store.
func TestLoadProfile_Incomplete(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.xml")
	require.NoError(t, os.WriteFile(path, []byte(`<profiles>
  <profile name="p"><profileitem distributor="0" key="a.p12"/></profile>
</profiles>`), 0o600))

	_, err := LoadProfile(path)
	require.ErrorIs(t, err, errIncompleteProfile)
}

// TestMaterial_WriteActive stores PEM encoded key and chain.
func TestMaterial_WriteActive(t *testing.T) {
	t.Parallel()

	ws, err := workspace.New(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	material := newMaterial(t, Author, true)
	cred := ActiveCredentials(ws)[0]
	require.NoError(t, material.WriteActive(cred))

	keyPEM, err := os.ReadFile(cred.KeyPath)
	require.NoError(t, err)

	block, _ := pem.Decode(keyPEM)
	require.NotNil(t, block)
	require.Equal(t, "PRIVATE KEY", block.Type)

	key, err := parsePrivateKey(block.Bytes)
	require.NoError(t, err)
	require.True(t, key.Public().(*ecdsa.PublicKey).Equal(material.Key.Public()))

	certPEM, err := os.ReadFile(cred.CertPath)
	require.NoError(t, err)

	block, _ = pem.Decode(certPEM)
	require.NotNil(t, block)
	require.Equal(t, material.Chain[0].Raw, block.Bytes)
}

// TestCommandSigner runs the command in the container with the profile appended.
func TestCommandSigner(t *testing.T) {
	t.Parallel()

	ws := newWorkspace(t)

	signer, err := NewCommandSigner(ws, []string{"sh", "-c", `printf '%s' "$0" > signed-with.txt`})
	require.NoError(t, err)
	require.NoError(t, signer.Sign(context.Background(), "/profiles/tv.xml"))

	data, err := os.ReadFile(filepath.Join(ws.Container(), "signed-with.txt"))
	require.NoError(t, err)
	require.Equal(t, "/profiles/tv.xml", string(data))

	failing, err := NewCommandSigner(ws, []string{"sh", "-c", "echo broken >&2; exit 3"})
	require.NoError(t, err)

	err = failing.Sign(context.Background(), "p")
	require.ErrorIs(t, err, wits.ErrSigning)
	require.Contains(t, err.Error(), "broken")

	_, err = NewCommandSigner(ws, nil)
	require.ErrorIs(t, err, errEmptyCommand)
}
