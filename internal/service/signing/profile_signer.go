package signing

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/beevik/etree"

	"github.com/oshokin/wits/internal/domain/wits"
	"github.com/oshokin/wits/internal/logger"
	"github.com/oshokin/wits/internal/workspace"
)

// DigestHash is the hash of every reference digest and signature.
const DigestHash = crypto.SHA512

const (
	xmldsigNamespace  = "http://www.w3.org/2000/09/xmldsig#"
	c14nAlgorithm     = "http://www.w3.org/2001/10/xml-exc-c14n#"
	digestAlgorithm   = "http://www.w3.org/2001/04/xmlenc#sha512"
	widgetRolePrefix  = "http://www.w3.org/ns/widgets-digsig#role-"
	signatureFileMode = 0o644
	authorSignatureID = "AuthorSignature"
	distributorSigID  = "DistributorSignature"
)

var errMissingIdentity = errors.New("signing material is missing an identity")

// ProfileSigner signs the container in-process from a signing profile.
type ProfileSigner struct {
	ws workspace.Context
}

// NewProfileSigner creates a ProfileSigner for ws.
func NewProfileSigner(ws workspace.Context) *ProfileSigner {
	return &ProfileSigner{ws: ws}
}

// Sign decodes the key stores of the profile, refreshes the active
// credentials and writes the signature documents.
func (s *ProfileSigner) Sign(ctx context.Context, profilePath string) error {
	profile, err := LoadProfile(profilePath)
	if err != nil {
		return fmt.Errorf("%w: %w", wits.ErrSigning, err)
	}

	logger.InfoKV(ctx, "Signing with profile", "profile", profile.Name, "identities", len(profile.Items))

	credentials := ActiveCredentials(s.ws)
	materials := make([]*Material, 0, len(profile.Items))

	for _, item := range profile.Items {
		//nolint:gosec // Key store paths come from the user's signing profile.
		data, readErr := os.ReadFile(item.KeyPath)
		if readErr != nil {
			return fmt.Errorf("%w: read %s key store: %w", wits.ErrSigning, item.Identity, readErr)
		}

		material, decodeErr := DecodeKeyStore(item.Identity, data, item.Password)
		if decodeErr != nil {
			return fmt.Errorf("%w: %w", wits.ErrSigning, decodeErr)
		}

		for _, cred := range credentials {
			if cred.Identity != item.Identity {
				continue
			}

			if err = material.WriteActive(cred); err != nil {
				return fmt.Errorf("%w: %w", wits.ErrSigning, err)
			}
		}

		materials = append(materials, material)
	}

	return s.SignWith(ctx, materials)
}

// SignWith writes the signature documents using decoded material. The author
// signs the workspace files, each distributor additionally signs the author
// signature.
func (s *ProfileSigner) SignWith(ctx context.Context, materials []*Material) error {
	byIdentity := make(map[Identity]*Material, len(materials))
	for _, m := range materials {
		byIdentity[m.Identity] = m
	}

	author, distributor := byIdentity[Author], byIdentity[Distributor]
	if author == nil || distributor == nil {
		return fmt.Errorf("%w: %w", wits.ErrSigning, errMissingIdentity)
	}

	files, err := s.collectFiles()
	if err != nil {
		return fmt.Errorf("%w: %w", wits.ErrSigning, err)
	}

	if err = s.writeSignature(AuthorSignatureFilename, authorSignatureID, author, files); err != nil {
		return fmt.Errorf("%w: %w", wits.ErrSigning, err)
	}

	distributed := append(slices.Clone(files), AuthorSignatureFilename)
	signed := slices.Clone(distributed)

	if err = s.writeSignature(DistributorSignatureFilename, distributorSigID, distributor, distributed); err != nil {
		return fmt.Errorf("%w: %w", wits.ErrSigning, err)
	}

	signed = append(signed, DistributorSignatureFilename)

	if second := byIdentity[SecondDistributor]; second != nil {
		err = s.writeSignature(SecondDistributorSignatureFilename, distributorSigID+"2", second, distributed)
		if err != nil {
			return fmt.Errorf("%w: %w", wits.ErrSigning, err)
		}

		signed = append(signed, SecondDistributorSignatureFilename)
	}

	manifestPath := filepath.Join(s.ws.Container(), ManifestTempFilename)
	if err = os.WriteFile(manifestPath, []byte(strings.Join(signed, "\n")+"\n"), signatureFileMode); err != nil {
		return fmt.Errorf("%w: write %s: %w", wits.ErrSigning, ManifestTempFilename, err)
	}

	logger.InfoKV(ctx, "Workspace signed", "files", len(files), "signatures", len(signed)-len(files))

	return nil
}

// collectFiles lists container files in lexical order with slash separators.
func (s *ProfileSigner) collectFiles() ([]string, error) {
	root := s.ws.Container()

	var files []string

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}

		rel = filepath.ToSlash(rel)
		if workspace.ExcludedFromPackage(rel) {
			if entry.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if entry.IsDir() || isTransient(rel) {
			return nil
		}

		files = append(files, rel)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list workspace files: %w", err)
	}

	return files, nil
}

func (s *ProfileSigner) writeSignature(name, id string, material *Material, files []string) error {
	method, err := signatureMethod(material.Key)
	if err != nil {
		return fmt.Errorf("%s: %w", material.Identity, err)
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	signature := doc.CreateElement("Signature")
	signature.CreateAttr("xmlns", xmldsigNamespace)
	signature.CreateAttr("Id", id)

	signedInfo := signature.CreateElement("SignedInfo")
	signedInfo.CreateElement("CanonicalizationMethod").CreateAttr("Algorithm", c14nAlgorithm)
	signedInfo.CreateElement("SignatureMethod").CreateAttr("Algorithm", method)

	for _, rel := range files {
		digest, digestErr := digestFile(filepath.Join(s.ws.Container(), filepath.FromSlash(rel)))
		if digestErr != nil {
			return digestErr
		}

		reference := signedInfo.CreateElement("Reference")
		reference.CreateAttr("URI", rel)
		reference.CreateElement("DigestMethod").CreateAttr("Algorithm", digestAlgorithm)
		reference.CreateElement("DigestValue").SetText(digest)
	}

	value, err := signElement(signedInfo, material.Key)
	if err != nil {
		return fmt.Errorf("sign %s: %w", name, err)
	}

	signature.CreateElement("SignatureValue").SetText(value)

	x509Data := signature.CreateElement("KeyInfo").CreateElement("X509Data")
	for _, cert := range material.Chain {
		x509Data.CreateElement("X509Certificate").SetText(base64.StdEncoding.EncodeToString(cert.Raw))
	}

	role := roleOf(material.Identity)
	property := signature.CreateElement("Object").CreateElement("SignatureProperties").CreateElement("SignatureProperty")
	property.CreateAttr("Id", "role")
	property.CreateAttr("Target", "#"+id)
	property.CreateElement("Role").CreateAttr("URI", widgetRolePrefix+role)

	data, err := doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", name, err)
	}

	if err = os.WriteFile(filepath.Join(s.ws.Container(), name), data, signatureFileMode); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	return nil
}

// SignedInfoBytes serializes a SignedInfo element the way it is signed.
func SignedInfoBytes(signedInfo *etree.Element) ([]byte, error) {
	detached := etree.NewDocument()
	detached.SetRoot(signedInfo.Copy())

	return detached.WriteToBytes()
}

func signElement(signedInfo *etree.Element, key crypto.Signer) (string, error) {
	data, err := SignedInfoBytes(signedInfo)
	if err != nil {
		return "", err
	}

	sum := sha512.Sum512(data)

	value, err := key.Sign(rand.Reader, sum[:], crypto.SHA512)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(value), nil
}

func digestFile(path string) (string, error) {
	//nolint:gosec // Paths come from walking the container.
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	hash := sha512.New()
	if _, err = io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}

	return base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}

func roleOf(id Identity) string {
	if id == Author {
		return "author"
	}

	return "distributor"
}
