package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pkcs12"

	"github.com/oshokin/wits/internal/workspace"
)

// Identity names a signing role.
type Identity string

// Signing roles in the order their signatures are produced.
const (
	Author            Identity = "author"
	Distributor       Identity = "distributor"
	SecondDistributor Identity = "distributor2"
)

const (
	pemBlockCertificate = "CERTIFICATE"
	pemBlockPrivateKey  = "PRIVATE KEY"

	credentialFileMode = 0o600
)

var (
	errNoPrivateKey   = errors.New("key store holds no private key")
	errNoCertificate  = errors.New("key store holds no certificate")
	errUnsupportedKey = errors.New("unsupported private key type")
	errKeyNotSigner   = errors.New("private key cannot sign")
)

// Credential is where the active PEM material of one identity lives.
type Credential struct {
	Identity Identity
	KeyPath  string
	CertPath string
}

// ActiveCredentials returns the active key and certificate files of every identity.
func ActiveCredentials(ws workspace.Context) []Credential {
	identities := []Identity{Author, Distributor, SecondDistributor}
	result := make([]Credential, 0, len(identities))

	for _, id := range identities {
		result = append(result, Credential{
			Identity: id,
			KeyPath:  filepath.Join(ws.ActiveCredentialDir(), string(id)+".key.pem"),
			CertPath: filepath.Join(ws.ActiveCredentialDir(), string(id)+".crt.pem"),
		})
	}

	return result
}

// ActiveCredentialPaths flattens ActiveCredentials into file paths.
func ActiveCredentialPaths(ws workspace.Context) []string {
	credentials := ActiveCredentials(ws)
	result := make([]string, 0, len(credentials)*2)

	for _, c := range credentials {
		result = append(result, c.KeyPath, c.CertPath)
	}

	return result
}

// Material is the decoded key and certificate chain of one identity.
type Material struct {
	Identity Identity
	Key      crypto.Signer
	Chain    []*x509.Certificate
}

// DecodeKeyStore converts a PKCS#12 key store into signing material.
func DecodeKeyStore(identity Identity, data []byte, password string) (*Material, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode %s key store: %w", identity, err)
	}

	material := &Material{Identity: identity}

	for _, block := range blocks {
		switch block.Type {
		case pemBlockCertificate:
			cert, parseErr := x509.ParseCertificate(block.Bytes)
			if parseErr != nil {
				return nil, fmt.Errorf("parse %s certificate: %w", identity, parseErr)
			}

			material.Chain = append(material.Chain, cert)
		case pemBlockPrivateKey:
			if material.Key, err = parsePrivateKey(block.Bytes); err != nil {
				return nil, fmt.Errorf("parse %s key: %w", identity, err)
			}
		}
	}

	if material.Key == nil {
		return nil, fmt.Errorf("%s: %w", identity, errNoPrivateKey)
	}

	if len(material.Chain) == 0 {
		return nil, fmt.Errorf("%s: %w", identity, errNoCertificate)
	}

	return material, nil
}

// pkcs12.ToPEM labels every key "PRIVATE KEY" whatever its encoding.
func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errKeyNotSigner
	}

	return signer, nil
}

// WriteActive stores m as the active PEM files of cred.
func (m *Material) WriteActive(cred Credential) error {
	keyDER, err := x509.MarshalPKCS8PrivateKey(m.Key)
	if err != nil {
		return fmt.Errorf("marshal %s key: %w", m.Identity, err)
	}

	if err = os.MkdirAll(filepath.Dir(cred.KeyPath), 0o700); err != nil {
		return fmt.Errorf("prepare credential directory: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: pemBlockPrivateKey, Bytes: keyDER})
	if err = os.WriteFile(cred.KeyPath, keyPEM, credentialFileMode); err != nil {
		return fmt.Errorf("write %s key: %w", m.Identity, err)
	}

	var certPEM []byte
	for _, cert := range m.Chain {
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: pemBlockCertificate, Bytes: cert.Raw})...)
	}

	if err = os.WriteFile(cred.CertPath, certPEM, credentialFileMode); err != nil {
		return fmt.Errorf("write %s certificate: %w", m.Identity, err)
	}

	return nil
}

func signatureMethod(key crypto.Signer) (string, error) {
	switch key.Public().(type) {
	case *rsa.PublicKey:
		return "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512", nil
	case *ecdsa.PublicKey:
		return "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha512", nil
	default:
		return "", errUnsupportedKey
	}
}
