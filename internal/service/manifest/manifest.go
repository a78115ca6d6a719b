package manifest

import (
	"strings"

	"github.com/beevik/etree"
)

const (
	// IdentitySuffix is appended to the host application id.
	IdentitySuffix = "WITs"

	// FilesystemReadPrivilege is always declared by the container.
	FilesystemReadPrivilege = "http://tizen.org/privilege/filesystem.read"
	// FilesystemWritePrivilege is always declared by the container.
	FilesystemWritePrivilege = "http://tizen.org/privilege/filesystem.write"

	// DefaultContentSrc is the entry document of the container.
	DefaultContentSrc = "index.html"
	// DefaultIconSrc is the icon of the container.
	DefaultIconSrc = "icon.png"

	rootTag        = "widget"
	applicationTag = "tizen:application"
	privilegeTag   = "tizen:privilege"
	accessTag      = "access"
	contentTag     = "content"
	iconTag        = "icon"
)

// AccessPolicy is the network access rule of the manifest.
type AccessPolicy struct {
	Origin     string
	Subdomains bool
}

// Manifest is the typed view of a transformed container manifest.
type Manifest struct {
	// AppID is the derived application identity.
	AppID string
	// PackageID is the package attribute of the application element, if any.
	PackageID string
	// Access is the network access policy.
	Access AccessPolicy
	// ContentSrc is the entry document.
	ContentSrc string
	// IconSrc is the icon reference.
	IconSrc string
	// Privileges lists declared privilege URIs in document order.
	Privileges []string
}

// RequiredPrivileges returns the privileges every container declares.
func RequiredPrivileges() []string {
	return []string{FilesystemReadPrivilege, FilesystemWritePrivilege}
}

// DeriveAppID appends IdentitySuffix unless id already carries it.
func DeriveAppID(id string) string {
	if strings.HasSuffix(id, IdentitySuffix) {
		return id
	}

	return id + IdentitySuffix
}

// HostAppName returns the second dot-separated segment of an id
// ("pkg.Name" -> "Name"). Ids without a package part are returned whole.
func HostAppName(appID string) string {
	parts := strings.Split(appID, ".")
	if len(parts) < 2 || parts[1] == "" {
		return appID
	}

	return parts[1]
}

// HasPrivilege reports whether uri is declared.
func (m *Manifest) HasPrivilege(uri string) bool {
	for _, p := range m.Privileges {
		if p == uri {
			return true
		}
	}

	return false
}

// fromDocument reads the typed view out of a parsed manifest.
func fromDocument(root *etree.Element) *Manifest {
	m := new(Manifest)

	for _, child := range root.ChildElements() {
		switch child.FullTag() {
		case applicationTag:
			m.AppID = child.SelectAttrValue("id", "")
			m.PackageID = child.SelectAttrValue("package", "")
		case accessTag:
			m.Access = AccessPolicy{
				Origin:     child.SelectAttrValue("origin", ""),
				Subdomains: child.SelectAttrValue("subdomains", "") == "true",
			}
		case contentTag:
			m.ContentSrc = child.SelectAttrValue("src", "")
		case iconTag:
			m.IconSrc = child.SelectAttrValue("src", "")
		case privilegeTag:
			if name := child.SelectAttrValue("name", ""); name != "" {
				m.Privileges = append(m.Privileges, name)
			}
		}
	}

	return m
}
