package signing

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
)

var (
	errNoProfiles        = errors.New("signing profile has no <profiles> root")
	errProfileNotFound   = errors.New("signing profile not found")
	errIncompleteProfile = errors.New("signing profile needs author and distributor key stores")
)

// ProfileItem references the key store of one identity.
type ProfileItem struct {
	Identity Identity
	KeyPath  string
	Password string
}

// Profile is one entry of profiles.xml.
type Profile struct {
	Name  string
	Items []ProfileItem
}

// Item returns the key store of id.
func (p *Profile) Item(id Identity) (ProfileItem, bool) {
	for _, item := range p.Items {
		if item.Identity == id {
			return item, true
		}
	}

	return ProfileItem{}, false
}

// LoadProfile reads the active profile of a profiles.xml document. Key store
// paths are resolved relative to the document.
func LoadProfile(path string) (*Profile, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("read signing profile: %w", err)
	}

	root := doc.SelectElement("profiles")
	if root == nil {
		return nil, errNoProfiles
	}

	active := root.SelectAttrValue("active", "")

	for _, element := range root.SelectElements("profile") {
		name := element.SelectAttrValue("name", "")
		if active != "" && name != active {
			continue
		}

		profile := &Profile{Name: name}

		for _, item := range element.SelectElements("profileitem") {
			key := strings.TrimSpace(item.SelectAttrValue("key", ""))
			if key == "" {
				continue
			}

			identity, ok := identityOf(item.SelectAttrValue("distributor", "0"))
			if !ok {
				continue
			}

			if !filepath.IsAbs(key) {
				key = filepath.Join(filepath.Dir(path), key)
			}

			profile.Items = append(profile.Items, ProfileItem{
				Identity: identity,
				KeyPath:  key,
				Password: item.SelectAttrValue("password", ""),
			})
		}

		if _, ok := profile.Item(Author); !ok {
			return nil, fmt.Errorf("%q: %w", name, errIncompleteProfile)
		}

		if _, ok := profile.Item(Distributor); !ok {
			return nil, fmt.Errorf("%q: %w", name, errIncompleteProfile)
		}

		return profile, nil
	}

	return nil, fmt.Errorf("%q: %w", active, errProfileNotFound)
}

func identityOf(distributor string) (Identity, bool) {
	switch strings.TrimSpace(distributor) {
	case "0":
		return Author, true
	case "1":
		return Distributor, true
	case "2":
		return SecondDistributor, true
	default:
		return "", false
	}
}
