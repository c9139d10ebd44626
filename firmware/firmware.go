// Package firmware locates NCP firmware images bundled with the host.
package firmware

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Asset is a named firmware image. The name encodes the model and the
// version, for example "KG200Z-2.1.0.4.bin".
type Asset struct {
	Name string
	Data []byte
}

// Version returns the asset name up to the first '.'. It is compared
// verbatim against the version the module reports, which is truncated the
// same way.
func (a Asset) Version() string {
	return Truncate(a.Name)
}

// Truncate cuts s at its first '.'.
func Truncate(s string) string {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Provider lists the available firmware assets.
type Provider interface {
	Assets() ([]Asset, error)
}

// Find returns the first asset of p whose name starts with prefix.
func Find(p Provider, prefix string) (Asset, bool, error) {
	assets, err := p.Assets()
	if err != nil {
		return Asset{}, false, err
	}
	i := slices.IndexFunc(assets, func(a Asset) bool {
		return strings.HasPrefix(a.Name, prefix)
	})
	if i < 0 {
		return Asset{}, false, nil
	}
	return assets[i], true, nil
}

// Static is a fixed list of assets.
type Static []Asset

func (s Static) Assets() ([]Asset, error) {
	return s, nil
}

// DirProvider serves every regular file in Dir as an asset, sorted by name.
type DirProvider struct {
	Dir string
}

func (d DirProvider) Assets() ([]Asset, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("firmware: list %s: %w", d.Dir, err)
	}

	var assets []Asset
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.Dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("firmware: read %s: %w", e.Name(), err)
		}
		assets = append(assets, Asset{Name: e.Name(), Data: data})
	}
	return assets, nil
}
