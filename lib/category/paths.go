package category

import (
	"strings"

	"github.com/peerhub/peerhub/core"
)

// SetClientDefaultPath records a client instance's default download dir,
// used as the translation root for the Default category.
func (m *Manager) SetClientDefaultPath(instanceID, path string) {
	m.Lock()
	defer m.Unlock()
	m.defaultPaths[instanceID] = normalize(path)
}

// ClientDefaultPath returns the recorded default dir for an instance.
func (m *Manager) ClientDefaultPath(instanceID string) string {
	m.Lock()
	defer m.Unlock()
	return m.defaultPaths[instanceID]
}

// TranslatePath maps a path as seen by a client into the path the app (or
// another mount of the same data) sees. The category with the longest path
// prefix match wins (Default excluded); its per-instance or per-type mapping
// replaces the matched prefix. When no category matches, the Default
// category's mappings apply with the client's default dir as root. Input is
// returned unchanged if nothing matches.
func (m *Manager) TranslatePath(clientPath string, t core.ClientType, instanceID string) string {
	m.Lock()
	defer m.Unlock()

	norm := normalize(clientPath)

	var best *core.Category
	bestLen := -1
	for _, name := range m.order {
		c := m.categories[name]
		if c.IsDefault() || c.Path == "" {
			continue
		}
		prefix := normalize(c.Path)
		if hasPathPrefix(norm, prefix) && len(prefix) > bestLen {
			best = c
			bestLen = len(prefix)
		}
	}
	if best != nil {
		dest := best.DestPathFor(instanceID, t)
		if dest == "" || normalize(dest) == normalize(best.Path) {
			return clientPath
		}
		return normalize(dest) + norm[bestLen:]
	}

	// Default fallback, rooted at the client's default directory.
	d, ok := m.categories[core.DefaultCategoryName]
	if !ok {
		return clientPath
	}
	root := m.defaultPaths[instanceID]
	if root == "" || !hasPathPrefix(norm, root) {
		return clientPath
	}
	dest := d.DestPathFor(instanceID, t)
	if dest == "" {
		return clientPath
	}
	return normalize(dest) + norm[len(root):]
}

// DestPaths is the local/remote pair a move operation needs.
type DestPaths struct {
	Local  string
	Remote string
}

// ResolveCategoryDestPaths resolves the destination directory of a category
// for a given instance, as both the app-local view and the client-remote
// view. For nativeMove clients the category path serves both sides, which is
// only correct when the app and the client share the same filesystem view.
func (m *Manager) ResolveCategoryDestPaths(
	name string, t core.ClientType, instanceID string) (DestPaths, error) {

	c, err := m.Get(name)
	if err != nil {
		return DestPaths{}, err
	}
	remote := c.DestPathFor(instanceID, t)
	if remote == "" {
		remote = c.Path
	}
	meta, _ := core.LookupMeta(t)
	if meta.Capabilities.NativeMove {
		return DestPaths{Local: c.Path, Remote: c.Path}, nil
	}
	local := m.TranslatePath(remote, t, instanceID)
	return DestPaths{Local: local, Remote: remote}, nil
}

// normalize strips trailing slashes so prefix comparison is stable.
func normalize(p string) string {
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// hasPathPrefix reports whether p lives under prefix at a path component
// boundary.
func hasPathPrefix(p, prefix string) bool {
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}
