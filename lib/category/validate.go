package category

import (
	"fmt"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/utils/osutil"
)

// PathResult is the validation outcome for a single path.
type PathResult struct {
	Status *osutil.PathStatus `json:"status,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Validation maps probed paths to their results.
type Validation map[string]PathResult

// ValidateAllPaths coalesces rapid callers: each invocation resets the
// debounce timer, and when it fires a single validation pass runs. Every
// pending caller receives the same result. Many adapters finish their
// connect-time sync near-simultaneously, so this avoids a probe stampede.
func (m *Manager) ValidateAllPaths() (Validation, error) {
	v, err := m.validator.Call()
	if err != nil {
		return nil, err
	}
	return v.(Validation), nil
}

func (m *Manager) validatePass() (interface{}, error) {
	m.Lock()
	type probe struct {
		path string
		skip bool
	}
	var probes []probe
	for _, name := range m.order {
		c := m.categories[name]
		switch {
		case len(c.PathMappings) > 0:
			for key, p := range c.PathMappings {
				probes = append(probes, probe{path: p, skip: m.nativeMoveKey(key)})
			}
			if c.Path != "" && !c.IsDefault() {
				probes = append(probes, probe{path: c.Path})
			}
		case !c.IsDefault():
			if c.Path != "" {
				probes = append(probes, probe{path: c.Path})
			}
		default:
			for _, p := range m.defaultPaths {
				probes = append(probes, probe{path: p})
			}
		}
	}
	m.Unlock()

	result := make(Validation)
	for _, p := range probes {
		if p.path == "" {
			continue
		}
		if _, done := result[p.path]; done {
			continue
		}
		if p.skip {
			// Clients that move natively validate their own paths.
			result[p.path] = PathResult{Status: &osutil.PathStatus{
				Exists: true, Readable: true, Writable: true,
			}}
			continue
		}
		s := osutil.ProbePath(p.path)
		if !s.Exists {
			result[p.path] = PathResult{Error: fmt.Sprintf("path does not exist: %s", p.path)}
			continue
		}
		result[p.path] = PathResult{Status: &s}
	}
	return result, nil
}

// nativeMoveKey reports whether a pathMappings key refers to an instance or
// client type that handles moves internally. Caller holds m's lock.
func (m *Manager) nativeMoveKey(key string) bool {
	if meta, ok := core.LookupMeta(core.ClientType(key)); ok {
		return meta.Capabilities.NativeMove
	}
	a, err := m.registry.Get(key)
	if err != nil {
		return false
	}
	meta, ok := core.LookupMeta(a.Type())
	return ok && meta.Capabilities.NativeMove
}
