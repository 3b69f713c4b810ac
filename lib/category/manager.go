// Package category implements the app-wide category model: a single ordered
// set of categories kept coherent with each backend client's native
// categories, labels or folders, including per-client path translation.
package category

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/clientregistry"
	"github.com/peerhub/peerhub/utils/dedup"
	"github.com/peerhub/peerhub/utils/log"
)

const _fileVersion = 1

// Manager errors.
var (
	ErrNotFound      = errors.New("category not found")
	ErrAlreadyExists = errors.New("category already exists")
	ErrDefaultRename = errors.New("Cannot rename Default category")
	ErrDefaultDelete = errors.New("Cannot delete Default category")
)

// Config defines category manager configuration.
type Config struct {
	ValidationDebounce time.Duration `yaml:"validation_debounce"`
	PropagateTimeout   time.Duration `yaml:"propagate_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.ValidationDebounce == 0 {
		c.ValidationDebounce = 500 * time.Millisecond
	}
	if c.PropagateTimeout == 0 {
		c.PropagateTimeout = 15 * time.Second
	}
	return c
}

// Manager holds the category set. All mutations serialize through its mutex
// and commit locally before propagation to clients.
type Manager struct {
	sync.Mutex
	config   Config
	path     string
	registry *clientregistry.Registry

	categories map[string]*core.Category
	order      []string

	// Per-instance client default download dirs, used as translation root
	// for the Default category.
	defaultPaths map[string]string

	validator *dedup.Debouncer
}

// New loads the category document from dataDir (creating it, with the Default
// category, if absent).
func New(
	config Config,
	dataDir string,
	registry *clientregistry.Registry,
	clk clock.Clock) (*Manager, error) {

	config = config.applyDefaults()
	m := &Manager{
		config:       config,
		path:         filepath.Join(dataDir, "categories.json"),
		registry:     registry,
		categories:   make(map[string]*core.Category),
		defaultPaths: make(map[string]string),
	}
	m.validator = dedup.NewDebouncer(config.ValidationDebounce, clk, m.validatePass)
	if err := m.load(); err != nil {
		return nil, fmt.Errorf("load categories: %s", err)
	}
	return m, nil
}

type fileDoc struct {
	Version    int              `json:"version"`
	Categories []*core.Category `json:"categories"`
}

func (m *Manager) load() error {
	m.Lock()
	defer m.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read: %s", err)
	}
	if err == nil {
		var doc fileDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("unmarshal: %s", err)
		}
		for _, c := range doc.Categories {
			m.categories[c.Name] = c
			m.order = append(m.order, c.Name)
		}
	}
	if _, ok := m.categories[core.DefaultCategoryName]; !ok {
		now := time.Now()
		d := &core.Category{
			Name:      core.DefaultCategoryName,
			Color:     "#808080",
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.categories[d.Name] = d
		m.order = append([]string{d.Name}, m.order...)
		if err := m.persistLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) persistLocked() error {
	doc := fileDoc{Version: _fileVersion}
	for _, name := range m.order {
		doc.Categories = append(doc.Categories, m.categories[name])
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %s", err)
	}
	tmp := m.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("mkdir: %s", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write: %s", err)
	}
	return os.Rename(tmp, m.path)
}

// Get returns the category with the given name.
func (m *Manager) Get(name string) (*core.Category, error) {
	m.Lock()
	defer m.Unlock()
	c, ok := m.categories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c.Clone(), nil
}

// Snapshot returns a copy of all categories in stable order.
func (m *Manager) Snapshot() []*core.Category {
	m.Lock()
	defer m.Unlock()
	out := make([]*core.Category, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.categories[name].Clone())
	}
	return out
}

// GetAllForFrontend returns the categories in the shape the UI consumes.
func (m *Manager) GetAllForFrontend() []*core.Category {
	return m.Snapshot()
}

// UnlinkedFor returns the categories that have no native numeric id linked on
// the given instance. Native ids only exist on the ed2k family, so for other
// client types there is nothing to link and the result is nil.
func (m *Manager) UnlinkedFor(instanceID string, t core.ClientType) []*core.Category {
	meta, ok := core.LookupMeta(t)
	if !ok || meta.NetworkType != core.NetworkED2K {
		return nil
	}
	m.Lock()
	defer m.Unlock()
	var out []*core.Category
	for _, name := range m.order {
		c := m.categories[name]
		if _, linked := c.AmuleIDs[instanceID]; !linked {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Spec describes a create or update request.
type Spec struct {
	Name         string            `json:"name"`
	Color        string            `json:"color"`
	Path         string            `json:"path"`
	PathMappings map[string]string `json:"pathMappings"`
	Comment      string            `json:"comment"`
	Priority     *core.Priority    `json:"priority"`
}

// Create adds a category, propagates it to every connected client with the
// categories capability, revalidates paths and persists.
func (m *Manager) Create(ctx context.Context, spec Spec) (*core.Category, error) {
	if spec.Name == "" {
		return nil, errors.New("category name is empty")
	}
	m.Lock()
	if _, ok := m.categories[spec.Name]; ok {
		m.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, spec.Name)
	}
	now := time.Now()
	c := &core.Category{
		Name:         spec.Name,
		Color:        spec.Color,
		Path:         spec.Path,
		PathMappings: spec.PathMappings,
		Comment:      spec.Comment,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !ValidHexColor(c.Color) {
		c.Color = "#808080"
	}
	if spec.Priority != nil {
		c.Priority = *spec.Priority
	}
	m.categories[c.Name] = c
	m.order = append(m.order, c.Name)
	err := m.persistLocked()
	// Propagation reads a copy taken under the lock; a concurrent Update
	// must not race the goroutines in propagate.
	cp := c.Clone()
	m.Unlock()
	if err != nil {
		return nil, err
	}

	m.propagate(ctx, "", func(ctx context.Context, a adapter.Adapter) error {
		_, err := a.EnsureCategoryExists(ctx, m.specFor(cp, a))
		return err
	})
	go m.ValidateAllPaths()
	return cp.Clone(), nil
}

// Update edits a category in place. Renames go through Rename; Update on
// Default rejects name and priority changes.
func (m *Manager) Update(ctx context.Context, name string, spec Spec) (*core.Category, error) {
	m.Lock()
	c, ok := m.categories[name]
	if !ok {
		m.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if spec.Name != "" && spec.Name != name {
		m.Unlock()
		if c.IsDefault() {
			return nil, ErrDefaultRename
		}
		return nil, errors.New("use rename to change a category name")
	}
	if c.IsDefault() && spec.Priority != nil {
		m.Unlock()
		return nil, errors.New("Default category priority is client-managed")
	}
	if spec.Color != "" && ValidHexColor(spec.Color) {
		c.Color = spec.Color
	}
	c.Path = spec.Path
	if spec.PathMappings != nil {
		c.PathMappings = spec.PathMappings
	}
	c.Comment = spec.Comment
	if spec.Priority != nil {
		c.Priority = *spec.Priority
	}
	c.UpdatedAt = time.Now()
	err := m.persistLocked()
	cp := c.Clone()
	m.Unlock()
	if err != nil {
		return nil, err
	}

	m.propagate(ctx, "", func(ctx context.Context, a adapter.Adapter) error {
		res, err := a.EditCategory(ctx, m.specFor(cp, a))
		if err != nil {
			return err
		}
		if !res.Verified {
			// Local state is already persisted; the mismatch is reported
			// but does not roll back.
			log.With("category", name, "instance", a.InstanceID()).
				Warnf("Category edit readback mismatch: %v", res.Mismatches)
		}
		return nil
	})
	go m.ValidateAllPaths()
	return cp.Clone(), nil
}

// Rename renames a category across the app and every client.
func (m *Manager) Rename(ctx context.Context, oldName, newName string) error {
	if oldName == core.DefaultCategoryName {
		return ErrDefaultRename
	}
	if err := validateName(newName); err != nil {
		return err
	}
	m.Lock()
	c, ok := m.categories[oldName]
	if !ok {
		m.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	if _, ok := m.categories[newName]; ok {
		m.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExists, newName)
	}
	delete(m.categories, oldName)
	c.Name = newName
	c.UpdatedAt = time.Now()
	m.categories[newName] = c
	for i, n := range m.order {
		if n == oldName {
			m.order[i] = newName
		}
	}
	amuleIDs := c.Clone().AmuleIDs
	err := m.persistLocked()
	m.Unlock()
	if err != nil {
		return err
	}

	m.propagate(ctx, "", func(ctx context.Context, a adapter.Adapter) error {
		return a.RenameCategory(ctx, adapter.RenameSpec{
			ID:      amuleIDs[a.InstanceID()],
			OldName: oldName,
			NewName: newName,
		})
	})
	go m.ValidateAllPaths()
	return nil
}

// Delete removes a category everywhere. Items in it fall back to Default on
// the next client sync.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if name == core.DefaultCategoryName {
		return ErrDefaultDelete
	}
	m.Lock()
	c, ok := m.categories[name]
	if !ok {
		m.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.categories, name)
	order := m.order[:0]
	for _, n := range m.order {
		if n != name {
			order = append(order, n)
		}
	}
	m.order = order
	amuleIDs := c.Clone().AmuleIDs
	err := m.persistLocked()
	m.Unlock()
	if err != nil {
		return err
	}

	m.propagate(ctx, "", func(ctx context.Context, a adapter.Adapter) error {
		return a.DeleteCategory(ctx, adapter.CategorySpec{
			ID:   amuleIDs[a.InstanceID()],
			Name: name,
		})
	})
	go m.ValidateAllPaths()
	return nil
}

// ImportCategory merges a category discovered on a client into the app set.
// Existing categories win; only unknown names are added.
func (m *Manager) ImportCategory(c *core.Category) error {
	m.Lock()
	defer m.Unlock()
	if _, ok := m.categories[c.Name]; ok {
		return nil
	}
	now := time.Now()
	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.categories[cp.Name] = &cp
	m.order = append(m.order, cp.Name)
	return m.persistLocked()
}

// LinkAmuleID records the native numeric id a client assigned to a category.
func (m *Manager) LinkAmuleID(name, instanceID string, nativeID int) {
	m.Lock()
	defer m.Unlock()
	c, ok := m.categories[name]
	if !ok {
		return
	}
	if c.AmuleIDs == nil {
		c.AmuleIDs = make(map[string]int)
	}
	c.AmuleIDs[instanceID] = nativeID
	if err := m.persistLocked(); err != nil {
		log.Errorf("Persist after amule id link: %s", err)
	}
}

// PropagateToOtherClients pushes the full category set to every connected
// categories-capable client except excludeInstance, one batch call each.
func (m *Manager) PropagateToOtherClients(ctx context.Context, excludeInstance string) {
	cats := m.Snapshot()
	m.propagate(ctx, excludeInstance, func(ctx context.Context, a adapter.Adapter) error {
		specs := make([]adapter.CategorySpec, 0, len(cats))
		for _, c := range cats {
			specs = append(specs, m.specFor(c, a))
		}
		return a.EnsureCategoriesBatch(ctx, specs)
	})
}

// propagate runs f against every connected client whose type carries the
// categories capability. Propagation is concurrent across instances; local
// state has already committed by the time it runs.
func (m *Manager) propagate(
	ctx context.Context,
	excludeInstance string,
	f func(context.Context, adapter.Adapter) error) {

	ctx, cancel := context.WithTimeout(ctx, m.config.PropagateTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, a := range m.registry.GetConnected() {
		if a.InstanceID() == excludeInstance {
			continue
		}
		meta, ok := core.LookupMeta(a.Type())
		if !ok || !meta.Capabilities.Categories {
			continue
		}
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			if err := f(ctx, a); err != nil {
				log.With("instance", a.InstanceID()).
					Errorf("Category propagation failed: %s", err)
			}
		}(a)
	}
	wg.Wait()
}

func (m *Manager) specFor(c *core.Category, a adapter.Adapter) adapter.CategorySpec {
	return adapter.CategorySpec{
		ID:       c.AmuleIDs[a.InstanceID()],
		Name:     c.Name,
		Path:     c.DestPathFor(a.InstanceID(), a.Type()),
		Comment:  c.Comment,
		Color:    c.Color,
		Priority: c.Priority,
	}
}

func validateName(name string) error {
	if name == "" {
		return errors.New("category name is empty")
	}
	if len(name) > 64 {
		return errors.New("category name too long")
	}
	return nil
}
