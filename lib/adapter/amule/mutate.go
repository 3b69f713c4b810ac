package amule

import (
	"context"
	"fmt"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
	"github.com/peerhub/peerhub/lib/category"
)

func (a *Adapter) partfileOp(opcode uint8, hash string) error {
	b, err := hashBytes(hash)
	if err != nil {
		return err
	}
	_, err = a.request(&ecPacket{
		Opcode: opcode,
		Tags:   []ecTag{hashTag(tagPartfile, b)},
	})
	return err
}

func (a *Adapter) Pause(ctx context.Context, hash string) error {
	return a.partfileOp(opPartfilePause, hash)
}

func (a *Adapter) Resume(ctx context.Context, hash string) error {
	return a.partfileOp(opPartfileResume, hash)
}

func (a *Adapter) Stop(ctx context.Context, hash string) error {
	return a.partfileOp(opPartfileStop, hash)
}

// AddMagnet is a bittorrent concept.
func (a *Adapter) AddMagnet(
	ctx context.Context, uri string, opts adapter.AddOptions) (string, error) {

	return "", adapter.ErrNotSupported
}

func (a *Adapter) AddTorrentRaw(
	ctx context.Context, raw []byte, opts adapter.AddOptions) (string, error) {

	return "", adapter.ErrNotSupported
}

// SetCategory resolves the category to its native numeric id and assigns it,
// then maps the unified priority through the type's priority table.
func (a *Adapter) SetCategory(
	ctx context.Context, hash string, c adapter.CategoryAssignment) error {

	b, err := hashBytes(hash)
	if err != nil {
		return err
	}
	id, err := a.EnsureAmuleCategoryID(ctx, c.CategoryName)
	if err != nil {
		return fmt.Errorf("resolve category id: %s", err)
	}
	if _, err := a.request(&ecPacket{
		Opcode: opPartfileSetCat,
		Tags: []ecTag{
			hashTag(tagPartfile, b),
			uintTag(tagCategory, uint64(id)),
		},
	}); err != nil {
		return err
	}
	if native, ok := core.MustMeta(core.TypeAmule).PriorityMap[c.Priority]; ok {
		if _, err := a.request(&ecPacket{
			Opcode: opPartfilePrioSet,
			Tags: []ecTag{
				hashTag(tagPartfile, b),
				uintTag(tagPartfilePrio, uint64(native)),
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// Delete cancels a download, which removes its part data. Shared files cannot
// be deleted through EC: the caller gets the path back and must remove it
// from disk itself, then refresh the shared list.
func (a *Adapter) Delete(
	ctx context.Context, hash string, opts adapter.DeleteOptions) (*adapter.DeleteResult, error) {

	if opts.IsShared {
		if opts.FilePath == "" {
			return &adapter.DeleteResult{}, fmt.Errorf("shared file has no path")
		}
		return &adapter.DeleteResult{
			Success:       true,
			PathsToDelete: []string{opts.FilePath},
		}, nil
	}
	if err := a.partfileOp(opPartfileDelete, hash); err != nil {
		return nil, err
	}
	return &adapter.DeleteResult{Success: true}, nil
}

// UpdateDirectory is unsupported: moves happen on the filesystem side.
func (a *Adapter) UpdateDirectory(ctx context.Context, hash, path string) error {
	return adapter.ErrNotSupported
}

// GetFiles is unsupported: ed2k downloads are single files.
func (a *Adapter) GetFiles(ctx context.Context, hash string) ([]adapter.File, error) {
	return nil, adapter.ErrNotSupported
}

type nativeCategory struct {
	ID      int
	Title   string
	Path    string
	Comment string
	Color   uint32
	Prio    int
}

func (a *Adapter) fetchCategories() ([]nativeCategory, error) {
	resp, err := a.request(&ecPacket{
		Opcode: opGetPreferences,
		Tags:   []ecTag{uintTag(tagPrefsSelector, uint64(prefsCategories))},
	})
	if err != nil {
		return nil, err
	}
	var cats []nativeCategory
	for _, t := range resp.TagsNamed(tagCategoryID) {
		cats = append(cats, nativeCategory{
			ID:      int(t.Uint()),
			Title:   t.ChildString(tagCategoryTitle),
			Path:    t.ChildString(tagCategoryPath),
			Comment: t.ChildString(tagCategoryComment),
			Color:   uint32(t.ChildUint(tagCategoryColor)),
			Prio:    int(t.ChildUint(tagCategoryPrio)),
		})
	}
	return cats, nil
}

func categoryTags(spec adapter.CategorySpec) []ecTag {
	return []ecTag{
		stringTag(tagCategoryTitle, spec.Name),
		stringTag(tagCategoryPath, spec.Path),
		stringTag(tagCategoryComment, spec.Comment),
		uintTag(tagCategoryColor, uint64(category.HexToAmule(spec.Color))),
		uintTag(tagCategoryPrio, uint64(spec.Priority)),
	}
}

// EnsureCategoryExists creates the category if no native category carries the
// name, and reports the native numeric id either way.
func (a *Adapter) EnsureCategoryExists(
	ctx context.Context, spec adapter.CategorySpec) (*adapter.EnsureResult, error) {

	cats, err := a.fetchCategories()
	if err != nil {
		return nil, err
	}
	for _, c := range cats {
		if c.Title == spec.Name {
			return &adapter.EnsureResult{AmuleID: c.ID}, nil
		}
	}
	if _, err := a.request(&ecPacket{
		Opcode: opCreateCategory,
		Tags:   []ecTag{{Name: tagCategoryID, Type: ecTypeCustom, Children: categoryTags(spec)}},
	}); err != nil {
		return nil, err
	}
	cats, err = a.fetchCategories()
	if err != nil {
		return nil, err
	}
	for _, c := range cats {
		if c.Title == spec.Name {
			return &adapter.EnsureResult{AmuleID: c.ID}, nil
		}
	}
	return nil, fmt.Errorf("category %s missing after create", spec.Name)
}

func (a *Adapter) EnsureCategoriesBatch(
	ctx context.Context, specs []adapter.CategorySpec) error {

	for _, spec := range specs {
		if _, err := a.EnsureCategoryExists(ctx, spec); err != nil {
			return fmt.Errorf("ensure category %s: %s", spec.Name, err)
		}
	}
	return nil
}

// EditCategory pushes the new definition under the existing native id, then
// reads the list back to verify the daemon kept it.
func (a *Adapter) EditCategory(
	ctx context.Context, spec adapter.CategorySpec) (*adapter.EditResult, error) {

	idTag := uintTag(tagCategoryID, uint64(spec.ID))
	idTag.Children = categoryTags(spec)
	if _, err := a.request(&ecPacket{Opcode: opUpdateCategory, Tags: []ecTag{idTag}}); err != nil {
		return nil, err
	}
	cats, err := a.fetchCategories()
	if err != nil {
		return nil, err
	}
	for _, c := range cats {
		if c.ID != spec.ID {
			continue
		}
		var mismatches []string
		if c.Title != spec.Name {
			mismatches = append(mismatches, "name")
		}
		if spec.Path != "" && c.Path != spec.Path {
			mismatches = append(mismatches, "path")
		}
		if spec.Color != "" && c.Color != category.HexToAmule(spec.Color) {
			mismatches = append(mismatches, "color")
		}
		return &adapter.EditResult{Verified: len(mismatches) == 0, Mismatches: mismatches}, nil
	}
	return &adapter.EditResult{Mismatches: []string{"id"}}, nil
}

// RenameCategory edits the title in place under the native id.
func (a *Adapter) RenameCategory(ctx context.Context, spec adapter.RenameSpec) error {
	cats, err := a.fetchCategories()
	if err != nil {
		return err
	}
	for _, c := range cats {
		if c.ID == spec.ID || c.Title == spec.OldName {
			res, err := a.EditCategory(ctx, adapter.CategorySpec{
				ID:       c.ID,
				Name:     spec.NewName,
				Path:     c.Path,
				Comment:  c.Comment,
				Color:    category.AmuleToHex(c.Color),
				Priority: core.Priority(c.Prio),
			})
			if err != nil {
				return err
			}
			if !res.Verified {
				return fmt.Errorf("rename readback mismatch: %v", res.Mismatches)
			}
			return nil
		}
	}
	return fmt.Errorf("category %s not found", spec.OldName)
}

func (a *Adapter) DeleteCategory(ctx context.Context, spec adapter.CategorySpec) error {
	_, err := a.request(&ecPacket{
		Opcode: opDeleteCategory,
		Tags:   []ecTag{uintTag(tagCategoryID, uint64(spec.ID))},
	})
	return err
}

// EnsureAmuleCategoryID resolves a category name to its native numeric id,
// creating the category on the daemon if needed.
func (a *Adapter) EnsureAmuleCategoryID(ctx context.Context, name string) (int, error) {
	if name == "" || name == core.DefaultCategoryName {
		return 0, nil
	}
	res, err := a.EnsureCategoryExists(ctx, adapter.CategorySpec{Name: name})
	if err != nil {
		return 0, err
	}
	return res.AmuleID, nil
}

// OnConnectSync merges the daemon's native categories with the app set:
// natives are imported and linked by id, app categories missing on the daemon
// are created there, and the merged set propagates to the other clients.
func (a *Adapter) OnConnectSync(ctx context.Context, sync adapter.CategorySync) error {
	cats, err := a.fetchCategories()
	if err != nil {
		return fmt.Errorf("fetch native categories: %s", err)
	}
	native := make(map[string]int, len(cats))
	for _, c := range cats {
		native[c.Title] = c.ID
		if err := sync.ImportCategory(&core.Category{
			Name:     c.Title,
			Color:    category.AmuleToHex(c.Color),
			Path:     c.Path,
			Comment:  c.Comment,
			Priority: core.Priority(c.Prio),
		}); err != nil {
			return fmt.Errorf("import category %s: %s", c.Title, err)
		}
		sync.LinkAmuleID(c.Title, a.InstanceID(), c.ID)
	}
	for _, c := range sync.Snapshot() {
		if c.IsDefault() {
			continue
		}
		if _, ok := native[c.Name]; ok {
			continue
		}
		res, err := a.EnsureCategoryExists(ctx, adapter.CategorySpec{
			Name:     c.Name,
			Path:     c.DestPathFor(a.InstanceID(), core.TypeAmule),
			Comment:  c.Comment,
			Color:    c.Color,
			Priority: c.Priority,
		})
		if err != nil {
			return fmt.Errorf("push category %s: %s", c.Name, err)
		}
		sync.LinkAmuleID(c.Name, a.InstanceID(), res.AmuleID)
	}
	sync.PropagateToOtherClients(ctx, a.InstanceID())
	return nil
}
