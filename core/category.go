package core

import "time"

// Priority is the unified category priority.
type Priority int

// Unified priorities.
const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
	PriorityLow    Priority = 2
	PriorityAuto   Priority = 3
)

// DefaultCategoryName is the always-present category. It is neither renameable
// nor deletable and its priority is client-managed.
const DefaultCategoryName = "Default"

// Category is the app-wide grouping synchronized to each client's native
// category/label concept.
type Category struct {
	Name string `json:"name"`
	// Color is stored as hex "#RRGGBB"; ed2k clients receive a packed BGR
	// integer translation.
	Color string `json:"color"`
	Path  string `json:"path,omitempty"`
	// PathMappings overrides Path per instance id or per client type.
	PathMappings map[string]string `json:"pathMappings,omitempty"`
	Comment      string            `json:"comment,omitempty"`
	Priority     Priority          `json:"priority"`
	// AmuleIDs maps instance id to the native numeric category id on ed2k
	// clients.
	AmuleIDs  map[string]int `json:"amuleIds,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// IsDefault returns true for the Default category.
func (c *Category) IsDefault() bool {
	return c.Name == DefaultCategoryName
}

// Clone returns a deep copy safe to read after the source mutates.
func (c *Category) Clone() *Category {
	cp := *c
	if c.PathMappings != nil {
		cp.PathMappings = make(map[string]string, len(c.PathMappings))
		for k, v := range c.PathMappings {
			cp.PathMappings[k] = v
		}
	}
	if c.AmuleIDs != nil {
		cp.AmuleIDs = make(map[string]int, len(c.AmuleIDs))
		for k, v := range c.AmuleIDs {
			cp.AmuleIDs[k] = v
		}
	}
	return &cp
}

// DestPathFor resolves the category's destination path for a given instance:
// instance mapping wins over type mapping wins over the plain path.
func (c *Category) DestPathFor(instanceID string, t ClientType) string {
	if p, ok := c.PathMappings[instanceID]; ok && p != "" {
		return p
	}
	if p, ok := c.PathMappings[string(t)]; ok && p != "" {
		return p
	}
	return c.Path
}
