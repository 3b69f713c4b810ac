package core

import (
	"time"

	"github.com/peerhub/peerhub/utils/randutil"
)

// ItemFixture creates a random unified item for testing.
func ItemFixture(t ClientType, instanceID string) *UnifiedItem {
	n := MustMeta(t).HashLength
	i := &UnifiedItem{
		Hash:       randutil.Hex(n),
		InstanceID: instanceID,
		Client:     t,
		Name:       randutil.Text(12),
		Size:       int64(randutil.Range(1<<20, 1<<30)),
		Status:     StatusActive,
		Category:   DefaultCategoryName,
		AddedAt:    time.Now(),
	}
	i.Downloading = true
	return i
}

// UserFixture creates a user for testing.
func UserFixture(username string, caps ...string) *User {
	return &User{
		ID:           int64(randutil.Range(1, 1 << 20)),
		Username:     username,
		Capabilities: caps,
	}
}

// CategoryFixture creates a category for testing.
func CategoryFixture(name string) *Category {
	now := time.Now()
	return &Category{
		Name:      name,
		Color:     "#4488cc",
		CreatedAt: now,
		UpdatedAt: now,
	}
}
