package moveop

import (
	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/localdb"
)

// StoreFixture creates a Store over a temp database with cleanup.
func StoreFixture() (*Store, func()) {
	db, cleanup := localdb.Fixture(Migrations())
	return NewStore(db), cleanup
}

// OperationFixture creates a move operation for testing.
func OperationFixture(instanceID, hash string) *core.MoveOperation {
	return &core.MoveOperation{
		CompoundKey:      core.NewCompoundKey(instanceID, hash),
		Name:             "Film.iso",
		ClientType:       core.TypeRTorrent,
		SourcePathRemote: "/downloads/Film.iso",
		DestPathLocal:    "/data/movies/Film.iso",
		DestPathRemote:   "/downloads/movies/Film.iso",
	}
}
