package core

import "time"

// MoveStatus is the lifecycle state of a move operation.
type MoveStatus string

// Move lifecycle: pending -> moving -> verifying -> done | failed.
const (
	MovePending   MoveStatus = "pending"
	MoveMoving    MoveStatus = "moving"
	MoveVerifying MoveStatus = "verifying"
	MoveDone      MoveStatus = "done"
	MoveFailed    MoveStatus = "failed"
)

// MoveOperation describes a queued or in-flight cross-filesystem move.
type MoveOperation struct {
	CompoundKey      string     `db:"compound_key"`
	Name             string     `db:"name"`
	ClientType       ClientType `db:"client_type"`
	SourcePathRemote string     `db:"source_path_remote"`
	DestPathLocal    string     `db:"dest_path_local"`
	DestPathRemote   string     `db:"dest_path_remote"`
	TotalSize        int64      `db:"total_size"`
	BytesMoved       int64      `db:"bytes_moved"`
	FilesTotal       int        `db:"files_total"`
	FilesMoved       int        `db:"files_moved"`
	CurrentFile      string     `db:"current_file"`
	IsMultiFile      bool       `db:"is_multi_file"`
	Status           MoveStatus `db:"status"`
	ErrorMessage     string     `db:"error_message"`
	CategoryName     string     `db:"category_name"`
	CreatedAt        time.Time  `db:"created_at"`
	LastAttempt      time.Time  `db:"last_attempt"`
}

// Progress returns the move completion ratio in [0, 1].
func (op *MoveOperation) Progress() float64 {
	if op.TotalSize <= 0 {
		if op.Status == MoveDone {
			return 1
		}
		return 0
	}
	p := float64(op.BytesMoved) / float64(op.TotalSize)
	if p > 1 {
		p = 1
	}
	return p
}
