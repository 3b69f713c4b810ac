package osutil

import (
	"fmt"
	"os"
	"path"
)

// EnsureFilePresent initializes a file and all parent directories for filepath
// if they do not exist. If the file exists, no-ops.
func EnsureFilePresent(filepath string) error {
	if _, err := os.Stat(filepath); os.IsNotExist(err) {
		err := os.MkdirAll(path.Dir(filepath), 0755)
		if err != nil {
			return fmt.Errorf("mkdir: %s", err)
		}
		f, err := os.Create(filepath)
		if err != nil {
			return fmt.Errorf("create: %s", err)
		}
		f.Close()
	} else if err != nil {
		return fmt.Errorf("stat: %s", err)
	}
	return nil
}

// PathStatus describes the result of probing a directory for accessibility.
type PathStatus struct {
	Exists   bool `json:"exists"`
	Readable bool `json:"readable"`
	Writable bool `json:"writable"`
}

// ProbePath checks whether dir exists and is readable and writable by the
// current process. Writability is probed with a throwaway temp file since
// permission bits alone do not account for read-only mounts.
func ProbePath(dir string) PathStatus {
	var s PathStatus
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return s
	}
	s.Exists = true
	if f, err := os.Open(dir); err == nil {
		s.Readable = true
		f.Close()
	}
	f, err := os.CreateTemp(dir, ".probe*")
	if err == nil {
		name := f.Name()
		f.Close()
		os.Remove(name)
		s.Writable = true
	}
	return s
}
