package moveop

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// progressFunc receives per-file progress while a move is running.
type progressFunc func(currentFile string, bytesMoved int64, filesMoved int)

// listFiles returns the regular files under path (itself, when it is a file)
// with their sizes, in stable order.
func listFiles(path string) (files []string, total int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("stat: %s", err)
	}
	if !info.IsDir() {
		return []string{path}, info.Size(), nil
	}
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			files = append(files, p)
			total += fi.Size()
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walk: %s", err)
	}
	sort.Strings(files)
	return files, total, nil
}

// moveTree moves the file or directory at src to dst, reporting progress per
// file. A same-filesystem rename is attempted first; otherwise each file is
// copied, size-verified and removed.
func moveTree(src, dst string, progress progressFunc) (int64, int, error) {
	files, total, err := listFiles(src)
	if err != nil {
		return 0, 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0775); err != nil {
		return 0, 0, fmt.Errorf("mkdir dest parent: %s", err)
	}

	if err := os.Rename(src, dst); err == nil {
		if progress != nil {
			progress("", total, len(files))
		}
		return total, len(files), nil
	}

	// Cross-filesystem fallback.
	var bytesMoved int64
	var filesMoved int
	for _, f := range files {
		rel, err := filepath.Rel(src, f)
		if err != nil || rel == "." {
			rel = filepath.Base(f)
		}
		target := dst
		if len(files) > 1 || rel != filepath.Base(f) {
			target = filepath.Join(dst, rel)
		}
		if progress != nil {
			progress(rel, bytesMoved, filesMoved)
		}
		n, err := copyVerify(f, target)
		if err != nil {
			return bytesMoved, filesMoved, fmt.Errorf("copy %s: %s", rel, err)
		}
		bytesMoved += n
		filesMoved++
		if progress != nil {
			progress(rel, bytesMoved, filesMoved)
		}
	}
	// Data is verified at the destination; only now remove the source.
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return bytesMoved, filesMoved, fmt.Errorf("remove source: %s", err)
		}
	}
	if info, err := os.Stat(src); err == nil && info.IsDir() {
		os.RemoveAll(src)
	}
	return bytesMoved, filesMoved, nil
}

// copyVerify copies src to dst and verifies the copied size before returning.
func copyVerify(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source: %s", err)
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat source: %s", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0775); err != nil {
		return 0, fmt.Errorf("mkdir: %s", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create dest: %s", err)
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return 0, fmt.Errorf("copy: %s", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("close dest: %s", err)
	}
	if n != srcInfo.Size() {
		os.Remove(dst)
		return 0, fmt.Errorf("size mismatch: copied %d of %d bytes", n, srcInfo.Size())
	}
	return n, nil
}

// verifyTree checks that dst holds expectedBytes across regular files.
func verifyTree(dst string, expectedBytes int64) error {
	_, total, err := listFiles(dst)
	if err != nil {
		return fmt.Errorf("list dest: %s", err)
	}
	if expectedBytes > 0 && total != expectedBytes {
		return fmt.Errorf("dest holds %d of %d bytes", total, expectedBytes)
	}
	return nil
}
