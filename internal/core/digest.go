package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileInfo describes one generated file.
type FileInfo struct {
	Path     string
	Size     int64
	Checksum string
}

// Digest lists every file under dir with its SHA-256 checksum, sorted by
// path relative to dir. A missing dir yields an empty list.
func Digest(dir string) ([]FileInfo, error) {
	var out []FileInfo
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := fileInfo(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info.Path = filepath.ToSlash(rel)
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("digest %s: %w", dir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func fileInfo(path string) (FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileInfo{}, err
	}
	defer f.Close()
	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Path: path, Size: n, Checksum: hex.EncodeToString(hasher.Sum(nil))}, nil
}
