package infrastructure

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ShortenFilename truncates the base name of path to at most maxLen
// characters, keeping the extension
func ShortenFilename(path string, maxLen int) string {
	dir, base := filepath.Split(path)
	if maxLen <= 0 || utf8.RuneCountInString(base) <= maxLen {
		return path
	}

	ext := filepath.Ext(base)
	stem := []rune(strings.TrimSuffix(base, ext))
	keep := maxLen - utf8.RuneCountInString(ext)
	if keep < 1 {
		// The extension alone is too long; cut the whole name instead.
		return dir + string([]rune(base)[:maxLen])
	}
	return dir + string(stem[:keep]) + ext
}

// NextFreeFilename returns path if nothing exists there, otherwise the first
// "name.N.ext" (N from 1) that is free
func NextFreeFilename(path string) string {
	if !Exists(path) {
		return path
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.%d%s", stem, n, ext)
		if !Exists(candidate) {
			return candidate
		}
	}
}

// Exists reports whether something is at path
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// MoveFile moves a file or directory, copying when a rename across devices
// is not possible
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	info, statErr := os.Stat(src)
	if statErr != nil {
		return err
	}
	if info.IsDir() {
		if cerr := copyDir(src, dst); cerr != nil {
			return fmt.Errorf("failed to copy directory: %w", cerr)
		}
		return os.RemoveAll(src)
	}
	if cerr := copyFile(src, dst, info.Mode()); cerr != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to copy file: %w", cerr)
	}
	return os.Remove(src)
}

// RemovePath deletes a file or a directory tree. A missing path is not an
// error.
func RemovePath(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}
