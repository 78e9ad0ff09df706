package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// RuleFileExt is the extension collected when a file spec names a directory.
const RuleFileExt = ".aiml"

// containsGlob checks if a pattern contains glob characters.
func containsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// Expand resolves a file spec to the rule files it names, in sorted order.
// A glob (doublestar syntax, so ** crosses directories) yields every
// matching regular file; a directory yields every rule file below it; any
// other path is returned as is.
func Expand(spec string) ([]string, error) {
	if containsGlob(spec) {
		matches, err := doublestar.FilepathGlob(spec)
		if err != nil {
			return nil, fmt.Errorf("glob error: %w", err)
		}
		var files []string
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			files = append(files, m)
		}
		sort.Strings(files)
		return files, nil
	}

	info, err := os.Stat(spec)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{spec}, nil
	}

	var files []string
	err = filepath.WalkDir(spec, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), RuleFileExt) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Matches reports whether path is named by spec.
func Matches(spec, path string) bool {
	if containsGlob(spec) {
		ok, err := doublestar.PathMatch(filepath.Clean(spec), filepath.Clean(path))
		return err == nil && ok
	}
	spec, path = filepath.Clean(spec), filepath.Clean(path)
	if spec == path {
		return true
	}
	rel, err := filepath.Rel(spec, path)
	return err == nil && !strings.HasPrefix(rel, "..") &&
		strings.EqualFold(filepath.Ext(path), RuleFileExt)
}
