package repo

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the repo-root file listing shell-glob patterns
// (one per line, matched against a path's base name, as git's
// .gitignore does for a plain pattern with no embedded slash) that Add
// skips when walking the working copy. No example in the pack
// implements ignore-file matching, so this is a minimal, deliberately
// un-clever implementation against path/filepath's stdlib glob syntax
// rather than reimplementing git's full .gitignore grammar (leading
// '!' negation, '**' cross-directory globs, anchored '/' prefixes):
// those refinements are more gitignore than this system's spec calls
// for, and filepath.Match already covers the common case of "skip
// files matching this extension/name pattern" that §4.8 describes.
type ignoreRules struct {
	patterns []string
}

// loadIgnoreRules reads IgnoreFileName from root, if present. A
// missing file is not an error — every path is then traversable.
func loadIgnoreRules(root string) (*ignoreRules, error) {
	f, err := os.Open(filepath.Join(root, IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &ignoreRules{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &ignoreRules{patterns: patterns}, nil
}

// Matches reports whether relPath (slash-separated, relative to the
// working copy root) should be skipped: the hidden metadata
// directory always is, and so is anything matching a loaded pattern
// either by its base name or its full relative path.
func (r *ignoreRules) Matches(relPath string) bool {
	if relPath == HiddenDirName || strings.HasPrefix(relPath, HiddenDirName+"/") {
		return true
	}
	base := filepath.Base(relPath)
	for _, p := range r.patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if ok, _ := filepath.Match(p, relPath); ok {
			return true
		}
	}
	return false
}

// IgnoreFileName is the name of the ignore-rules file at the working
// copy root.
const IgnoreFileName = ".silignore"
