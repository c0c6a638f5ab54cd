// Package memory – scope.go decides which workspace files are memory:
// a root MEMORY.md (or memory.md) plus every markdown file under memory/,
// minus anything matched by a .memoryignore file at the workspace root.
package memory

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is the gitignore-style exclusion file at the workspace root.
const IgnoreFileName = ".memoryignore"

// MemoryDir is the workspace directory holding memory notes.
const MemoryDir = "memory"

// Scope matches workspace-relative paths against the memory convention.
type Scope struct {
	root string
	gi   *gitignore.GitIgnore
}

// LoadScope builds the scope of root, compiling .memoryignore when present.
func LoadScope(root string) (*Scope, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %q: %w", root, err)
	}
	s := &Scope{root: abs}

	path := filepath.Join(abs, IgnoreFileName)
	if _, err := os.Stat(path); err == nil {
		gi, err := gitignore.CompileIgnoreFile(path)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", IgnoreFileName, err)
		}
		s.gi = gi
	}
	return s, nil
}

// Root returns the absolute workspace root.
func (s *Scope) Root() string { return s.root }

// Contains reports whether rel (forward slashes) is an in-scope memory file.
func (s *Scope) Contains(rel string) bool {
	if !isMemoryPath(rel) {
		return false
	}
	return !s.ignored(rel)
}

func (s *Scope) ignored(rel string) bool {
	return s.gi != nil && s.gi.MatchesPath(rel)
}

// Rel converts an absolute or root-relative path to the normalized
// workspace-relative form. Paths escaping the root are rejected.
func (s *Scope) Rel(path string) (string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, path)
	}
	rel, err := filepath.Rel(s.root, filepath.Clean(abs))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideScope, path)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideScope, path)
	}
	return rel, nil
}

// ListFiles returns every in-scope memory file, sorted.
func (s *Scope) ListFiles() ([]string, error) {
	var out []string
	for _, name := range []string{"MEMORY.md", "memory.md"} {
		info, err := os.Lstat(filepath.Join(s.root, name))
		if err == nil && info.Mode().IsRegular() && s.Contains(name) {
			out = append(out, name)
		}
	}

	dir := filepath.Join(s.root, MemoryDir)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		sort.Strings(out)
		return out, nil
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := s.Rel(path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if (path != dir && strings.HasPrefix(d.Name(), ".")) || s.ignored(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if s.Contains(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

// isMemoryPath reports whether rel follows the memory file convention.
func isMemoryPath(rel string) bool {
	switch rel {
	case "MEMORY.md", "memory.md":
		return true
	}
	return strings.HasPrefix(rel, MemoryDir+"/") && strings.EqualFold(filepath.Ext(rel), ".md")
}
