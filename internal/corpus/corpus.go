// Package corpus discovers test cases and checks that the infrastructure
// a run depends on is present before any case is processed.
package corpus

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// SourceExt is the extension of case source files.
	SourceExt = ".sy"
	// StdinExt is the extension of the optional sibling input file.
	StdinExt = ".in"
)

// Case is one source program under differential test.
type Case struct {
	Rel    string // slash-separated path relative to the resource root
	Source string // absolute path of the source file
	Stdin  string // absolute path of the sibling input file; empty when absent
	Dir    string // isolated working directory, assigned per run
}

// Name returns the base name of the case without its extension.
func (c *Case) Name() string {
	return strings.TrimSuffix(filepath.Base(c.Source), SourceExt)
}

// Place assigns the case directory under runRoot, mirroring Rel:
// functional/00_main.sy becomes <runRoot>/functional/00_main.
func (c *Case) Place(runRoot string) {
	parent := filepath.Dir(filepath.FromSlash(c.Rel))
	c.Dir = filepath.Join(runRoot, parent, c.Name())
}

// Selection picks the cases of a run.
type Selection struct {
	Root   string   // resource root
	Suites []string // subdirectories of Root, searched recursively
	File   string   // single case; overrides Suites
	Strict bool     // a missing suite directory is an error instead of being skipped
}

// Discover returns the selected cases ordered by Rel.
func Discover(sel Selection) ([]Case, error) {
	if sel.File != "" {
		c, err := resolveFile(sel.Root, sel.File)
		if err != nil {
			return nil, err
		}
		return []Case{c}, nil
	}

	var missing []string
	var cases []Case
	for _, suite := range sel.Suites {
		dir := filepath.Join(sel.Root, suite)
		if _, err := os.Stat(dir); err != nil {
			if os.IsNotExist(err) {
				missing = append(missing, dir)
				continue
			}
			return nil, fmt.Errorf("suite %s: %w", suite, err)
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || filepath.Ext(path) != SourceExt {
				return nil
			}
			cases = append(cases, newCase(sel.Root, path))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking suite %s: %w", suite, err)
		}
	}
	if sel.Strict && len(missing) > 0 {
		return nil, fmt.Errorf("suite directory not found: %s", strings.Join(missing, ", "))
	}

	sort.Slice(cases, func(i, j int) bool { return cases[i].Rel < cases[j].Rel })
	return dedupe(cases), nil
}

// resolveFile accepts an absolute path, a path relative to the working
// directory, or a path relative to the resource root, in that order.
func resolveFile(root, file string) (Case, error) {
	p := file
	if !filepath.IsAbs(p) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return Case{}, fmt.Errorf("resolving %s: %w", file, err)
		}
		p = abs
	}
	if _, err := os.Stat(p); err != nil {
		alt := filepath.Join(root, file)
		if _, altErr := os.Stat(alt); altErr != nil {
			return Case{}, fmt.Errorf("file not found: %s", file)
		}
		p = alt
	}
	return newCase(root, p), nil
}

func newCase(root, path string) Case {
	path = filepath.Clean(path)
	rel := filepath.Base(path)
	if r, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(r, "..") {
		rel = r
	}
	c := Case{Rel: filepath.ToSlash(rel), Source: path}
	in := strings.TrimSuffix(path, SourceExt) + StdinExt
	if _, err := os.Stat(in); err == nil {
		c.Stdin = in
	}
	return c
}

// dedupe drops repeated cases when suites overlap. cases must be sorted.
func dedupe(cases []Case) []Case {
	out := cases[:0]
	for i, c := range cases {
		if i > 0 && c.Rel == cases[i-1].Rel {
			continue
		}
		out = append(out, c)
	}
	return out
}
