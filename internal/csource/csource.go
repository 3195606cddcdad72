// Package csource rewrites a SysY case into C that a host compiler accepts,
// so the host toolchain can serve as the reference in native mode.
package csource

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Header is prepended to every rewritten source.
const Header = `#include "sylib.h"` + "\n"

var (
	constIntRE  = regexp.MustCompile(`(?m)^\s*const\s+int\s+([A-Za-z_]\w*)\s*=\s*([^;]+);`)
	arrayDeclRE = regexp.MustCompile(`(?m)^\s*(?:float|int)\s+([A-Za-z_]\w*)\s*((?:\s*\[[^\]]+\])+)\s*;`)
	dimRE       = regexp.MustCompile(`\[[^\]]+\]`)
)

// Rewrite converts SysY source into host C:
//
//   - the runtime header is included;
//   - `const int N = E;` becomes `enum { N = E };` so N is a constant
//     expression usable as a global array dimension;
//   - multi-dimensional arrays passed whole to getarray/getfarray or as the
//     second argument of putarray/putfarray are replaced by the address of
//     their first element.
//
// Only plain declarations without initializers are recognized as arrays.
func Rewrite(src string) string {
	src = constIntRE.ReplaceAllString(src, "enum { $1 = $2 };")

	dims := map[string]int{}
	for _, m := range arrayDeclRE.FindAllStringSubmatch(src, -1) {
		if n := len(dimRE.FindAllString(m[2], -1)); n >= 2 {
			dims[m[1]] = n
		}
	}
	if len(dims) > 0 {
		names := make([]string, 0, len(dims))
		for name := range dims {
			names = append(names, regexp.QuoteMeta(name))
		}
		// Longest first so a name never matches as a prefix of another.
		sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
		alt := strings.Join(names, "|")

		getRE := regexp.MustCompile(`\b(getfarray|getarray)\s*\(\s*(` + alt + `)\s*\)`)
		src = getRE.ReplaceAllStringFunc(src, func(s string) string {
			m := getRE.FindStringSubmatch(s)
			return m[1] + "(" + addrOfFirst(m[2], dims[m[2]]) + ")"
		})

		putRE := regexp.MustCompile(`\b(putfarray|putarray)\s*\(\s*([^,]+?)\s*,\s*(` + alt + `)\s*\)`)
		src = putRE.ReplaceAllStringFunc(src, func(s string) string {
			m := putRE.FindStringSubmatch(s)
			return m[1] + "(" + strings.TrimSpace(m[2]) + ", " + addrOfFirst(m[3], dims[m[3]]) + ")"
		})
	}
	return Header + src
}

func addrOfFirst(name string, n int) string {
	return "&" + name + strings.Repeat("[0]", n)
}

// WriteFile rewrites the source at src and writes the C file to dst,
// creating parent directories as needed.
func WriteFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := os.WriteFile(dst, []byte(Rewrite(string(data))), 0o644); err != nil {
		return fmt.Errorf("writing C source: %w", err)
	}
	return nil
}
