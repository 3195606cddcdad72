package toolchain

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/deixis/crosscheck/internal/corpus"
	"github.com/deixis/crosscheck/internal/runner"
)

// Builder prepares the compiler jars before a run.
type Builder struct {
	Runner  CommandRunner
	Log     *zap.Logger
	Timeout time.Duration
}

// EnsureCompilerJar rebuilds the jar of the compiler under test with the
// gradle wrapper when any .java or .g4 file under srcRoots is newer.
func (b *Builder) EnsureCompilerJar(ctx context.Context, projectRoot, jar string, srcRoots []string) error {
	if !JarOutdated(jar, srcRoots) {
		return nil
	}
	b.Log.Info("rebuilding compiler jar", zap.String("jar", jar))

	argv := []string{"gradle", "-q", "jar"}
	if gradlew := filepath.Join(projectRoot, "gradlew"); exists(gradlew) {
		argv = []string{gradlew, "-q", "jar"}
	}
	if _, err := Invoke(ctx, b.Runner, UnderTest, "build", runner.Invocation{
		Argv:    argv,
		Dir:     projectRoot,
		Timeout: b.Timeout,
	}); err != nil {
		return err
	}
	if !exists(jar) {
		return corpus.ErrMissingPath{What: "compiler jar after build", Path: jar}
	}
	return nil
}

// EnsureReferenceJar runs the reference build script when present and
// checks that the reference jar exists afterwards.
func (b *Builder) EnsureReferenceJar(ctx context.Context, script, jar string) error {
	if exists(script) {
		b.Log.Info("building reference compiler", zap.String("script", script))
		if _, err := Invoke(ctx, b.Runner, Reference, "build", runner.Invocation{
			Argv:    []string{"bash", script},
			Dir:     filepath.Dir(script),
			Timeout: b.Timeout,
		}); err != nil {
			return err
		}
	}
	if !exists(jar) {
		return corpus.ErrMissingPath{What: "reference jar", Path: jar}
	}
	return nil
}

// JarOutdated reports whether jar is missing or older than the newest
// .java or .g4 source under roots. Missing roots are ignored.
func JarOutdated(jar string, roots []string) bool {
	info, err := os.Stat(jar)
	if err != nil {
		return true
	}
	built := info.ModTime()
	for _, root := range roots {
		stale := false
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if ext := filepath.Ext(path); ext != ".java" && ext != ".g4" {
				return nil
			}
			if fi, err := d.Info(); err == nil && fi.ModTime().After(built) {
				stale = true
				return filepath.SkipAll
			}
			return nil
		})
		if stale {
			return true
		}
	}
	return false
}
