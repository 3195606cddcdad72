// Package config loads and validates the optional .crosscheck YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the name of the project configuration file.
const FileName = ".crosscheck"

// Default values for runner configuration.
const (
	DefaultCompileTimeout = 1000 * time.Second
	DefaultRunTimeout     = 10 * time.Second
	DefaultMaxOutput      = 16 << 20 // 16 MB
)

// Mode selects which generators and substrates a run uses.
type Mode string

const (
	// Interpreter links both intermediate forms with the runtime bitcode and runs them under lli.
	Interpreter Mode = "interpreter"
	// Cross runs the reference ARMv7 build under qemu-arm and ours under qemu-aarch64.
	Cross Mode = "cross"
	// Native runs a host-compiled C reference directly and ours under qemu-aarch64.
	Native Mode = "native"
)

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	switch m {
	case Interpreter, Cross, Native:
		return true
	}
	return false
}

// Config holds the parsed .crosscheck configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version           int    `yaml:"version"`
	RawMode           string `yaml:"mode"`
	RawCompileTimeout string `yaml:"compile_timeout"` // e.g. "1000s"
	RawRunTimeout     string `yaml:"run_timeout"`     // e.g. "10s"
	RawMaxOutput      int    `yaml:"max_output"`      // bytes
	RawJobs           int    `yaml:"jobs"`

	RawFilterTimers      *bool `yaml:"filter_timers"`
	RawOptimizeReference *bool `yaml:"optimize_reference"`
	RawUnlimitedStack    *bool `yaml:"unlimited_stack"`
	PersistIntermediate  bool  `yaml:"persist_intermediate"`
	SkipExisting         bool  `yaml:"skip_existing"`

	Resources string   `yaml:"resources"` // corpus root, default test/resources
	OutDir    string   `yaml:"out_dir"`   // run roots are created under here
	Suites    []string `yaml:"suites"`
	History   string   `yaml:"history"` // sqlite database path

	Compiler  CompilerConfig  `yaml:"compiler"`
	Reference ReferenceConfig `yaml:"reference"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Tools     ToolsConfig     `yaml:"tools"`

	// Root is the directory the file was found in. Relative paths resolve against it.
	Root string `yaml:"-"`
}

// CompilerConfig describes how to invoke the compiler under test.
type CompilerConfig struct {
	Jar       string   `yaml:"jar"`
	Classpath []string `yaml:"classpath"` // extra jars; default lib/antlr-*-complete.jar
	JavaArgs  []string `yaml:"java_args"` // default [-Xss1024m]
	Args      []string `yaml:"args"`      // default [-O1]
	Main      string   `yaml:"main"`      // default Compiler
}

// ReferenceConfig describes the trusted reference compiler project.
type ReferenceConfig struct {
	Root        string `yaml:"root"`
	BuildScript string `yaml:"build_script"`
	Jar         string `yaml:"jar"`
}

// RuntimeConfig locates the runtime-support library for every target.
type RuntimeConfig struct {
	Dir string `yaml:"dir"` // default sysy-runtime
}

// ToolsConfig overrides external tool names or paths.
// Environment variables take precedence over file values.
type ToolsConfig struct {
	Java           string `yaml:"java"`
	Clang          string `yaml:"clang"`
	LLVMLink       string `yaml:"llvm_link"`
	LLI            string `yaml:"lli"`
	AArch64CC      string `yaml:"aarch64_cc"`
	QEMUAArch64    string `yaml:"qemu_aarch64"`
	AArch64Sysroot string `yaml:"aarch64_sysroot"`
	ARMCC          string `yaml:"arm_cc"`
	QEMUARM        string `yaml:"qemu_arm"`
	ARMSysroot     string `yaml:"arm_sysroot"`
}

// Tools is a fully resolved set of external tool names.
type Tools struct {
	Java           string
	Clang          string
	LLVMLink       string
	LLI            string
	AArch64CC      string
	QEMUAArch64    string
	AArch64Sysroot string
	ARMCC          string
	QEMUARM        string
	ARMSysroot     string
}

// ResolveTools applies environment overrides, then file values, then defaults.
func (c *Config) ResolveTools() Tools {
	t := c.Tools
	return Tools{
		Java:           pick("JAVA", t.Java, "java"),
		Clang:          pick("CLANG", t.Clang, "clang"),
		LLVMLink:       pick("LLVMLINK", t.LLVMLink, "llvm-link"),
		LLI:            pick("LLI", t.LLI, "lli"),
		AArch64CC:      pick("AARCH64_CC", t.AArch64CC, "aarch64-linux-gnu-gcc"),
		QEMUAArch64:    pick("QEMU_A64", t.QEMUAArch64, "qemu-aarch64"),
		AArch64Sysroot: pick("QEMU_A64_SYSROOT", t.AArch64Sysroot, "/usr/aarch64-linux-gnu"),
		ARMCC:          pick("ARM_CC", t.ARMCC, "arm-linux-gnueabihf-gcc"),
		QEMUARM:        pick("QEMU_ARM", t.QEMUARM, "qemu-arm"),
		ARMSysroot:     pick("QEMU_ARM_SYSROOT", t.ARMSysroot, "/usr/arm-linux-gnueabihf"),
	}
}

func pick(env, file, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return or(file, def)
}

// DefaultSuites are used when no suites are configured.
var DefaultSuites = []string{"functional", "hidden_functional", "performance", "final_performance"}

// Mode returns the configured execution mode, defaulting to Interpreter.
func (c *Config) Mode() Mode {
	if m := Mode(c.RawMode); m.Valid() {
		return m
	}
	return Interpreter
}

// CompileTimeout bounds every generator invocation.
func (c *Config) CompileTimeout() time.Duration {
	return parseDuration(c.RawCompileTimeout, DefaultCompileTimeout)
}

// RunTimeout bounds every program execution.
func (c *Config) RunTimeout() time.Duration {
	return parseDuration(c.RawRunTimeout, DefaultRunTimeout)
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// Jobs returns the number of cases processed concurrently.
func (c *Config) Jobs() int {
	if c.RawJobs > 0 {
		return c.RawJobs
	}
	return 1
}

// FilterTimers reports whether timing instrumentation is stripped before comparison.
func (c *Config) FilterTimers() bool { return boolOr(c.RawFilterTimers, true) }

// OptimizeReference reports whether the reference compiler gets -O1.
func (c *Config) OptimizeReference() bool { return boolOr(c.RawOptimizeReference, true) }

// UnlimitedStack reports whether lli runs with the stack limit lifted.
func (c *Config) UnlimitedStack() bool { return boolOr(c.RawUnlimitedStack, true) }

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// SuiteDirs returns the configured suites, falling back to defaults.
func (c *Config) SuiteDirs() []string {
	if len(c.Suites) > 0 {
		return c.Suites
	}
	return DefaultSuites
}

// Path resolves p against the config root. Absolute paths pass through.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// ResourceRoot is the directory cases are discovered under.
func (c *Config) ResourceRoot() string {
	return c.Path(or(c.Resources, filepath.Join("test", "resources")))
}

// OutRoot holds the case directories and, under runs/, the per-run files.
func (c *Config) OutRoot() string {
	return c.Path(or(c.OutDir, filepath.Join("scripts", "out", "crosscheck")))
}

// HistoryPath is the sqlite database holding past runs.
func (c *Config) HistoryPath() string {
	return c.Path(or(c.History, filepath.Join(c.OutRoot(), "history.db")))
}

// RuntimeDir is the runtime-support library directory.
func (c *Config) RuntimeDir() string {
	return c.Path(or(c.Runtime.Dir, "sysy-runtime"))
}

// CompilerJar is the jar of the compiler under test.
func (c *Config) CompilerJar() string {
	return c.Path(or(c.Compiler.Jar, filepath.Join("build", "libs", "compiler2025-nlvm-1.0.jar")))
}

// CompilerClasspath returns the full classpath for the compiler under test.
// Without explicit entries the first lib/antlr-*-complete.jar is used.
func (c *Config) CompilerClasspath() []string {
	cp := []string{c.CompilerJar()}
	if len(c.Compiler.Classpath) > 0 {
		for _, p := range c.Compiler.Classpath {
			cp = append(cp, c.Path(p))
		}
		return cp
	}
	matches, _ := filepath.Glob(filepath.Join(c.Root, "lib", "antlr-*-complete.jar"))
	if len(matches) > 0 {
		cp = append(cp, matches[0])
	}
	return cp
}

// CompilerJavaArgs returns JVM flags for the compiler under test.
func (c *Config) CompilerJavaArgs() []string {
	if len(c.Compiler.JavaArgs) > 0 {
		return c.Compiler.JavaArgs
	}
	return []string{"-Xss1024m"}
}

// CompilerArgs returns optimization flags for the compiler under test.
func (c *Config) CompilerArgs() []string {
	if len(c.Compiler.Args) > 0 {
		return c.Compiler.Args
	}
	return []string{"-O1"}
}

// CompilerMain is the entry class of the compiler under test.
func (c *Config) CompilerMain() string { return or(c.Compiler.Main, "Compiler") }

// ReferenceRoot is the reference compiler's project directory.
func (c *Config) ReferenceRoot() string {
	return c.Path(or(c.Reference.Root, filepath.Join("references", "BUAA")))
}

// ReferenceBuildScript builds the reference compiler jar.
func (c *Config) ReferenceBuildScript() string {
	return c.Path(or(c.Reference.BuildScript, filepath.Join("references", "build-BUAA.sh")))
}

// ReferenceJar is the reference compiler jar.
func (c *Config) ReferenceJar() string {
	if c.Reference.Jar != "" {
		return c.Path(c.Reference.Jar)
	}
	return filepath.Join(c.ReferenceRoot(), "build", "libs", "ref-compiler.jar")
}

func or(s, def string) string {
	if s != "" {
		return s
	}
	return def
}

// LoadResult holds the parsed config and the discovered project root.
type LoadResult struct {
	Config *Config
	Root   string // directory containing .crosscheck or the gradle wrapper; falls back to workspace
}

// Load reads the .crosscheck file from the project root.
// The root is discovered by walking upward from workspace looking for
// .crosscheck, then for a gradle build. If no .crosscheck file exists,
// a default Config is returned.
func Load(workspace string) (*LoadResult, error) {
	root, err := findProjectRoot(workspace)
	if err != nil {
		root, err = filepath.Abs(workspace)
		if err != nil {
			return nil, fmt.Errorf("resolving workspace: %w", err)
		}
	}

	cfg := &Config{}
	data, err := os.ReadFile(filepath.Join(root, FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	if cfg.RawMode != "" && !Mode(cfg.RawMode).Valid() {
		return nil, fmt.Errorf("%s: unknown mode %q (want interpreter, cross or native)", FileName, cfg.RawMode)
	}
	cfg.Root = root
	return &LoadResult{Config: cfg, Root: root}, nil
}

var rootMarkers = [][]string{
	{FileName},
	{"gradlew", "build.gradle", "build.gradle.kts"},
}

// findProjectRoot walks upward from dir once per marker group, so a
// .crosscheck anywhere above wins over a closer gradle build.
func findProjectRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for _, group := range rootMarkers {
		for cur := dir; ; {
			for _, name := range group {
				if _, err := os.Stat(filepath.Join(cur, name)); err == nil {
					return cur, nil
				}
			}
			parent := filepath.Dir(cur)
			if parent == cur {
				break
			}
			cur = parent
		}
	}
	return "", fmt.Errorf("project root not found above %s", dir)
}
