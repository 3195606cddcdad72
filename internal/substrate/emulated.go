package substrate

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/deixis/crosscheck/internal/runner"
	"github.com/deixis/crosscheck/internal/toolchain"
)

// Cross-compiler flag sets.
var (
	AArch64Flags      = []string{"-static", "-O2", "-fno-pie"}
	AArch64DebugFlags = []string{"-static", "-g", "-Og", "-fno-omit-frame-pointer"}
	ARMv7Flags        = []string{"-static", "-O2", "-fno-pie", "-march=armv7ve", "-mfpu=vfpv3-d16", "-mfloat-abi=hard"}
)

// Emulated links assembly with a cross compiler and runs the result under
// a qemu user-mode emulator.
type Emulated struct {
	Runner     toolchain.CommandRunner
	ISA        string // runtime subdirectory and ELF suffix, e.g. aarch64
	CC         string
	Flags      []string
	QEMU       string
	Sysroot    string // passed as -L when set
	RuntimeDir string
	Diag       *DiagLog // receives assembler and linker stderr

	LinkTimeout time.Duration // defaults to the request timeout
}

func (s *Emulated) Name() string { return "qemu-" + s.ISA }

func (s *Emulated) Execute(ctx context.Context, req Request) (Outcome, error) {
	asm, err := artifact(req, toolchain.Assembly)
	if err != nil {
		return nil, err
	}

	elf := filepath.Join(req.Dir, string(req.Side)+"."+s.ISA+".elf")
	argv := []string{s.CC}
	argv = append(argv, s.Flags...)
	argv = append(argv, asm.Path)
	argv = append(argv, toolchain.RuntimeInputs(s.RuntimeDir, s.ISA)...)
	argv = append(argv, "-I", s.RuntimeDir, "-o", elf)

	linkTimeout := s.LinkTimeout
	if linkTimeout <= 0 {
		linkTimeout = req.Timeout
	}
	res, err := toolchain.Invoke(ctx, s.Runner, req.Side, "cross-link", runner.Invocation{
		Argv:    argv,
		Dir:     req.Dir,
		Timeout: linkTimeout,
	})
	if err != nil {
		if res != nil && res.TimedOut {
			_ = s.Diag.Append(req.Label+" (TIMED OUT)", string(res.Output))
			return Executed{Output: res.Output, Wall: res.Wall, Truncated: res.Truncated}, nil
		}
		if res != nil {
			_ = s.Diag.Append(req.Label+" (FAILED)", string(res.Output))
		}
		return nil, err
	}
	if out := strings.TrimSpace(string(res.Output)); out != "" {
		_ = s.Diag.Append(req.Label, out)
	}

	emu := []string{s.QEMU}
	if s.Sysroot != "" {
		emu = append(emu, "-L", s.Sysroot)
	}
	return run(ctx, s.Runner, req, append(emu, elf))
}
