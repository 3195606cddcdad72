package pipeline

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/deixis/crosscheck/internal/config"
	"github.com/deixis/crosscheck/internal/substrate"
	"github.com/deixis/crosscheck/internal/toolchain"
)

// Label is the short mode name used in TIME lines and the report header.
func Label(m config.Mode) string {
	switch m {
	case config.Cross:
		return "cross"
	case config.Native:
		return "native"
	default:
		return "lli"
	}
}

// Build assembles the generators and substrates for the configured mode.
// diag receives assembler and cross-link diagnostics.
func Build(cfg *config.Config, r toolchain.CommandRunner, diag *substrate.DiagLog, log *zap.Logger) (*Pipeline, error) {
	tools := cfg.ResolveTools()
	rt := cfg.RuntimeDir()
	opts := toolchain.Options{Runner: r, Timeout: cfg.CompileTimeout()}

	our := &toolchain.Compiler{
		Options:   opts,
		Java:      tools.Java,
		JavaArgs:  cfg.CompilerJavaArgs(),
		Classpath: cfg.CompilerClasspath(),
		Main:      cfg.CompilerMain(),
		Args:      cfg.CompilerArgs(),
	}
	ref := &toolchain.RefCompiler{
		Options:  opts,
		Java:     tools.Java,
		Jar:      cfg.ReferenceJar(),
		Optimize: cfg.OptimizeReference(),
	}
	aarch64 := func(flags []string) *substrate.Emulated {
		return &substrate.Emulated{
			Runner:      r,
			ISA:         "aarch64",
			CC:          tools.AArch64CC,
			Flags:       flags,
			QEMU:        tools.QEMUAArch64,
			Sysroot:     tools.AArch64Sysroot,
			RuntimeDir:  rt,
			Diag:        diag,
			LinkTimeout: cfg.CompileTimeout(),
		}
	}

	p := &Pipeline{
		Timeout:      cfg.RunTimeout(),
		Filter:       cfg.FilterTimers(),
		SkipExisting: cfg.SkipExisting,
		Log:          log,
	}

	switch mode := cfg.Mode(); mode {
	case config.Interpreter:
		our.Emit = toolchain.EmitIntermediate
		if cfg.PersistIntermediate {
			our.Emit = toolchain.EmitIntermediateAndNative
		}
		lli := &substrate.Interpreter{
			Runner:         r,
			LLVMLink:       tools.LLVMLink,
			LLI:            tools.LLI,
			Clang:          tools.Clang,
			RuntimeBitcode: filepath.Join(rt, "x86-64", "sylib.bc"),
			RuntimeSource:  filepath.Join(rt, "sylib.c"),
			UnlimitedStack: cfg.UnlimitedStack(),
			LinkTimeout:    cfg.CompileTimeout(),
		}
		p.Ref, p.Our = ref, our
		p.RefSub, p.OurSub = lli, lli
		p.Existing = []string{"ref.ll", "our.ll"}
	case config.Cross:
		our.Emit = toolchain.EmitNative
		if cfg.PersistIntermediate {
			our.Emit = toolchain.EmitIntermediateAndNative
		}
		ref.NeedAssembly = true
		p.Ref, p.Our = ref, our
		p.RefSub = &substrate.Emulated{
			Runner:      r,
			ISA:         "armv7",
			CC:          tools.ARMCC,
			Flags:       substrate.ARMv7Flags,
			QEMU:        tools.QEMUARM,
			Sysroot:     tools.ARMSysroot,
			RuntimeDir:  rt,
			Diag:        diag,
			LinkTimeout: cfg.CompileTimeout(),
		}
		p.OurSub = aarch64(substrate.AArch64Flags)
		p.Existing = []string{"ref.s", "our.s"}
	case config.Native:
		our.Emit = toolchain.EmitNative
		p.Ref = &toolchain.HostC{Options: opts, CC: tools.Clang, RuntimeDir: rt}
		p.Our = our
		p.RefSub = &substrate.Direct{Runner: r}
		p.OurSub = aarch64(substrate.AArch64DebugFlags)
		p.Existing = []string{"ref.bin", "our.s"}
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	return p, nil
}
