package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wazgo/wazgo"
	"github.com/wazgo/wazgo/component"
	"github.com/wazgo/wazgo/component/wasip2shim"
	"github.com/wazgo/wazgo/imports/wasi_snapshot_preview1"
	"github.com/wazgo/wazgo/internal/wasm"
	wazgosys "github.com/wazgo/wazgo/sys"
)

func newRunCommand() *cobra.Command {
	var (
		interpreterOnly bool
		envPairs        []string
		envInherit      bool
		cacheDir        string
		cpuProfile      string
		memProfile      string
		profile         bool
	)

	cmd := &cobra.Command{
		Use:   "run <path to wasm file> [-- <wasm args>]",
		Short: "Runs a WebAssembly binary as a WASI command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wasmPath := args[0]
			wasmArgs := args[1:]

			wasmBytes, err := os.ReadFile(wasmPath)
			if err != nil {
				return fmt.Errorf("error reading wasm binary: %w", err)
			}

			if memProfile != "" {
				defer writeHeapProfile(memProfile)
			}
			if cpuProfile != "" {
				stop := startCPUProfile(cpuProfile)
				defer stop()
			}

			var env []string
			if envInherit {
				envPairs = append(os.Environ(), envPairs...)
			}
			for _, e := range envPairs {
				fields := strings.SplitN(e, "=", 2)
				if len(fields) != 2 {
					return fmt.Errorf("invalid environment variable: %s", e)
				}
				env = append(env, fields[0], fields[1])
			}

			rtc := wazgo.NewRuntimeConfig()
			if !interpreterOnly {
				rtc = wazgo.NewRuntimeConfigTiered()
			}
			if cacheDir != "" {
				cache, err := newDirCache(cacheDir)
				if err != nil {
					return fmt.Errorf("invalid cachedir: %w", err)
				}
				rtc = rtc.WithCompilationCache(cache)
			}

			ctx := context.Background()
			rt := wazgo.NewRuntimeWithConfig(ctx, rtc)
			defer rt.Close(ctx)

			if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
				return fmt.Errorf("error instantiating wasi_snapshot_preview1: %w", err)
			}

			// A component's embedded core module can import WASI under
			// Preview-2 interface names instead of "wasi_snapshot_preview1";
			// wire those too, translated to the same functions (§6.2).
			if component.IsComponent(wasmBytes) {
				comp, err := component.Decode(wasmBytes, wasm.FeaturesFinished, wasm.MemoryMaxPages)
				if err != nil {
					return fmt.Errorf("error decoding component binary: %w", err)
				}
				if len(comp.CoreModules) == 0 {
					return fmt.Errorf("component %s embeds no core module to run", wasmPath)
				}
				if _, err := wasip2shim.InstantiateForComponent(ctx, rt, comp); err != nil {
					return fmt.Errorf("error instantiating wasi preview-2 shim: %w", err)
				}
				wasmBytes = comp.CoreModules[0].Raw
			}

			wasmExe := filepath.Base(wasmPath)
			conf := wazgo.NewModuleConfig().
				WithStdout(cmd.OutOrStdout()).
				WithStderr(cmd.ErrOrStderr()).
				WithStdin(os.Stdin).
				WithRandSource(rand.Reader).
				WithArgs(append([]string{wasmExe}, wasmArgs...)...)
			for i := 0; i < len(env); i += 2 {
				conf = conf.WithEnv(env[i], env[i+1])
			}

			guest, err := rt.CompileModule(ctx, wasmBytes)
			if err != nil {
				return fmt.Errorf("error compiling wasm binary: %w", err)
			}

			_, err = rt.InstantiateModule(ctx, guest, conf)
			if profile {
				printStats(cmd.ErrOrStderr(), rt, guest)
			}
			if err != nil {
				var exitErr *wazgosys.ExitError
				if errors.As(err, &exitErr) {
					if exitErr.ExitCode() != 0 {
						return exitCodeErr(exitErr.ExitCode())
					}
					return nil
				}
				return fmt.Errorf("error instantiating wasm binary: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&interpreterOnly, "interpreter", false,
		"Stay on the Tier-1 interpreter; don't promote hot functions to Tier-2/Tier-3")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil,
		"key=value pair of environment variable to expose to the binary. Can be specified multiple times.")
	cmd.Flags().BoolVar(&envInherit, "env-inherit", false,
		"Inherits environment variables from the calling process, in addition to --env")
	cmd.Flags().StringVar(&cacheDir, "cachedir", "",
		"Writeable directory for the predecoded-function compilation cache")
	cmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Writes a Go CPU profile to the given path")
	cmd.Flags().StringVar(&memProfile, "memprofile", "", "Writes a Go heap profile to the given path")
	cmd.Flags().BoolVar(&profile, "profile", false,
		"Prints each function's execution tier and invocation count to stderr after running")
	return cmd
}

func startCPUProfile(path string) (stop func()) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating cpu profile output: %v\n", err)
		return func() {}
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		fmt.Fprintf(os.Stderr, "error starting cpu profile: %v\n", err)
		return func() {}
	}
	return func() {
		defer f.Close()
		pprof.StopCPUProfile()
	}
}

func writeHeapProfile(path string) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating memory profile output: %v\n", err)
		return
	}
	defer f.Close()
	if err := pprof.WriteHeapProfile(f); err != nil {
		fmt.Fprintf(os.Stderr, "error writing memory profile: %v\n", err)
	}
}

