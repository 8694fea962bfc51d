package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wazgo/wazgo/component"
	"github.com/wazgo/wazgo/internal/jit"
	"github.com/wazgo/wazgo/internal/predecode"
	"github.com/wazgo/wazgo/internal/regir"
	"github.com/wazgo/wazgo/internal/wasm"
	"github.com/wazgo/wazgo/internal/wasm/binary"
)

func newInspectCommand() *cobra.Command {
	var (
		dumpRegIR int
		dumpJIT   int
	)
	cmd := &cobra.Command{
		Use:   "inspect <path to wasm file>",
		Short: "Prints a module's types, imports, exports and memory limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wasmBytes, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading wasm binary: %w", err)
			}
			out := cmd.OutOrStdout()

			if component.IsComponent(wasmBytes) {
				return printComponentSummary(out, wasmBytes)
			}

			m, err := binary.DecodeModule(wasmBytes, wasm.FeaturesFinished, wasm.MemoryMaxPages)
			if err != nil {
				return fmt.Errorf("error decoding wasm binary: %w", err)
			}
			printModuleSummary(out, m)

			switch {
			case cmd.Flags().Changed("dump-jit"):
				return dumpFunctionIR(out, m, wasm.Index(dumpJIT), true)
			case cmd.Flags().Changed("dump-regir"):
				return dumpFunctionIR(out, m, wasm.Index(dumpRegIR), false)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&dumpRegIR, "dump-regir", 0, "Pretty-print the register IR for the given code-section function index")
	cmd.Flags().IntVar(&dumpJIT, "dump-jit", 0, "Hex-dump the Tier-3 JIT's compiled machine code for the given code-section function index")
	return cmd
}

// printComponentSummary decodes a Component Model binary and prints its
// embedded core modules, imports, exports and start function — the
// component-level analogue of printModuleSummary. It never instantiates
// anything; wazgo's component package only decodes and describes.
func printComponentSummary(out io.Writer, wasmBytes []byte) error {
	c, err := component.Decode(wasmBytes, wasm.FeaturesFinished, wasm.MemoryMaxPages)
	if err != nil {
		return fmt.Errorf("error decoding component binary: %w", err)
	}
	fmt.Fprintf(out, "component\n")
	fmt.Fprintf(out, "core modules: %d\n", len(c.CoreModules))
	for i, cm := range c.CoreModules {
		fmt.Fprintf(out, "  [%d] %d functions, %d exports\n", i, len(cm.Module.CodeSection), len(cm.Module.ExportSection))
	}
	fmt.Fprintf(out, "imports: %d\n", len(c.Imports))
	for _, imp := range c.Imports {
		fmt.Fprintf(out, "  %s\n", imp.Name)
	}
	fmt.Fprintf(out, "exports: %d\n", len(c.Exports))
	for _, exp := range c.Exports {
		fmt.Fprintf(out, "  %s -> index %d\n", exp.Name, exp.Index)
	}
	if c.Start != nil {
		fmt.Fprintf(out, "start: function index %d\n", c.Start.FuncIndex)
	}
	return nil
}

func printModuleSummary(out io.Writer, m *wasm.Module) {
	name := "(unnamed)"
	if m.NameSection != nil && m.NameSection.ModuleName != "" {
		name = m.NameSection.ModuleName
	}
	fmt.Fprintf(out, "module: %s\n", name)
	fmt.Fprintf(out, "types: %d\n", len(m.TypeSection))
	for i, t := range m.TypeSection {
		fmt.Fprintf(out, "  [%d] %s\n", i, t.String())
	}
	fmt.Fprintf(out, "imports: %d\n", len(m.ImportSection))
	for _, imp := range m.ImportSection {
		fmt.Fprintf(out, "  %s.%s (%s)\n", imp.Module, imp.Name, externTypeName(imp.Type))
	}
	fmt.Fprintf(out, "functions (defined): %d\n", len(m.CodeSection))
	fmt.Fprintf(out, "exports: %d\n", len(m.ExportSection))
	for _, exp := range m.ExportSection {
		fmt.Fprintf(out, "  %s -> index %d (%s)\n", exp.Name, exp.Index, externTypeName(exp.Type))
	}
	for _, mem := range m.MemorySection {
		max := "none"
		if mem.Type.Limits.Max != nil {
			max = fmt.Sprintf("%d", *mem.Type.Limits.Max)
		}
		fmt.Fprintf(out, "memory: min=%d max=%s\n", mem.Type.Limits.Min, max)
	}
	if m.StartSection != nil {
		fmt.Fprintf(out, "start: function index %d\n", *m.StartSection)
	}
}

func externTypeName(t wasm.ExternType) string {
	switch t {
	case wasm.ExternTypeFunc:
		return "func"
	case wasm.ExternTypeTable:
		return "table"
	case wasm.ExternTypeMemory:
		return "memory"
	case wasm.ExternTypeGlobal:
		return "global"
	default:
		return "tag"
	}
}

// dumpFunctionIR predecodes and lowers m's codeIdx'th defined function to
// register IR, printing it; if wantJIT, it also attempts the Tier-3 JIT and
// hex-dumps the result (or reports why it was declined).
func dumpFunctionIR(out io.Writer, m *wasm.Module, codeIdx wasm.Index, wantJIT bool) error {
	if int(codeIdx) >= len(m.CodeSection) {
		return fmt.Errorf("function index %d out of range (module defines %d)", codeIdx, len(m.CodeSection))
	}
	fn := m.CodeSection[codeIdx]
	sig := m.TypeSection[fn.TypeIndex]

	pf, err := predecode.Predecode(fn.Body, len(sig.Params), fn.LocalTypes, m.TypeSection)
	if err != nil {
		return fmt.Errorf("predecode: %w", err)
	}
	rf, err := regir.Compile(pf, len(sig.Params), sig.Results, m.TypeSection)
	if err != nil {
		fmt.Fprintf(out, "function %d: register IR declined: %v\n", codeIdx, err)
		return nil
	}
	fmt.Fprintf(out, "function %d: %d registers, %d instructions\n", codeIdx, rf.NumRegs, len(rf.Instrs))
	for i, in := range rf.Instrs {
		fmt.Fprintf(out, "  %4d: op=0x%04x dst=r%d a=r%d b=r%d operand=%d\n", i, in.Op, in.Dst, in.A, in.B, in.Operand)
	}

	if !wantJIT {
		return nil
	}
	code, err := jit.Compile(rf)
	if err != nil {
		fmt.Fprintf(out, "tier-3 JIT declined: %v\n", err)
		return nil
	}
	defer code.Release()
	fmt.Fprintf(out, "tier-3 JIT: %d bytes at %#x\n", len(code.Bytes()), code.Addr())
	for i, b := range code.Bytes() {
		if i%16 == 0 {
			fmt.Fprintf(out, "\n  %04x: ", i)
		}
		fmt.Fprintf(out, "%02x ", b)
	}
	fmt.Fprintln(out)
	return nil
}
