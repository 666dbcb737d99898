package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hasumikin/picovm/hal"
	"github.com/hasumikin/picovm/vm"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm <file.mrb>",
	Short: "Disassemble a bytecode container",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisasm,
}

func runDisasm(cmd *cobra.Command, args []string) error {
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	rt, err := scratchRuntime()
	if err != nil {
		return err
	}
	irep, err := rt.LoadBytecode(blob)
	if err != nil {
		return err
	}
	defer rt.FreeIRep(irep)

	printIRep(rt, irep, "0")
	return nil
}

func printIRep(rt *vm.Runtime, irep *vm.IRep, label string) {
	fmt.Printf("irep %s  nlocals=%d nregs=%d pools=%d syms=%d reps=%d\n",
		label, irep.NLocals, irep.NRegs, len(irep.Pools), len(irep.Syms), len(irep.Reps))
	fmt.Println(vm.Disasm(irep))
	for i, child := range irep.Reps {
		printIRep(rt, child, fmt.Sprintf("%s.%d", label, i))
	}
}

// scratchRuntime builds a throwaway runtime big enough for tooling that
// only loads and inspects bytecode.
func scratchRuntime() (*vm.Runtime, error) {
	return vm.Init(make([]byte, 256*1024), hal.NewPosix(), vm.DefaultConfig())
}
