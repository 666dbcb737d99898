package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hasumikin/picovm/vm/snap"
)

var snapCmd = &cobra.Command{
	Use:   "snap [flags] <file>",
	Short: "Convert bytecode to a CBOR snapshot and back",
	Long:  `Capture a loaded IREP tree as a content-addressed CBOR snapshot, or restore a snapshot back into a loadable container with --restore`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSnap,
}

func init() {
	snapCmd.Flags().StringP("output", "o", "", "output path (default: input with .snap/.mrb suffix)")
	snapCmd.Flags().Bool("restore", false, "treat input as a snapshot and emit a container")
}

func runSnap(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	restore, _ := cmd.Flags().GetBool("restore")

	rt, err := scratchRuntime()
	if err != nil {
		return err
	}

	if restore {
		s, err := snap.Unmarshal(data)
		if err != nil {
			return err
		}
		blob, err := snap.Restore(rt, s)
		if err != nil {
			return err
		}
		if output == "" {
			output = args[0] + ".mrb"
		}
		if err := os.WriteFile(output, blob, 0o644); err != nil {
			return err
		}
		fmt.Printf("restored %s (%d bytes) from snapshot %s\n", output, len(blob), s.ID)
		return nil
	}

	irep, err := rt.LoadBytecode(data)
	if err != nil {
		return err
	}
	defer rt.FreeIRep(irep)

	s, err := snap.Capture(rt, irep, data)
	if err != nil {
		return err
	}
	wire, err := snap.Marshal(s)
	if err != nil {
		return err
	}
	if output == "" {
		output = args[0] + ".snap"
	}
	if err := os.WriteFile(output, wire, 0o644); err != nil {
		return err
	}
	fmt.Printf("captured %s (%d bytes, %d ireps) id=%s\n", output, len(wire), irep.Count(), s.ID)
	return nil
}
