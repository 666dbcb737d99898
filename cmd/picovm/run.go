package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hasumikin/picovm/hal"
	"github.com/hasumikin/picovm/vm"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <file.mrb>...",
	Short: "Execute bytecode files as scheduled tasks",
	Long:  `Load one or more compiled bytecode containers, create a task per file, and drive the cooperative scheduler until every task halts`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExecution,
}

func init() {
	runCmd.Flags().String("config", "picovm.toml", "runtime configuration file")
	runCmd.Flags().Int("pool-size", 40*1024, "memory pool size in bytes")
	runCmd.Flags().Int("priority", 0, "task priority for all files (lower runs first)")
}

func runExecution(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	poolSize, _ := cmd.Flags().GetInt("pool-size")
	priority, _ := cmd.Flags().GetInt("priority")

	cfg, err := vm.LoadConfig(configPath)
	if err != nil {
		return err
	}

	pool := make([]byte, poolSize)
	rt, err := vm.Init(pool, hal.NewPosix(), cfg)
	if err != nil {
		return fmt.Errorf("runtime init: %w", err)
	}

	for _, path := range args {
		blob, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := rt.CreateTask(blob, priority); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	// The periodic tick stands in for the timer interrupt.
	ticker := time.NewTicker(time.Duration(cfg.TickIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				rt.Tick()
			case <-done:
				return
			}
		}
	}()

	code := rt.Run()
	close(done)
	rt.Console().Flush()
	if code != vm.ErrCodeOK {
		return fmt.Errorf("vm halted with error code %d", code)
	}
	return nil
}
