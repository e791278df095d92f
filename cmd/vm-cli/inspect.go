package main

import (
	"context"
	"fmt"
	"os"

	"github.com/govm-net/cvm/wasi"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <wasm file>",
	Short: "List the exports and imports of a wasm contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read wasm file: %w", err)
		}
		ctx := context.Background()
		vm := wasi.NewWazeroVM()
		defer vm.Close(ctx)

		info, err := vm.Inspect(ctx, code)
		if err != nil {
			return err
		}
		if err := printJSON(info); err != nil {
			return err
		}
		if !info.Deployable() {
			return fmt.Errorf("module imports functions the host does not provide")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
