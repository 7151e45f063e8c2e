package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/meter_telegram/pkg/types"
	"github.com/spf13/cobra"
)

var printRaw bool

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Print every reading as a JSON line",
	RunE:  runRead,
}

func init() {
	readCmd.Flags().BoolVar(&printRaw, "raw", false, "Print the raw telegram instead of JSON")
	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	_, session, log, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	return readLoop(ctx, session, log, func(reading *types.MeterReading) error {
		if printRaw {
			_, err := out.Write(session.Telegram())
			return err
		}
		_, err := fmt.Fprintln(out, string(reading.ToJsonBytes()))
		return err
	})
}
