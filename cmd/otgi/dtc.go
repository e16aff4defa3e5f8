package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/otgi/internal/obd"
)

// dtcCmd represents the dtc command
var dtcCmd = &cobra.Command{
	Use:   "dtc",
	Short: "Read stored diagnostic trouble codes",
	Long: `Requests the stored trouble codes (mode 03) and prints one per line.

Examples:
  otgi dtc --can can0
  otgi dtc --clear`,
	Args: cobra.NoArgs,
	RunE: runDTC,
}

var (
	dtcCAN   string
	dtcClear bool
)

func init() {
	dtcCmd.Flags().StringVar(&dtcCAN, "can", "", "CAN interface, or loopback for the simulated vehicle (overrides config)")
	dtcCmd.Flags().BoolVar(&dtcClear, "clear", false, "Clear stored codes after reading them")
}

func runDTC(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}
	iface := cfg.CAN.Interface
	if dtcCAN != "" {
		iface = dtcCAN
	}
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	bus, closeBus, err := openBus(ctx, iface, logger)
	if err != nil {
		return err
	}
	defer closeBus()
	driver := obd.NewDriver(bus, &obd.Options{Timeout: cfg.CAN.Timeout, Logger: logger})

	codes, err := driver.ReadDTCs(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(codes) == 0 {
		fmt.Fprintln(out, "No stored trouble codes")
	}
	for _, c := range codes {
		fmt.Fprintln(out, c)
	}

	if dtcClear {
		if err := driver.ClearDTCs(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Trouble codes cleared")
	}
	return nil
}
