package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/otgi/internal/obd"
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query <pid>[,<pid>...]",
	Short: "Read OBD-II parameters once",
	Long: fmt.Sprintf(`Sends a mode 01 request per PID and prints the decoded values.

PIDs are given by name or hex number. Known PIDs:
  %s

Examples:
  otgi query maf
  otgi query engine-speed,vehicle-speed --can can0
  otgi query 0x0c --format json`, strings.Join(knownPIDNames(), ", ")),
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var (
	queryCAN     string
	queryFormat  string
	queryTimeout time.Duration
)

func init() {
	queryCmd.Flags().StringVar(&queryCAN, "can", "", "CAN interface, or loopback for the simulated vehicle (overrides config)")
	queryCmd.Flags().StringVarP(&queryFormat, "format", "f", "table", "Output format (table, json)")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 0, "Reply timeout per PID (overrides config)")
}

func knownPIDNames() []string {
	var names []string
	for _, p := range obd.KnownPIDs() {
		names = append(names, p.String())
	}
	return names
}

type readingJSON struct {
	PID       string  `json:"pid"`
	Code      string  `json:"code"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit,omitempty"`
	Supported string  `json:"supported,omitempty"`
	Raw       string  `json:"raw,omitempty"`
	Error     string  `json:"error,omitempty"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	var pids []obd.PID
	for _, s := range strings.Split(args[0], ",") {
		pid, err := obd.ParsePID(s)
		if err != nil {
			return err
		}
		pids = append(pids, pid)
	}
	if queryFormat != "table" && queryFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", queryFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}
	iface := cfg.CAN.Interface
	if queryCAN != "" {
		iface = queryCAN
	}
	timeout := cfg.CAN.Timeout
	if queryTimeout > 0 {
		timeout = queryTimeout
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	bus, closeBus, err := openBus(ctx, iface, logger)
	if err != nil {
		return err
	}
	defer closeBus()
	driver := obd.NewDriver(bus, &obd.Options{Timeout: timeout, Logger: logger})

	var results []readingJSON
	failed := 0
	for _, pid := range pids {
		res := readingJSON{PID: pid.String(), Code: fmt.Sprintf("0x%02X", uint8(pid))}
		raw, err := driver.QueryRaw(ctx, pid)
		if err != nil {
			failed++
			res.Error = err.Error()
			results = append(results, res)
			continue
		}
		res.Raw = hex.EncodeToString(raw)
		if v, err := obd.Decode(pid, raw); err == nil {
			res.Value = v
			res.Unit = pid.Unit()
		} else if pid == obd.SupportedPIDs1 || pid == obd.SupportedPIDs2 {
			if supported, err := obd.SupportedPIDs(pid, raw); err == nil {
				res.Supported = formatPIDList(supported)
			}
		}
		results = append(results, res)
	}

	out := cmd.OutOrStdout()
	if queryFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PID\tNAME\tVALUE\tRAW")
		for _, r := range results {
			value := fmt.Sprintf("%.2f %s", r.Value, r.Unit)
			switch {
			case r.Error != "":
				value = "error: " + r.Error
			case r.Supported != "":
				value = r.Supported
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Code, r.PID, value, r.Raw)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if failed == len(pids) {
		return fmt.Errorf("all %d queries failed: %w", failed, obd.ErrNoReply)
	}
	return nil
}

func formatPIDList(pids []obd.PID) string {
	parts := make([]string, len(pids))
	for i, p := range pids {
		parts[i] = fmt.Sprintf("%02X", uint8(p))
	}
	return strings.Join(parts, " ")
}
