package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/otgi/pkg/config"
)

var logLevels = map[string]logrus.Level{
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
}

// configureLogger builds the command logger. --log-level wins over the verbose flag; with
// neither set cfg.LogLevel applies. The chosen level is stored back into cfg. Logs go to
// stderr so table and JSON output stay clean.
func configureLogger(cmd *cobra.Command, verboseFlagName string, cfg *config.Config) (*logrus.Logger, error) {
	level := cfg.LogLevel
	if name, _ := cmd.Flags().GetString("log-level"); name != "" {
		l, ok := logLevels[name]
		if !ok {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", name)
		}
		level = l
	} else if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
		level = logrus.DebugLevel
	}

	cfg.LogLevel = level
	return cfg.NewLogger(cmd.ErrOrStderr()), nil
}
