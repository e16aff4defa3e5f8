package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/pkg/config"
	"golang.org/x/term"
)

// schemaCmd represents the schema command
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the attribute schema",
	Long: `Prints the services and characteristics the attribute server materializes, as a
table or as JSON.

Examples:
  otgi schema
  otgi schema --format json --config otgi.yaml`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

var schemaFormat string

func init() {
	schemaCmd.Flags().StringVarP(&schemaFormat, "format", "f", "", "Output format (table, json); config output_format when empty")
}

type schemaCharacteristicJSON struct {
	Role        string `json:"role,omitempty"`
	UUID        string `json:"uuid"`
	Permissions string `json:"permissions"`
	Properties  string `json:"properties"`
	MaxLen      int    `json:"max_len"`
	Value       string `json:"value"`
}

type schemaServiceJSON struct {
	UUID            string                     `json:"uuid"`
	Primary         bool                       `json:"primary"`
	Handles         int                        `json:"handles"`
	Characteristics []schemaCharacteristicJSON `json:"characteristics"`
}

type schemaJSON struct {
	Name     string              `json:"name"`
	Services []schemaServiceJSON `json:"services"`
}

func runSchema(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format := schemaFormat
	if format == "" {
		format = cfg.OutputFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
	cmd.SilenceUsage = true

	sc, err := cfg.Schema.ServerConfiguration(nil)
	if err != nil {
		return err
	}
	doc := describeSchema(cfg.Schema, sc)

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}
	return printSchemaTable(out, doc, isTerminal(out))
}

func describeSchema(src config.SchemaConfig, sc gatts.ServerConfiguration) schemaJSON {
	doc := schemaJSON{Name: sc.Name, Services: []schemaServiceJSON{}}
	for i, svc := range sc.Services {
		sj := schemaServiceJSON{
			UUID:            svc.UUID.String(),
			Primary:         svc.Primary,
			Handles:         1 + 3*len(svc.Characteristics),
			Characteristics: []schemaCharacteristicJSON{},
		}
		for j, ch := range svc.Characteristics {
			sj.Characteristics = append(sj.Characteristics, schemaCharacteristicJSON{
				Role:        src.Services[i].Characteristics[j].Role,
				UUID:        ch.UUID.String(),
				Permissions: ch.Permissions.String(),
				Properties:  gatts.FormatProperties(ch.Properties),
				MaxLen:      ch.MaxLen,
				Value:       hex.EncodeToString(ch.Value),
			})
		}
		doc.Services = append(doc.Services, sj)
	}
	return doc
}

func printSchemaTable(w io.Writer, doc schemaJSON, colored bool) error {
	header := color.New(color.Bold)
	primary := color.New(color.FgCyan)
	header.EnableColor()
	primary.EnableColor()
	if !colored {
		header.DisableColor()
		primary.DisableColor()
	}

	fmt.Fprintf(w, "Device: %s\n", header.Sprint(doc.Name))
	for _, svc := range doc.Services {
		kind := "secondary"
		if svc.Primary {
			kind = primary.Sprint("primary")
		}
		fmt.Fprintf(w, "\nService %s (%s, %d handles)\n", svc.UUID, kind, svc.Handles)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ROLE\tUUID\tPERMISSIONS\tPROPERTIES\tMAX\tVALUE")
		for _, ch := range svc.Characteristics {
			role := ch.Role
			if role == "" {
				role = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", role, ch.UUID, ch.Permissions, ch.Properties, ch.MaxLen, ch.Value)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
