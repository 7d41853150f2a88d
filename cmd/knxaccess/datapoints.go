package main

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/nerrad567/knx-access/internal/commissioning/etsimport"
	"github.com/nerrad567/knx-access/internal/infrastructure/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newDatapointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datapoints",
		Short: "Build the datapoints table",
	}
	cmd.AddCommand(newDatapointsImportCmd())
	return cmd
}

type datapointsImportFlags struct {
	format string
}

func newDatapointsImportCmd() *cobra.Command {
	flags := &datapointsImportFlags{}

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Convert an ETS export into a datapoints section",
		Long: `Read the group addresses of an ETS project (.knxproj), group address
XML export or CSV export and print them as the datapoints section of the
configuration file.

Addresses without a supported datapoint type are left out. Import
warnings and a summary are written to stderr.`,
		Example: `  knxaccess datapoints import house.knxproj >> knxaccess.yaml
  knxaccess datapoints import addresses.csv --format toml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.format != "yaml" && flags.format != "toml" {
				return fmt.Errorf("--format must be yaml or toml, got %q", flags.format)
			}
			result, err := etsimport.NewParser().ParseFile(args[0])
			if err != nil {
				return err
			}
			reportImport(cmd.ErrOrStderr(), result)
			return writeDatapoints(cmd.OutOrStdout(), result.Datapoints(), flags.format)
		},
	}

	cmd.Flags().StringVar(&flags.format, "format", "yaml", "Output format: yaml or toml")

	return cmd
}

// datapointsSection mirrors the datapoints key of the configuration file.
type datapointsSection struct {
	Datapoints []config.DatapointConfig `yaml:"datapoints" toml:"datapoints"`
}

func writeDatapoints(w io.Writer, points []config.DatapointConfig, format string) error {
	section := datapointsSection{Datapoints: points}
	if format == "toml" {
		return toml.NewEncoder(w).Encode(section)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(section); err != nil {
		return err
	}
	return enc.Close()
}

func reportImport(w io.Writer, r *etsimport.Result) {
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "warning: %s %s: %s\n", warn.Code, warn.Address, warn.Message)
	}
	fmt.Fprintf(w, "imported %d of %d group addresses from %s (%s)\n",
		r.Typed(), len(r.Addresses), r.SourceFile, r.Format)
}
