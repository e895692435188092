// Command generate-schema writes the JSON schema of the atip-ioc
// configuration file, for editor completion of config.yaml.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/atipioc/pkg/config"
	"github.com/spf13/cobra"
)

const defaultOutput = "config.schema.json"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:           "generate-schema",
		Short:         "Write the JSON schema of the atip-ioc configuration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "-" {
				return writeSchema(cmd.OutOrStdout())
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create schema file: %w", err)
			}
			if err := writeSchema(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write schema file: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", defaultOutput, `Schema file to write ("-" for stdout)`)

	return cmd
}

// writeSchema reflects config.Config using the mapstructure keys viper
// reads, so the schema matches config.yaml.
func writeSchema(w io.Writer) error {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "mapstructure",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "atipioc Configuration"
	schema.Description = "Configuration schema for the ATIP IOC"
	schema.Version = "1.0.0"

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(schema); err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	return nil
}
