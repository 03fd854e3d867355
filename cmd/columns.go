package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/geocontext/internal/geocontext"
)

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "Print the context column names for a set of groups and k-values",
	RunE: func(cmd *cobra.Command, _ []string) error {
		groups, _ := cmd.Flags().GetStringSlice("group")
		kValues, _ := cmd.Flags().GetFloat64Slice("k")
		return printColumns(os.Stdout, groups, kValues)
	},
}

func init() {
	columnsCmd.Flags().StringSlice("group", nil, "group name (repeatable)")
	columnsCmd.Flags().Float64Slice("k", nil, "population threshold (repeatable)")
	rootCmd.AddCommand(columnsCmd)
}

func printColumns(w io.Writer, groups []string, kValues []float64) error {
	params := geocontext.Params{Groups: groups, KValues: geocontext.NormalizeKValues(kValues)}
	for _, c := range geocontext.Columns(params) {
		if _, err := fmt.Fprintln(w, c); err != nil {
			return err
		}
	}
	return nil
}
