package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

type checkReport struct {
	Source        string   `json:"source"`
	Target        string   `json:"target,omitempty"`
	ParseMode     string   `json:"parse_mode"`
	StoreDocument bool     `json:"store_whole_document"`
	Queries       []string `json:"path_queries"`
	FailureTag    string   `json:"tag_on_failure"`
}

func (c *cli) newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the stage options file",
		Long: `Load the stage options, resolve the parse options and compile every XPath
expression. Exits non-zero when the stage could not start.`,
		Args: cobra.NoArgs,
		RunE: c.runCheck,
	}
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	return cmd
}

func (c *cli) runCheck(cmd *cobra.Command, _ []string) error {
	st, err := c.loadStage()
	if err != nil {
		return err
	}

	opts := st.Options()
	report := checkReport{
		Source:        opts.Source,
		Target:        opts.Target,
		ParseMode:     st.Mode().String(),
		StoreDocument: opts.StoreDocument,
		Queries:       make([]string, 0, len(opts.PathQueries)),
		FailureTag:    opts.FailureTag,
	}
	for _, q := range opts.PathQueries {
		entry := q.Expression + " -> " + q.Destination
		if q.Merge {
			entry += " (merge)"
		}
		report.Queries = append(report.Queries, entry)
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "%-13s %s\n", "source:", report.Source)
	if report.StoreDocument {
		fmt.Fprintf(out, "%-13s %s\n", "target:", report.Target)
	}
	fmt.Fprintf(out, "%-13s %s\n", "parse mode:", report.ParseMode)
	fmt.Fprintf(out, "%-13s %s\n", "failure tag:", report.FailureTag)
	fmt.Fprintf(out, "%-13s %d\n", "queries:", len(report.Queries))
	for _, q := range report.Queries {
		fmt.Fprintf(out, "  %s\n", q)
	}
	return nil
}
