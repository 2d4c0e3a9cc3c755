package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/xmlfilter/internal/event"
	"github.com/dgallion1/xmlfilter/internal/pipeline"
	"github.com/dgallion1/xmlfilter/internal/stage"
)

// maxEventBytes bounds one NDJSON line.
const maxEventBytes = 16 * 1024 * 1024

type runSummary struct {
	Processed int `json:"processed"`
	Tagged    int `json:"tagged"`
	Skipped   int `json:"skipped"`
	Invalid   int `json:"invalid"`
}

func (s *runSummary) add(res stage.Result) {
	s.Processed++
	switch res.State {
	case stage.StateFailed:
		s.Tagged++
	case stage.StateSkipped:
		s.Skipped++
	}
}

func (c *cli) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Filter NDJSON events from a file or stdin to stdout",
		Long: `Read one JSON object per line, apply the stage and write the resulting
events to stdout in input order. Blank lines are ignored. Lines that are not
JSON objects are reported and skipped, and make the command exit non-zero.`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.runRun,
	}
	cmd.Flags().Int("concurrency", 4, "Events processed in parallel")
	cmd.Flags().Int("batch-size", 256, "Events read before results are written")
	cmd.Flags().Bool("summary", false, "Print outcome counts to stderr when done")
	c.bindFlags(cmd.Flags().Lookup("concurrency"), cmd.Flags().Lookup("batch-size"), cmd.Flags().Lookup("summary"))
	return cmd
}

func (c *cli) runRun(cmd *cobra.Command, args []string) error {
	st, err := c.loadStage()
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	batchSize := c.v.GetInt("batch-size")
	if batchSize <= 0 {
		batchSize = 1
	}
	w := pipeline.NewWorker(st, nil, c.log, c.v.GetInt("concurrency"))

	out := bufio.NewWriter(cmd.OutOrStdout())
	defer out.Flush()
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	var sum runSummary
	batch := make([]*event.Record, 0, batchSize)
	flush := func() error {
		if err := w.Run(cmd.Context(), batch, func(_ int, res stage.Result) { sum.add(res) }); err != nil {
			return err
		}
		for _, ev := range batch {
			if err := enc.Encode(ev.Fields()); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
		}
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		ev := event.NewRecord(nil)
		if err := json.Unmarshal(raw, ev); err != nil {
			c.log.Error("invalid event", "line", line, "error", err)
			sum.Invalid++
			continue
		}
		batch = append(batch, ev)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input at line %d: %w", line+1, err)
	}
	if err := flush(); err != nil {
		return err
	}

	if c.v.GetBool("summary") {
		fmt.Fprintf(cmd.ErrOrStderr(), "processed=%d tagged=%d skipped=%d invalid=%d\n",
			sum.Processed, sum.Tagged, sum.Skipped, sum.Invalid)
	}
	if sum.Invalid > 0 {
		return fmt.Errorf("%d input lines were not JSON objects", sum.Invalid)
	}
	return nil
}
