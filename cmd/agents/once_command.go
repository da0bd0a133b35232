package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newOnceCommand(ctx *commandContext) *cobra.Command {
	var workers []string
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle of each configured agent and exit",
		Long: "Run a single cycle of each configured agent and exit.\n\n" +
			"Agents run one after another in the configured order, each fetching after the\n" +
			"previous one has written, so a record can move across several edges in one\n" +
			"invocation (intake then workflow takes a new record to \"Under Review\").",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := cmd.Context()
			if cmdCtx == nil {
				cmdCtx = context.Background()
			}
			cfg, err := ctx.configWithWorkers(workers)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			rt, err := buildRuntime(cmdCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			var (
				errs []error
				rows [][]string
			)
			for _, sch := range rt.schedulers {
				res, err := sch.Once(cmdCtx)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", sch.Name(), err))
					rows = append(rows, []string{sch.Name(), "-", "-", "-", "-", "-", "fetch failed: " + err.Error()})
					continue
				}
				rows = append(rows, []string{
					sch.Name(),
					strconv.Itoa(res.Fetched),
					strconv.Itoa(res.Applied),
					strconv.Itoa(res.Failed),
					strconv.Itoa(res.Conflicts),
					strconv.Itoa(res.Skipped),
					"",
				})
			}
			headers := []string{"Agent", "Fetched", "Applied", "Failed", "Conflicts", "Skipped", "Error"}
			aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringSliceVar(&workers, "workers", nil, "Agents to run (intake, workflow, interview, combined)")
	return cmd
}
