package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hiring-pipeline-agents/internal/catalog"
)

func newCatalogCommand() *cobra.Command {
	var stageFlag string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the status transitions each agent owns",
		RunE: func(cmd *cobra.Command, args []string) error {
			stage := catalog.StageCombined
			if stageFlag != "" {
				parsed, err := catalog.ParseStage(stageFlag)
				if err != nil {
					return err
				}
				stage = parsed
			}

			var rows [][]string
			for _, t := range catalog.Transitions(stage) {
				from := t.From
				if from == catalog.StatusNone {
					from = "(none)"
				}
				rows = append(rows, []string{from, t.To, t.Stage.String()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"From", "To", "Agent"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringVar(&stageFlag, "stage", "", "Only show edges owned by this agent")
	return cmd
}
