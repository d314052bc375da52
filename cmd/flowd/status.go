package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/cli"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how many events sit in each reconciliation state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := initStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			counts, err := store.CountEventsByState(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox(cli.ChartIcon+" Reconciliation status", cli.RenderStateTable(counts)))
			return nil
		},
	}
}
