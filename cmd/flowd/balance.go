package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/cli"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show an account's token balances from the flow provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !model.IsAddress(args[0]) {
				return fmt.Errorf("%q is not an address", args[0])
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flows, err := newProvider(cfg.Provider)
			if err != nil {
				return err
			}
			if flows == nil {
				return common.NewUserError("Set provider.endpoint to query balances", common.ErrMissingConfig)
			}
			defer func() { _ = flows.Close() }()

			balances, err := flows.AccountBalance(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(balances) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No balances for "+args[0]))
				return nil
			}
			fmt.Fprintln(out, cli.TableHeaderStyle.Render(fmt.Sprintf("%-44s %-28s %-20s %s", "TOKEN", "BALANCE", "NET FLOW/S", "UPDATED")))
			for _, b := range balances {
				fmt.Fprintf(out, "%-44s %-28s %-20s %s\n",
					b.Token, b.Balance.String(), b.TotalNetFlowRate.String(), b.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
