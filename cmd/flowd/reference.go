package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/cli"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

var holderHeader = []string{"project_name", "address", "tag"}

func referenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Manage reference data",
		Long:  `Load the token holder list and vesting schedules kept alongside the ledger.`,
	}

	holders := &cobra.Command{
		Use:   "holders",
		Short: "Manage token holders",
	}
	holders.AddCommand(holdersImportCmd())
	holders.AddCommand(holdersShowCmd())

	vesting := &cobra.Command{
		Use:   "vesting",
		Short: "Manage vesting schedules",
	}
	vesting.AddCommand(vestingSetCmd())
	vesting.AddCommand(vestingListCmd())

	cmd.AddCommand(holders)
	cmd.AddCommand(vesting)

	return cmd
}

func holdersImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import token holders from a CSV file",
		Long: `Import token holders from a CSV file with the header
project_name,address,tag

tag may be empty. Re-importing a (project_name, address) pair replaces its tag.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			holders, err := parseHolderCSV(f)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			bar := cli.NewProgressBar(cmd.ErrOrStderr(), len(holders), "Importing holders")
			for i := range holders {
				if err := store.UpsertTokenHolder(ctx, &holders[i]); err != nil {
					return fmt.Errorf("row %d: %w", i+2, err)
				}
				_ = bar.Add(1)
			}

			slog.Info(cli.FormatSuccess("Holder import complete"), "rows", len(holders))
			return nil
		},
	}
}

func holdersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <address>",
		Short: "List the projects an address holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			holders, err := store.GetTokenHolders(ctx, strings.ToLower(args[0]))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(holders) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No holder entries for "+args[0]))
				return nil
			}
			for _, h := range holders {
				fmt.Fprintf(out, "%-30s %s\n", h.ProjectName, h.Tag)
			}
			return nil
		},
	}
}

func vestingSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Create or replace a vesting schedule",
		Long: `Create or replace a vesting schedule. Dates are RFC 3339 or YYYY-MM-DD
and must satisfy start <= cliff <= end.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule := model.VestingSchedule{Name: args[0]}
			for _, f := range []struct {
				dst  *time.Time
				flag string
			}{
				{&schedule.Start, "start"},
				{&schedule.Cliff, "cliff"},
				{&schedule.End, "end"},
			} {
				raw, _ := cmd.Flags().GetString(f.flag)
				t, err := parseDate(raw)
				if err != nil {
					return fmt.Errorf("--%s: %w", f.flag, err)
				}
				*f.dst = t
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SaveVestingSchedule(ctx, &schedule); err != nil {
				return err
			}
			slog.Info(cli.FormatSuccess("Vesting schedule saved"), "name", schedule.Name)
			return nil
		},
	}

	cmd.Flags().String("start", "", "Start date")
	cmd.Flags().String("cliff", "", "Cliff date")
	cmd.Flags().String("end", "", "End date")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("cliff")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func vestingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List vesting schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			schedules, err := store.ListVestingSchedules(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.TableHeaderStyle.Render(fmt.Sprintf("%-20s %-12s %-12s %s", "NAME", "START", "CLIFF", "END")))
			for _, s := range schedules {
				fmt.Fprintf(out, "%-20s %-12s %-12s %s\n", s.Name,
					s.Start.Format(time.DateOnly), s.Cliff.Format(time.DateOnly), s.End.Format(time.DateOnly))
			}
			return nil
		},
	}
}

// parseHolderCSV reads token holders; addresses are lower-cased.
func parseHolderCSV(r io.Reader) ([]model.TokenHolder, error) {
	records, err := readCSV(r, holderHeader)
	if err != nil {
		return nil, err
	}

	holders := make([]model.TokenHolder, 0, len(records))
	for i, rec := range records {
		address := strings.ToLower(strings.TrimSpace(rec[1]))
		if !model.IsAddress(address) {
			return nil, fmt.Errorf("line %d: invalid address %q", i+2, rec[1])
		}
		project := strings.TrimSpace(rec[0])
		if project == "" {
			return nil, fmt.Errorf("line %d: project_name is empty", i+2)
		}
		holders = append(holders, model.TokenHolder{
			ProjectName: project,
			Address:     address,
			Tag:         strings.TrimSpace(rec[2]),
		})
	}
	return holders, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}
