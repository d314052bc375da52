package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/cli"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/pricing"
)

var priceHeader = []string{"token", "token_address", "price", "price_usd", "market_cap", "timestamp"}

func pricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Manage the token price history",
		Long:  `Import historical price samples and inspect what a flow would be valued at.`,
	}

	cmd.AddCommand(pricesImportCmd())
	cmd.AddCommand(pricesValuateCmd())

	return cmd
}

func pricesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import price samples from a CSV file",
		Long: `Import price samples from a CSV file with the header
token,token_address,price,price_usd,market_cap,timestamp

price_usd and market_cap may be empty. timestamp is unix seconds.
A sample already stored for the same token and second is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			samples, err := parsePriceCSV(f)
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

			prices := pricing.NewService(store, pricing.Config{
				MaxStaleness:  cfg.Pricing.MaxStaleness,
				TokenDecimals: cfg.Pricing.TokenDecimals,
			})

			bar := cli.NewProgressBar(cmd.ErrOrStderr(), len(samples), "Importing prices")
			inserted := 0
			for i := range samples {
				_, ok, err := prices.UpsertPriceSample(ctx, &samples[i])
				if err != nil {
					return fmt.Errorf("row %d: %w", i+2, err)
				}
				if ok {
					inserted++
				}
				_ = bar.Add(1)
			}

			slog.Info(cli.FormatSuccess("Price import complete"),
				"rows", len(samples),
				"inserted", inserted,
				"kept", len(samples)-inserted)
			return nil
		},
	}
}

func pricesValuateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "valuate <token-address> <unix-seconds>",
		Short: "Show the USD price used for a token at a moment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid timestamp %q: %w", args[1], err)
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

			prices := pricing.NewService(store, pricing.Config{
				MaxStaleness:  cfg.Pricing.MaxStaleness,
				TokenDecimals: cfg.Pricing.TokenDecimals,
			})
			v, err := prices.Valuate(ctx, args[0], time.Unix(ts, 0))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox(cli.ChartIcon+" Valuation", fmt.Sprintf(
				"Price (USD): %s\nSample at:   %s\nSample age:  %s",
				v.PriceUSD.String(), v.SampleAt.UTC().Format(time.RFC3339), v.SampleAge)))
			return nil
		},
	}
}

// parsePriceCSV reads price samples. The header must match priceHeader exactly.
func parsePriceCSV(r io.Reader) ([]model.PriceSample, error) {
	records, err := readCSV(r, priceHeader)
	if err != nil {
		return nil, err
	}

	samples := make([]model.PriceSample, 0, len(records))
	for i, rec := range records {
		line := i + 2
		price, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid price %q", line, rec[2])
		}
		priceUSD, err := optionalDecimal(rec[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid price_usd %q", line, rec[3])
		}
		marketCap, err := optionalDecimal(rec[4])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid market_cap %q", line, rec[4])
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(rec[5]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid timestamp %q", line, rec[5])
		}

		samples = append(samples, model.PriceSample{
			Token:        strings.TrimSpace(rec[0]),
			TokenAddress: strings.TrimSpace(rec[1]),
			Price:        price,
			PriceUSD:     priceUSD,
			MarketCap:    marketCap,
			Timestamp:    time.Unix(ts, 0).UTC(),
		})
	}
	return samples, nil
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// readCSV checks the header row and returns the remaining records.
func readCSV(r io.Reader, header []string) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(header)
	reader.TrimLeadingSpace = true

	got, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty CSV: expected header %s", strings.Join(header, ","))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, name := range header {
		if !strings.EqualFold(strings.TrimSpace(got[i]), name) {
			return nil, fmt.Errorf("unexpected CSV header %q, want %s", strings.Join(got, ","), strings.Join(header, ","))
		}
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	return records, nil
}
