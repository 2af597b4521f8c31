package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradehook/internal/models"
)

// instrumentRow is one line of an instrument import file.
type instrumentRow struct {
	MarketAndSymbol            string          `csv:"market_and_symbol"`
	Epic                       string          `csv:"epic"`
	YahooSymbol                string          `csv:"yahoo_symbol"`
	ATRStopLossPeriod          int             `csv:"atr_stop_loss_period"`
	ATRStopLossMultiplePct     decimal.Decimal `csv:"atr_stop_loss_multiple_pct"`
	ATRProfitTargetPeriod      int             `csv:"atr_profit_target_period"`
	ATRProfitTargetMultiplePct decimal.Decimal `csv:"atr_profit_target_multiple_pct"`
	MaxPositionSize            decimal.Decimal `csv:"max_position_size"`
	OpeningPriceMultiplePct    decimal.Decimal `csv:"opening_price_multiple_pct"`
	PriceMultiplier            decimal.Decimal `csv:"price_multiplier"`
}

func newInstrumentsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instruments",
		Short: "Manage per-instrument trading configuration",
	}
	cmd.AddCommand(newInstrumentsImportCmd(app))
	return cmd
}

func newInstrumentsImportCmd(app *App) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import instrument configuration from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			return importInstruments(cmd, app, uid, args[0])
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func importInstruments(cmd *cobra.Command, app *App, userID uuid.UUID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var rows []instrumentRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	ctx := cmd.Context()
	imported := 0
	for _, row := range rows {
		key := strings.ToUpper(strings.TrimSpace(row.MarketAndSymbol))
		if key == "" {
			continue
		}
		instrument := &models.Instrument{
			ID:                         uuid.New(),
			UserID:                     userID,
			MarketAndSymbol:            key,
			Epic:                       row.Epic,
			YahooSymbol:                row.YahooSymbol,
			ATRStopLossPeriod:          row.ATRStopLossPeriod,
			ATRStopLossMultiplePct:     row.ATRStopLossMultiplePct,
			ATRProfitTargetPeriod:      row.ATRProfitTargetPeriod,
			ATRProfitTargetMultiplePct: row.ATRProfitTargetMultiplePct,
			MaxPositionSize:            row.MaxPositionSize,
			OpeningPriceMultiplePct:    row.OpeningPriceMultiplePct,
			PriceMultiplier:            row.PriceMultiplier,
			CreatedAt:                  time.Now().UTC(),
		}
		if err := app.Store.CreateInstrument(ctx, instrument); err != nil {
			return fmt.Errorf("failed to import %s: %w", key, err)
		}
		imported++
	}

	cmd.Printf("Imported %d instruments\n", imported)
	return nil
}

func printTable(cmd *cobra.Command, header []string, rows [][]string) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}
