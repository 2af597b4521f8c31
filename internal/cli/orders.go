package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func newOrdersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List tracked local orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := app.Store.Orders(cmd.Context())
			if err != nil {
				return err
			}
			if len(orders) == 0 {
				cmd.Println("No tracked orders")
				return nil
			}

			rows := make([][]string, 0, len(orders))
			for _, order := range orders {
				dealID := order.DealID
				if dealID == "" {
					dealID = "-"
				}
				state := "closed"
				if order.IsOpen {
					state = "open"
				}
				rows = append(rows, []string{
					order.DealReference,
					dealID,
					state,
					order.CreatedAt.Format(time.RFC3339),
				})
			}
			printTable(cmd, []string{"REFERENCE", "DEAL ID", "STATE", "CREATED"}, rows)
			return nil
		},
	}
	return cmd
}
