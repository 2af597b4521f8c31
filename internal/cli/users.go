package cli

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tradehook/internal/models"
)

func newUsersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users",
	}
	cmd.AddCommand(newUsersAddCmd(app))
	cmd.AddCommand(newUsersListCmd(app))
	return cmd
}

func newUsersAddCmd(app *App) *cobra.Command {
	var (
		email      string
		mode       string
		orderType  string
		demoSecret string
		liveSecret string

		demoAPIKey    string
		demoUsername  string
		demoPassword  string
		demoAccountID string

		cooldown    time.Duration
		maxAlertAge time.Duration
		maxOrderAge time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user with webhook secrets and broker credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			user := &models.User{
				ID:    uuid.New(),
				Email: email,
				Settings: models.TradingSettings{
					Mode:              models.Mode(mode),
					DemoWebhookSecret: demoSecret,
					LiveWebhookSecret: liveSecret,
					Demo: models.BrokerCredentials{
						APIKey:    demoAPIKey,
						Username:  demoUsername,
						Password:  demoPassword,
						AccountID: demoAccountID,
					},
					OrderType:          models.OrderType(orderType),
					CooldownPeriod:     cooldown,
					EnforceMaxAlertAge: maxAlertAge > 0,
					MaxAlertAge:        maxAlertAge,
					AvoidDividendDates: true,
					MaxOrderAge:        maxOrderAge,
				},
			}
			if err := app.Store.CreateUser(cmd.Context(), user); err != nil {
				return err
			}
			cmd.Printf("Created user %s\n", user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "user email (required)")
	cmd.Flags().StringVar(&mode, "mode", string(models.ModeDemo), "trading mode: DEMO or LIVE")
	cmd.Flags().StringVar(&orderType, "order-type", string(models.OrderTypeLimit), "order type: LIMIT or MARKET")
	cmd.Flags().StringVar(&demoSecret, "demo-secret", "", "demo webhook secret")
	cmd.Flags().StringVar(&liveSecret, "live-secret", "", "live webhook secret")
	cmd.Flags().StringVar(&demoAPIKey, "demo-api-key", "", "demo broker API key")
	cmd.Flags().StringVar(&demoUsername, "demo-username", "", "demo broker username")
	cmd.Flags().StringVar(&demoPassword, "demo-password", "", "demo broker password")
	cmd.Flags().StringVar(&demoAccountID, "demo-account-id", "", "demo broker account id")
	cmd.Flags().DurationVar(&cooldown, "cooldown", time.Hour, "minimum gap between orders per instrument")
	cmd.Flags().DurationVar(&maxAlertAge, "max-alert-age", 5*time.Minute, "reject alerts older than this (0 disables)")
	cmd.Flags().DurationVar(&maxOrderAge, "max-order-age", 24*time.Hour, "expire unfilled orders after this")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUsersListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := app.Store.Users(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(users))
			for _, user := range users {
				rows = append(rows, []string{
					user.ID.String(),
					user.Email,
					string(user.Settings.Mode),
					string(user.Settings.OrderType),
				})
			}
			printTable(cmd, []string{"ID", "EMAIL", "MODE", "ORDER TYPE"}, rows)
			return nil
		},
	}
}
