package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/gym-scheduler/internal/config"
	"github.com/example/gym-scheduler/internal/db"
	"github.com/example/gym-scheduler/internal/reservations"
)

func newReservationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservation",
		Short: "Inspect reservations",
	}
	cmd.AddCommand(newReservationListCmd())
	return cmd
}

func newReservationListCmd() *cobra.Command {
	var userID int64

	c := &cobra.Command{
		Use:   "list",
		Short: "List a user's weekly reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			list, err := reservations.NewRepo(d).ListByUser(ctx, userID)
			if err != nil {
				return err
			}

			now := time.Now()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWEEKDAY\tTIME\tCLASS\tCENTER\tACTIVE\tCONFIRMED")
			for _, r := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%v\t%v\n",
					r.ID, r.Weekday, r.ClassTime, r.ClassName,
					reservations.CenterName(r.Center), r.Active, reservations.Confirmed(r, now))
			}
			return w.Flush()
		},
	}

	c.Flags().Int64Var(&userID, "user-id", 0, "user id")
	_ = c.MarkFlagRequired("user-id")
	return c
}
