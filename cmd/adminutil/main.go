package main

import (
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"github.com/urfave/cli/v2"

	"github.com/sudo-init-do/wastex/internal/alerts"
	"github.com/sudo-init-do/wastex/internal/catalog"
	"github.com/sudo-init-do/wastex/internal/config"
	"github.com/sudo-init-do/wastex/internal/contract"
	"github.com/sudo-init-do/wastex/internal/db"
	"github.com/sudo-init-do/wastex/internal/negotiation"
	"github.com/sudo-init-do/wastex/internal/payment"
	"github.com/sudo-init-do/wastex/internal/shipment"
	"github.com/sudo-init-do/wastex/internal/store"
	"github.com/sudo-init-do/wastex/internal/user"
)

var log = logging.Logger("adminutil")

func main() {
	app := &cli.App{
		Name:  "adminutil",
		Usage: "maintenance commands for the wastex database",
		Commands: []*cli.Command{
			migrateCmd,
			promoteAdminCmd,
			verifyCompanyCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Errorw("command failed", "error", err)
		os.Exit(1)
	}
}

// withStore opens the configured Postgres store for one command.
func withStore(cctx *cli.Context, fn func(b *store.Postgres) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.Connect(cctx.Context, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(store.NewPostgres(pool, clock.New()))
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create document tables, unique indexes and counters",
	Action: func(cctx *cli.Context) error {
		return withStore(cctx, func(b *store.Postgres) error {
			err := b.EnsureSchema(cctx.Context,
				user.Spec, catalog.ListingSpec, catalog.RequestSpec, negotiation.Spec,
				contract.Spec, payment.Spec, shipment.Spec, alerts.NotificationSpec)
			if err != nil {
				return err
			}
			fmt.Println("schema is up to date")
			return nil
		})
	},
}

var emailFlag = &cli.StringFlag{
	Name:     "email",
	Usage:    "email of the account",
	Required: true,
}

var promoteAdminCmd = &cli.Command{
	Name:  "promote-admin",
	Usage: "give an existing account the admin role",
	Flags: []cli.Flag{emailFlag},
	Action: func(cctx *cli.Context) error {
		return withStore(cctx, func(b *store.Postgres) error {
			u, err := user.NewService(b, nil, clock.New()).SetRoleByEmail(cctx.Context, cctx.String("email"), user.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Printf("User %s promoted to admin.\n", u.Email)
			return nil
		})
	},
}

var verifyCompanyCmd = &cli.Command{
	Name:  "verify-company",
	Usage: "mark an account's company as verified",
	Flags: []cli.Flag{
		emailFlag,
		&cli.StringFlag{Name: "by", Value: "adminutil", Usage: "recorded as the verifier"},
	},
	Action: func(cctx *cli.Context) error {
		return withStore(cctx, func(b *store.Postgres) error {
			users := user.NewService(b, nil, clock.New())
			u, err := users.ByEmail(cctx.Context, cctx.String("email"))
			if err != nil {
				return err
			}
			u, err = users.VerifyCompany(cctx.Context, cctx.String("by"), u.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Company %s (%s) verified.\n", u.Company.Name, u.Company.RegistrationNumber)
			return nil
		})
	},
}
