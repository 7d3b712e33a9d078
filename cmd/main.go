package main

import (
	"fmt"
	"os"

	"github.com/fjod/go_cart/storefront/internal/audit"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "storefront",
		Usage: "cart and checkout backend-for-frontend of the marketplace",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the gRPC health endpoint",
				Action: serveAction,
			},
			{
				Name:   "migrate",
				Usage:  "apply the audit database migrations",
				Action: migrateAction,
			},
			{
				Name:  "mismatches",
				Usage: "list recorded total mismatches",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Usage: "only show mismatches for this owner key"},
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum number of records"},
				},
				Action: mismatchesAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}

func auditCredentials(cfg *config.Config) *audit.Credentials {
	return &audit.Credentials{
		Host:              cfg.PostgresHost,
		Port:              cfg.PostgresPort,
		User:              cfg.PostgresUser,
		Password:          cfg.PostgresPassword,
		DBName:            cfg.PostgresDB,
		MigrationsDirPath: cfg.MigrationsPath,
	}
}

func migrateAction(*cli.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	cred := auditCredentials(cfg)
	repo, err := audit.NewRepository(cred)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.RunMigrations(cred); err != nil {
		return err
	}
	log.Info("audit migrations applied")
	return nil
}

func mismatchesAction(c *cli.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	repo, err := audit.NewRepository(auditCredentials(cfg))
	if err != nil {
		return err
	}
	defer repo.Close()

	records, err := repo.ListMismatches(c.Context, c.String("owner"), c.Int("limit"))
	if err != nil {
		return err
	}
	w := c.App.Writer
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\tremote=%s\tlocal=%s\n",
			r.RecordedAt.Format("2006-01-02T15:04:05Z07:00"),
			r.Source,
			r.OwnerKey,
			pricing.FormatAmount(r.RemoteTotal),
			pricing.FormatAmount(r.LocalTotal))
	}
	return nil
}
