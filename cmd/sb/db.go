package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/switchboardhq/switchboard/internal/config"
	"github.com/switchboardhq/switchboard/internal/db"
	"golang.org/x/term"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Switchboard database",
		Long:  "Creates the MySQL database and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfigWithPassword(configPath)
	if err != nil {
		return err
	}

	adminDB, err := db.ConnectAdmin(cfg.DB)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to MySQL at %s:%d\n", cfg.DB.Host, cfg.DB.Port)

	if err := db.CreateDatabase(adminDB, cfg.DB.Database); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %s ready\n", cfg.DB.Database)

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	fmt.Fprintln(out, "Switchboard database initialized successfully.")
	return nil
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run schema migrations against an existing database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigWithPassword(configPath)
			if err != nil {
				return err
			}
			gormDB, err := db.Connect(cfg.DB)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables\n", len(db.AllModels()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to config file")
	return cmd
}

// loadConfigWithPassword loads the config and, when the DB password is
// omitted and stdin is a terminal, prompts for it without echo.
func loadConfigWithPassword(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.DB.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "MySQL password for %s@%s: ", cfg.DB.User, cfg.DB.Host)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		cfg.DB.Password = string(pw)
	}
	return cfg, nil
}
