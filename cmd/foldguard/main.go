package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"foldguard/internal/api"
	"foldguard/internal/app"
	"foldguard/internal/config"
	"foldguard/internal/encryption"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file at the default location.
func loadConfig() (*config.Config, app.Paths, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, paths, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(paths.ConfigFile)
	if err != nil {
		return nil, paths, fmt.Errorf("reading config: %w", err)
	}
	return cfg, paths, nil
}

// newClient returns a Control API client for the configured daemon. A
// missing config file falls back to the default listen address.
func newClient() *api.Client {
	addr := config.DefaultListen
	if cfg, _, err := loadConfig(); err == nil {
		addr = cfg.Listen
	}
	return api.NewClient(addr)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 10*time.Minute)
}

var rootCmd = &cobra.Command{
	Use:           "foldguard",
	Short:         "Protect folders from accidental deletion",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(paths.BaseDir)
		if err := config.Init(paths.ConfigFile, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigFile)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		fmt.Printf("Listen:   %s\n", cfg.Listen)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, paths, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("Configuration from %s:\n\n", paths.ConfigFile)
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the protection daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, paths, err := loadConfig()
		if err != nil {
			return err
		}
		pidFile, _ := cmd.Flags().GetString("pid-file")
		if pidFile == "" {
			pidFile = paths.PIDFile
		}

		a, err := app.NewFoldguardApp(cfg, "daemon")
		if err != nil {
			return fmt.Errorf("initializing daemon: %w", err)
		}
		runErr := a.RunDaemon(pidFile)
		if err := a.Close(); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	},
}

// passphrase command
var passphraseCmd = &cobra.Command{
	Use:   "passphrase",
	Short: "Manage snapshot encryption keys",
}

var passphraseSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate an age key pair protected by a passphrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Encryption.Type != "age" {
			return fmt.Errorf("encryption.type is %q; set it to \"age\" first", cfg.Encryption.Type)
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}

		pass, err := promptPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return errors.New("passphrases do not match")
		}

		if err := enc.Setup(pass); err != nil {
			return fmt.Errorf("setting up keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		fmt.Printf("Export %s before starting the daemon to enable restores.\n", cfg.Encryption.PassphraseEnv)
		return nil
	},
}

func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)

	daemonCmd.Flags().String("pid-file", "", "PID file path (default: <base_dir>/foldguard.pid)")
	rootCmd.AddCommand(daemonCmd)

	passphraseCmd.AddCommand(passphraseSetupCmd)
	rootCmd.AddCommand(passphraseCmd)

	registerClientCommands()
}
