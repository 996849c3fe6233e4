package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/logrusorgru/aurora"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/inboxlane/maildns/internal/cloudflare"
	"github.com/inboxlane/maildns/internal/config"
	"github.com/inboxlane/maildns/internal/porkbun"
)

// CLIConfig holds CLI flag values
type CLIConfig struct {
	ConfigPath string
	Debug      bool
	Verbose    bool
	Production bool
	DryRun     bool
}

var cliConfig = &CLIConfig{}

var (
	au     = aurora.NewAurora(isatty.IsTerminal(os.Stdout.Fd()))
	stdout = colorable.NewColorableStdout()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "maildns",
	Short: "maildns provisions and verifies email DNS records.",
	Long:  "A command-line tool to provision SPF, DKIM, DMARC, MX, and tracking DNS records for cold-email domains and watch them propagate worldwide.",
	Run: func(cmd *cobra.Command, args []string) {
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cliConfig.ConfigPath, "config", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&cliConfig.Debug, "debug", false, "Enable debug output")
	rootCmd.PersistentFlags().BoolVar(&cliConfig.Verbose, "verbose", false, "Enable verbose output")
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)

	rootCmd.Version = config.Version
	rootCmd.SetHelpTemplate("maildns v" + config.Version + "\n\n{{.Long}}\n\nUsage:\n  {{.UseLine}}\n\nAvailable Commands:\n{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name \"help\"))}}  {{rpad .Name .NamePadding }} {{.Short}}\n{{end}}{{end}}\n\nFlags:\n{{.Flags.FlagUsages | trimTrailingWhitespaces}}\n\nUse \"{{.UseLine}} [command] --help\" for more information about a command.\n")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// processConfig loads the config file and applies the shared flag dance:
// --production flips dry-run off.
func processConfig(cmd *cobra.Command) (*config.Config, string, error) {
	if dryRun, err := cmd.Flags().GetBool("dry-run"); err == nil {
		cliConfig.DryRun = dryRun
	}
	if production, err := cmd.Flags().GetBool("production"); err == nil {
		cliConfig.Production = production
	}
	outputFile, _ := cmd.Flags().GetString("output")

	if cliConfig.Production {
		cliConfig.DryRun = false
	}

	cfg, err := config.LoadConfig(cliConfig.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config at %s: %w", cliConfig.ConfigPath, err)
	}
	cfg.SetDefaultTTL()

	return cfg, outputFile, nil
}

// providerClient builds the configured DNS backend.
func providerClient(cfg *config.Config) cloudflare.API {
	if cfg.Provider == config.ProviderPorkbun {
		debugPrintln("[DEBUG] Using Porkbun as the DNS provider.")
		return porkbun.NewClient(cfg.PorkbunAPIKey, cfg.PorkbunSecretKey)
	}
	return cloudflare.NewClient(cfg.APIToken)
}

func setupLogger() *slog.Logger {
	if cliConfig.Debug {
		logLevel := new(slog.LevelVar)
		logLevel.Set(slog.LevelDebug)
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func printStatusMessages() {
	if cliConfig.DryRun {
		fmt.Println("DRY-RUN: No changes will be applied.")
	}
	verbosePrintln("[VERBOSE] Verbose output enabled.")
	debugPrintln("[DEBUG] Debug output enabled.")
}

func handleOutput(cmd *cobra.Command, outputFile string, finalOutput *strings.Builder) {
	if outputFile != "" {
		err := os.WriteFile(outputFile, []byte(finalOutput.String()), 0644)
		if err != nil {
			cmd.PrintErrf("Error writing to output file %s: %v\n", outputFile, err)
			return
		}
	} else {
		fmt.Fprint(stdout, finalOutput.String())
	}
}

func debugPrintln(a ...interface{}) {
	if cliConfig.Debug {
		fmt.Println(a...)
	}
}

// verbosePrintln prints verbose messages when verbose mode is enabled
func verbosePrintln(a ...interface{}) {
	if cliConfig.Verbose {
		fmt.Println(a...)
	}
}

// verbosePrintlnf prints formatted verbose messages when verbose mode is enabled
func verbosePrintlnf(format string, a ...interface{}) {
	if cliConfig.Verbose {
		fmt.Printf(format, a...)
	}
}

// debugPrintlnf prints formatted debug messages when debug mode is enabled
func debugPrintlnf(format string, a ...interface{}) {
	if cliConfig.Debug {
		fmt.Printf(format, a...)
	}
}

func main() {
	Execute()
}
