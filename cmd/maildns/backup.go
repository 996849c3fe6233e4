package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inboxlane/maildns/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export the current zone records of every configured domain to snapshot files.",
	Long: `Export each configured domain's full zone record set to a snapshot file.

Snapshots capture the zone as the provider reports it right now, before any
setup run mutates it. The file format follows the extension implied by
--format; snapshots can be restored later with the restore command.
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, outputFile, err := processConfig(cmd)
		if err != nil {
			cmd.PrintErrf("Error: %v\n", err)
			return
		}

		outputDir, _ := cmd.Flags().GetString("output-dir")
		format, _ := cmd.Flags().GetString("format")
		if format != string(backup.FormatJSON) && format != string(backup.FormatYAML) {
			cmd.PrintErrf("Error: unsupported format %q (json or yaml)\n", format)
			return
		}
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			cmd.PrintErrf("Error creating output directory %s: %v\n", outputDir, err)
			return
		}

		logger := setupLogger()
		ctx := context.Background()
		manager := backup.NewManager(providerClient(cfg), backup.WithLogger(logger))

		var outputBuilder strings.Builder
		exported := 0
		failed := 0

		for i, domain := range cfg.Domains {
			verbosePrintlnf("[VERBOSE] [%d/%d] Exporting zone for domain: %s\n", i+1, len(cfg.Domains), domain.Name)

			snapshot, err := manager.Export(ctx, domain.Name, domain.ZoneID)
			if err != nil {
				outputBuilder.WriteString(fmt.Sprintf("  %s %s: %v\n", au.Red("export failed"), domain.Name, err))
				failed++
				continue
			}

			path := filepath.Join(outputDir, domain.Name+"."+format)
			if err := backup.WriteFile(path, snapshot); err != nil {
				outputBuilder.WriteString(fmt.Sprintf("  %s %s: %v\n", au.Red("write failed"), domain.Name, err))
				failed++
				continue
			}

			outputBuilder.WriteString(fmt.Sprintf("  %s %s (%d records) -> %s\n",
				au.Green("exported"), domain.Name, len(snapshot.Records), path))
			exported++
		}

		outputBuilder.WriteString("\n=== Backup Summary ===\n")
		outputBuilder.WriteString(fmt.Sprintf("Exported: %d\n", exported))
		outputBuilder.WriteString(fmt.Sprintf("Failed: %d\n", failed))

		handleOutput(cmd, outputFile, &outputBuilder)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot-file>",
	Short: "Re-create missing zone records from a snapshot file.",
	Long: `Load a snapshot file and re-create every record the zone no longer holds.

Records already present in the zone are left untouched, as are NS and SOA
records. Runs in dry-run mode by default; pass --production to apply changes.
`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, outputFile, err := processConfig(cmd)
		if err != nil {
			cmd.PrintErrf("Error: %v\n", err)
			return
		}

		snapshot, err := backup.ReadFile(args[0])
		if err != nil {
			cmd.PrintErrf("Error: %v\n", err)
			return
		}
		types, _ := cmd.Flags().GetStringSlice("types")

		logger := setupLogger()
		printStatusMessages()

		manager := backup.NewManager(providerClient(cfg), backup.WithLogger(logger))
		result, err := manager.Restore(context.Background(), snapshot, backup.RestoreOptions{
			DryRun: cliConfig.DryRun,
			Types:  types,
		})
		if err != nil {
			cmd.PrintErrf("Error restoring %s: %v\n", snapshot.Domain, err)
			return
		}

		var outputBuilder strings.Builder
		outputBuilder.WriteString(fmt.Sprintf("\n===== Restoring domain: %s \n\n", snapshot.Domain))
		for _, errMsg := range result.Errors {
			outputBuilder.WriteString(fmt.Sprintf("  %s %s\n", au.Red("error:"), errMsg))
		}
		outputBuilder.WriteString(fmt.Sprintf("  %d created, %d skipped, %d failed\n",
			result.Created, result.Skipped, result.Failed))
		if cliConfig.DryRun {
			outputBuilder.WriteString("  Records would be created in production mode.\n")
		}

		handleOutput(cmd, outputFile, &outputBuilder)
	},
}

func init() {
	backupCmd.Flags().String("output-dir", "backups", "Directory to write snapshot files to")
	backupCmd.Flags().String("format", "json", "Snapshot format: json or yaml")
	backupCmd.Flags().String("output", "", "Write the report to a specified file instead of stdout")

	restoreCmd.Flags().Bool("dry-run", true, "Simulate changes without applying them")
	restoreCmd.Flags().Bool("production", false, "Enable production mode (live DNS updates)")
	restoreCmd.Flags().StringSlice("types", nil, "Restrict the restore to these record types")
	restoreCmd.Flags().String("output", "", "Write the report to a specified file instead of stdout")
}
