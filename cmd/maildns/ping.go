package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/inboxlane/maildns/internal/config"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the DNS API credentials and zone access for the configured domains.",
	Long: `Test the DNS API token and zone access for each domain listed in the config file.

This command verifies the API token, then attempts to list DNS records in each domain's zone.
It reports success or failure for each domain, helping you verify that your token and zone IDs are correct.
`,
	Run: func(cmd *cobra.Command, args []string) {
		outputFile, _ := cmd.Flags().GetString("output")
		var outputBuilder strings.Builder

		startTime := time.Now()
		ctx := context.Background()

		debugPrintlnf("[DEBUG] Starting ping command at %v\n", startTime)
		debugPrintln("[DEBUG] Loading config from:", cliConfig.ConfigPath)

		cfg, err := config.LoadConfig(cliConfig.ConfigPath)
		if err != nil {
			outputBuilder.WriteString(fmt.Sprintf("Failed to load config: %v\n", err))
			handleOutput(cmd, outputFile, &outputBuilder)
			log.Fatalf("Failed to load config: %v", err)
		}

		debugPrintlnf("[DEBUG] Loaded config with %d domains\n", len(cfg.Domains))
		verbosePrintlnf("[VERBOSE] Configuration loaded successfully from: %s\n", cliConfig.ConfigPath)

		client := providerClient(cfg)

		if err := client.VerifyToken(ctx); err != nil {
			outputBuilder.WriteString(fmt.Sprintf("API token verification failed: %v\n", err))
			handleOutput(cmd, outputFile, &outputBuilder)
			return
		}
		outputBuilder.WriteString("API token verified.\n")

		successCount := 0
		failureCount := 0

		for i, domain := range cfg.Domains {
			domainStartTime := time.Now()
			outputBuilder.WriteString(fmt.Sprintf("Checking zone access for domain: %s\n", domain.Name))

			verbosePrintlnf("[VERBOSE] [%d/%d] Processing domain: %s (zone: %s)\n",
				i+1, len(cfg.Domains), domain.Name, domain.ZoneID)

			records, err := client.ListRecords(ctx, domain.ZoneID)
			domainDuration := time.Since(domainStartTime)

			if err != nil {
				msg := fmt.Sprintf("  Zone access failed for %s: %v\n", domain.Name, err)
				outputBuilder.WriteString(msg)
				verbosePrintlnf("[VERBOSE] Zone access failed for %s after %v: %v\n",
					domain.Name, domainDuration, err)
				failureCount++
				continue
			}

			msg := fmt.Sprintf("  Zone access ok for %s (%d records)\n", domain.Name, len(records))
			outputBuilder.WriteString(msg)
			verbosePrintlnf("[VERBOSE] Zone access ok for %s in %v\n", domain.Name, domainDuration)
			successCount++
		}

		totalDuration := time.Since(startTime)

		outputBuilder.WriteString("\n=== Ping Summary ===\n")
		outputBuilder.WriteString(fmt.Sprintf("Total Domains: %d\n", len(cfg.Domains)))
		outputBuilder.WriteString(fmt.Sprintf("Successful: %d\n", successCount))
		outputBuilder.WriteString(fmt.Sprintf("Failed: %d\n", failureCount))
		outputBuilder.WriteString(fmt.Sprintf("Total Duration: %v\n", totalDuration))

		verbosePrintlnf("[VERBOSE] Ping command completed in %v\n", totalDuration)
		debugPrintlnf("[DEBUG] Final stats - Success: %d, Failed: %d, Total: %d\n",
			successCount, failureCount, len(cfg.Domains))

		handleOutput(cmd, outputFile, &outputBuilder)
	},
}

func init() {
	pingCmd.Flags().String("output", "", "Write output to a specified file instead of stdout")
}
