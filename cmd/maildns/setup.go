package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/inboxlane/maildns/internal/backup"
	"github.com/inboxlane/maildns/internal/cloudflare"
	"github.com/inboxlane/maildns/internal/config"
	"github.com/inboxlane/maildns/internal/provision"
	"github.com/inboxlane/maildns/internal/records"
	"github.com/inboxlane/maildns/internal/spf"
	"github.com/inboxlane/maildns/internal/store"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Provision email DNS records for all configured domains.",
	Long: `Provision the full email DNS record set for each domain in the config file.

For every domain this generates an SPF record (flattening an existing one when configured),
the DKIM selector record, a DMARC policy record, the platform MX set, and an optional
tracking CNAME, then creates whatever does not already exist in the zone.
Runs in dry-run mode by default; pass --production to apply changes.
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, outputFile, err := processConfig(cmd)
		if err != nil {
			cmd.PrintErrf("Error: %v\n", err)
			return
		}

		logger := setupLogger()
		printStatusMessages()

		dnsProvider := setupDNSProvider(cfg)
		defer dnsProvider.Close()

		client := providerClient(cfg)
		memory := store.NewMemory()

		// Worker pool with maximum of 5 concurrent domain setups
		const maxWorkers = 5
		sem := semaphore.NewWeighted(maxWorkers)
		ctx := context.Background()

		if backupDir, _ := cmd.Flags().GetString("backup-dir"); backupDir != "" {
			if err := snapshotZones(ctx, client, cfg, backupDir, logger); err != nil {
				cmd.PrintErrf("Error: %v\n", err)
				return
			}
		}

		var wg sync.WaitGroup
		domainResults := make(chan string, len(cfg.Domains))

		for i, domain := range cfg.Domains {
			verbosePrintlnf("[VERBOSE] [%d/%d] Starting setup for domain: %s\n", i+1, len(cfg.Domains), domain.Name)
			debugPrintlnf("[DEBUG] Domain %s config: Platform=%s, TTL=%d, Zone=%s\n",
				domain.Name, domain.Platform, domain.TTL, domain.ZoneID)
			wg.Add(1)
			go func(d config.Domain, l *slog.Logger) {
				defer wg.Done()

				if err := sem.Acquire(ctx, 1); err != nil {
					domainResults <- fmt.Sprintf("Error acquiring worker for domain %s: %v\n", d.Name, err)
					return
				}
				defer sem.Release(1)

				// 2 requests per second keeps well under the provider's
				// per-token budget even with 5 domains in flight.
				limiter := rate.NewLimiter(rate.Limit(2.0), 1)

				dom := &store.Domain{Name: d.Name, ZoneID: d.ZoneID}
				memory.PutDomain(dom)
				flattener := buildFlattener(dnsProvider, d)
				provisioner := provision.NewProvisioner(client, memory, memory, flattener,
					provision.WithRateLimiter(limiter),
					provision.WithLogger(l.With("domain", d.Name)))

				setupCfg := setupConfigFor(d)
				setupCfg.DomainID = dom.ID
				result, err := provisioner.SetupEmailDNS(ctx, setupCfg)
				if err != nil {
					domainResults <- fmt.Sprintf("\n===== Error processing domain: %s \n\nError: %v\n", d.Name, err)
					return
				}

				domainResults <- renderSetupResult(result, setupCfg.DryRun)
			}(domain, logger)
		}

		wg.Wait()
		close(domainResults)

		var finalOutput strings.Builder
		for result := range domainResults {
			finalOutput.WriteString(result)
		}

		handleOutput(cmd, outputFile, &finalOutput)
	},
}

// snapshotZones exports every configured zone before the setup touches
// it, so a bad run can be rolled back with the restore command.
func snapshotZones(ctx context.Context, client cloudflare.API, cfg *config.Config, dir string, logger *slog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating backup directory %s: %w", dir, err)
	}
	manager := backup.NewManager(client, backup.WithLogger(logger))
	for _, d := range cfg.Domains {
		snapshot, err := manager.Export(ctx, d.Name, d.ZoneID)
		if err != nil {
			return fmt.Errorf("exporting zone for %s: %w", d.Name, err)
		}
		path := filepath.Join(dir, d.Name+".json")
		if err := backup.WriteFile(path, snapshot); err != nil {
			return err
		}
		verbosePrintlnf("[VERBOSE] Zone snapshot written: %s (%d records)\n", path, len(snapshot.Records))
	}
	return nil
}

func setupDNSProvider(cfg *config.Config) spf.DNSProvider {
	if addrs := cfg.ServerAddrs(); len(addrs) > 0 {
		verbosePrintln("[VERBOSE] DNS servers being used:")
		var servers []string
		for _, ip := range addrs {
			if !strings.Contains(ip, ":") {
				ip = ip + ":53"
			}
			servers = append(servers, ip)
			verbosePrintlnf("  - %s\n", ip)
		}
		debugPrintlnf("[DEBUG] Pinned DNS provider created with servers: %+v\n", servers)
		return spf.NewPinnedDNSProvider(servers)
	}

	verbosePrintln("[VERBOSE] Using system DNS resolver.")
	return &spf.DefaultDNSProvider{}
}

func buildFlattener(dnsProvider spf.DNSProvider, d config.Domain) *spf.Flattener {
	lookups := spf.NewLookupResolver(dnsProvider, spf.WithIPv6(d.IPv6))
	return spf.NewFlattener(spf.NewIPResolver(lookups))
}

func setupConfigFor(d config.Domain) provision.SetupConfig {
	dmarc := records.DMARCConfig{
		Policy:     records.DMARCPolicy(d.DMARCPolicy),
		Percentage: d.DMARCPercent,
		RUA:        d.DMARCReportTo,
	}
	if dmarc.Policy == "" {
		dmarc.Policy = records.DMARCNone
	}

	var mx []records.MXRecord
	for _, entry := range d.MX {
		mx = append(mx, records.MXRecord{Priority: entry.Priority, Exchange: entry.Exchange})
	}

	return provision.SetupConfig{
		Domain:             d.Name,
		ZoneID:             d.ZoneID,
		Platform:           provision.Platform(d.Platform),
		ExistingSPF:        d.SPF,
		AdditionalIncludes: d.ExtraIncludes,
		FlattenOptions: spf.FlattenOptions{
			PreserveIncludes: d.KeepIncludes,
			IPv6:             d.IPv6,
			AggregateCIDRs:   d.AggregateCIDRs,
		},
		DMARC:             dmarc,
		DKIMKey:           d.DKIMKey,
		DKIMSelector:      d.DKIMSelector,
		TrackingSubdomain: d.TrackingSubdomain,
		TrackingProvider:  d.TrackingProvider,
		CustomMX:          mx,
		TTL:               d.TTL,
		SkipDuplicates:    true,
		DryRun:            cliConfig.DryRun || boolValue(d.DryRun, cliConfig.DryRun),
	}
}

func boolValue(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

func renderSetupResult(result *provision.SetupResult, dryRun bool) string {
	var buf strings.Builder

	buf.WriteString("\n===== Processing domain: ")
	buf.WriteString(result.Domain)
	buf.WriteString(" \n\n")

	for _, r := range result.Results {
		var verdict string
		switch r.Outcome {
		case provision.OutcomeCreated:
			verdict = au.Green("created").String()
		case provision.OutcomePlanned:
			verdict = au.Cyan("planned").String()
		case provision.OutcomeSkipped:
			verdict = au.Yellow("skipped (exists)").String()
		case provision.OutcomeFailed:
			verdict = au.Red("failed: " + r.Err).String()
		}
		buf.WriteString(fmt.Sprintf("  [%s] %s %s  %s\n",
			string(r.Record.Purpose), r.Record.Type, recordName(result.Domain, r.Record.Name), verdict))
		if cliConfig.Verbose || r.Record.Purpose == records.PurposeSPF {
			buf.WriteString("      ")
			buf.WriteString(r.Record.Value)
			buf.WriteString("\n")
		}
	}

	for _, warning := range result.Warnings {
		buf.WriteString(fmt.Sprintf("  %s %s\n", au.Yellow("warning:"), warning))
	}
	for _, errMsg := range result.Errors {
		buf.WriteString(fmt.Sprintf("  %s %s\n", au.Red("error:"), errMsg))
	}

	buf.WriteString(fmt.Sprintf("\n  %d of %d records successful, %d skipped, %d failed\n",
		result.Successful, result.Total, result.Skipped, result.Failed))
	if dryRun {
		buf.WriteString("  DNS records would be created in production mode.\n")
	}
	buf.WriteString("---\n")
	return buf.String()
}

func recordName(domain, name string) string {
	if name == "@" || name == "" {
		return domain
	}
	return name + "." + domain
}

func init() {
	setupCmd.Flags().Bool("dry-run", true, "Simulate changes without applying them") // Default to true for safety
	setupCmd.Flags().String("output", "", "Write final reports to a specified file instead of stdout")
	setupCmd.Flags().Bool("production", false, "Enable production mode (live DNS updates)")
	setupCmd.Flags().String("backup-dir", "", "Snapshot every zone to this directory before making changes")
}
