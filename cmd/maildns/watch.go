package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inboxlane/maildns/internal/config"
	"github.com/inboxlane/maildns/internal/propagation"
	"github.com/inboxlane/maildns/internal/provision"
	"github.com/inboxlane/maildns/internal/resolver"
	"github.com/inboxlane/maildns/internal/status"
	"github.com/inboxlane/maildns/internal/store"
)

var watchCmd = &cobra.Command{
	Use:   "watch <domain>",
	Short: "Watch a domain's email DNS records propagate across public resolvers.",
	Long: `Poll the public resolver pool until every expected record for the domain is
visible everywhere, then exit.

The expected record set is derived from the config file the same way "setup"
derives it. Polling rechecks every 30 seconds and gives up after 48 hours.
Interrupt with Ctrl-C to cancel the session early.
`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		domainName := args[0]

		cfg, _, err := processConfig(cmd)
		if err != nil {
			cmd.PrintErrf("Error: %v\n", err)
			return
		}

		var target *provision.SetupConfig
		var domCfg config.Domain
		for _, d := range cfg.Domains {
			if d.Name == domainName {
				setupCfg := setupConfigFor(d)
				target = &setupCfg
				domCfg = d
				break
			}
		}
		if target == nil {
			cmd.PrintErrf("Error: domain %s not found in config\n", domainName)
			return
		}

		logger := setupLogger()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Plan the record set and seed the in-process store with it; the
		// watch never writes to the provider.
		client := providerClient(cfg)
		memory := store.NewMemory()
		dom := &store.Domain{Name: domainName, ZoneID: target.ZoneID, OwnerID: "cli"}
		memory.PutDomain(dom)
		target.DomainID = dom.ID

		dnsProvider := setupDNSProvider(cfg)
		defer dnsProvider.Close()

		provisioner := provision.NewProvisioner(client, memory, memory, buildFlattener(dnsProvider, domCfg))
		planned, planResult := provisioner.Plan(ctx, *target)
		for _, warning := range planResult.Warnings {
			fmt.Fprintf(stdout, "%s %s\n", au.Yellow("warning:"), warning)
		}
		if len(planResult.Errors) > 0 {
			for _, errMsg := range planResult.Errors {
				cmd.PrintErrf("error: %s\n", errMsg)
			}
			return
		}
		for _, rec := range planned {
			record := &store.DNSRecord{
				DomainID: dom.ID,
				Type:     rec.Type,
				Name:     rec.Name,
				Value:    rec.Value,
				TTL:      rec.TTL,
				Priority: rec.Priority,
				Purpose:  rec.Purpose,
				Metadata: rec.Metadata,
			}
			if err := memory.InsertRecord(ctx, record); err != nil {
				cmd.PrintErrf("Error seeding record %s %s: %v\n", rec.Type, rec.Name, err)
				return
			}
		}

		checker := propagation.NewChecker(resolver.NewService())
		statusSvc := status.NewService(memory, memory, memory)
		scheduler := propagation.NewScheduler(memory, memory, memory, checker,
			propagation.WithSchedulerLogger(logger),
			propagation.WithInvalidateHook(statusSvc.Invalidate))

		session, err := scheduler.Start(ctx, dom.ID, "cli")
		if err != nil {
			cmd.PrintErrf("Error starting polling session: %v\n", err)
			return
		}
		fmt.Fprintf(stdout, "\nWatching %d records for %s (session %s)\n\n",
			session.TotalRecords, domainName, session.ID)

		ticker := time.NewTicker(session.CheckInterval)
		defer ticker.Stop()

		for {
			tick, err := scheduler.Tick(context.Background(), session.ID)
			if err != nil {
				cmd.PrintErrf("Error during polling tick: %v\n", err)
				return
			}
			statusSvc.InvalidateSession(session.ID)
			printTick(tick)

			if tick.Session.Status.Terminal() {
				printVerdict(tick.Session)
				return
			}

			select {
			case <-ctx.Done():
				if err := scheduler.Cancel(context.Background(), session.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
					cmd.PrintErrf("Error cancelling session: %v\n", err)
				}
				fmt.Fprintf(stdout, "\n%s\n", au.Yellow("Polling session cancelled."))
				return
			case <-ticker.C:
			}
		}
	},
}

func printTick(tick *propagation.TickResult) {
	if tick.Checks == nil {
		return
	}
	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(stdout, "[%s] overall %3d%%  (%d full, %d partial, %d pending)\n",
		timestamp,
		tick.Coverage.OverallPercentage,
		tick.Coverage.FullyPropagated,
		tick.Coverage.PartiallyPropagated,
		tick.Coverage.NotPropagated)
	if cliConfig.Verbose {
		for _, check := range tick.Checks {
			verbosePrintlnf("  %-40s %3d%% (%d/%d)\n",
				check.FQDN, check.Percentage, check.PropagatedServers, check.TotalServers)
		}
	}
}

func printVerdict(session *store.PollingSession) {
	switch session.Status {
	case store.SessionCompleted:
		fmt.Fprintf(stdout, "\n%s\n", au.Green("All records fully propagated."))
	case store.SessionTimeout:
		fmt.Fprintf(stdout, "\n%s\n", au.Red("Polling window expired before full propagation."))
	case store.SessionCancelled:
		fmt.Fprintf(stdout, "\n%s\n", au.Yellow("Polling session cancelled."))
	}
}

