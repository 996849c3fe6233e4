package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/inboxlane/maildns/internal/resolver"
)

const resolverTimeUnit = time.Millisecond

var checkCmd = &cobra.Command{
	Use:   "check <name> <type> [expected-value]",
	Short: "Check propagation of a single DNS record across public resolvers.",
	Long: `Query a DNS name against the fixed pool of public resolvers and report
which of them already serve the record.

With an expected value, each server's answer is compared against it and the
propagation percentage counts only matching answers. Without one, any answer
counts as propagated.

Examples:
  maildns check example.com TXT "v=spf1 ip4:203.0.113.9 ~all"
  maildns check _dmarc.example.com TXT
  maildns check example.com MX "1 smtp.google.com"
`,
	Args: cobra.RangeArgs(2, 3),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		rtype := resolver.RecordType(strings.ToUpper(args[1]))
		expected := ""
		if len(args) == 3 {
			expected = args[2]
		}

		svc := resolver.NewService()
		agg := svc.QueryAcrossServers(context.Background(), name, rtype, expected)

		var buf strings.Builder
		buf.WriteString(fmt.Sprintf("\n%s %s\n\n", name, rtype))
		for _, r := range agg.Results {
			buf.WriteString(renderServerResult(r, expected))
		}

		pct := fmt.Sprintf("%d%%", agg.PropagationPercentage)
		switch {
		case agg.IsPropagated:
			pct = au.Green(pct).String()
		case agg.PropagationPercentage > 0:
			pct = au.Yellow(pct).String()
		default:
			pct = au.Red(pct).String()
		}
		buf.WriteString(fmt.Sprintf("\nPropagation: %s (%d/%d servers)\n",
			pct, agg.PropagatedServers, agg.TotalServers))

		fmt.Fprint(stdout, buf.String())
	},
}

func renderServerResult(r resolver.ServerResult, expected string) string {
	label := fmt.Sprintf("%-16s %-12s", r.Server, r.Provider)
	switch {
	case r.Success && (expected == "" || r.MatchesExpected):
		answer := strings.Join(r.Records, " | ")
		return fmt.Sprintf("  %s %s  %s  (%v)\n", au.Green("ok      "), label, answer, r.ResponseTime.Round(resolverTimeUnit))
	case r.Success:
		answer := strings.Join(r.Records, " | ")
		return fmt.Sprintf("  %s %s  %s\n", au.Yellow("different"), label, answer)
	default:
		return fmt.Sprintf("  %s %s  %s\n", au.Red("missing "), label, r.Err)
	}
}
