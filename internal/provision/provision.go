// Package provision composes the five record families for one domain,
// deduplicates them against the authoritative provider, and persists what
// was written. It is the only component that talks to both the provider
// and the store.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/inboxlane/maildns/internal/cloudflare"
	"github.com/inboxlane/maildns/internal/records"
	"github.com/inboxlane/maildns/internal/spf"
	"github.com/inboxlane/maildns/internal/store"
)

// Platform is the email platform the domain sends through.
type Platform string

const (
	PlatformGoogleWorkspace Platform = "google-workspace"
	PlatformMicrosoft365    Platform = "microsoft-365"
	PlatformCustom          Platform = "custom"
)

// Platform default SPF includes.
const (
	googleSPFInclude    = "_spf.google.com"
	microsoftSPFInclude = "spf.protection.outlook.com"
)

// SetupConfig is the full input for one domain setup.
type SetupConfig struct {
	Domain   string
	DomainID string
	ZoneID   string
	Platform Platform

	// ExistingSPF, when set, is flattened instead of synthesising a
	// fresh record from platform defaults.
	ExistingSPF        string
	AdditionalIncludes []string
	FlattenOptions     spf.FlattenOptions

	DMARC records.DMARCConfig

	// DKIMKey is the base64 public key from the email platform. Leaving
	// it empty degrades to a warning; the selector record is published
	// manually later.
	DKIMKey      string
	DKIMSelector string

	TrackingSubdomain string
	TrackingProvider  string

	CustomMX []records.MXRecord

	TTL            int
	SkipDuplicates bool
	DryRun         bool
}

// RecordOutcome is the per-record verdict of a batch.
type RecordOutcome string

const (
	OutcomeCreated RecordOutcome = "created"
	OutcomeSkipped RecordOutcome = "skipped"
	OutcomeFailed  RecordOutcome = "failed"
	OutcomePlanned RecordOutcome = "planned" // dry run
)

// RecordResult is one record's journey through the batch.
type RecordResult struct {
	Record     records.Record
	Outcome    RecordOutcome
	ProviderID string
	StoreID    string
	Err        string
}

// SetupResult aggregates one setup batch.
type SetupResult struct {
	Domain     string
	Success    bool
	Results    []RecordResult
	Successful int
	Failed     int
	Skipped    int
	Total      int
	Errors     []string
	Warnings   []string
}

// Provisioner wires the generators to the provider and the store.
type Provisioner struct {
	provider   cloudflare.API
	records    store.DNSRecordStore
	flattened  store.FlattenedSPFStore
	flattener  *spf.Flattener
	limiter    *rate.Limiter
	logger     *slog.Logger
	invalidate func(domainID string)
	now        func() time.Time
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithRateLimiter throttles provider calls. Retry policy stays with the
// caller; the limiter only spaces requests out.
func WithRateLimiter(limiter *rate.Limiter) ProvisionerOption {
	return func(p *Provisioner) { p.limiter = limiter }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) ProvisionerOption {
	return func(p *Provisioner) { p.logger = logger }
}

// WithInvalidateHook registers a read-cache invalidation callback.
func WithInvalidateHook(hook func(domainID string)) ProvisionerOption {
	return func(p *Provisioner) { p.invalidate = hook }
}

func NewProvisioner(provider cloudflare.API, recordStore store.DNSRecordStore, flattenedStore store.FlattenedSPFStore, flattener *spf.Flattener, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		provider:  provider,
		records:   recordStore,
		flattened: flattenedStore,
		flattener: flattener,
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetupEmailDNS runs the full pipeline for one domain: generate the five
// record families, dedup against the provider, create and persist each
// record. Per-record failures never abort the batch.
func (p *Provisioner) SetupEmailDNS(ctx context.Context, cfg SetupConfig) (*SetupResult, error) {
	result := &SetupResult{Domain: cfg.Domain}

	if !records.ValidDomain(cfg.Domain) {
		result.Errors = append(result.Errors, fmt.Sprintf("invalid domain name: %s", cfg.Domain))
		return result, nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = records.DefaultTTL
	}

	generated := p.generate(ctx, cfg, result)
	result.Total = len(generated)

	// Provider dedup is advisory: a list failure downgrades to a
	// warning and the store's uniqueness invariant stays authoritative.
	existing, err := p.provider.ListRecords(ctx, cfg.ZoneID)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("could not list existing records, duplicate check skipped: %v", err))
		existing = nil
	}

	for _, rec := range generated {
		outcome := p.provisionRecord(ctx, cfg, rec, existing)
		result.Results = append(result.Results, outcome)
		switch outcome.Outcome {
		case OutcomeCreated, OutcomePlanned:
			result.Successful++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Failed++
		}
	}

	result.Success = result.Failed == 0 && len(result.Errors) == 0
	p.fireInvalidate(cfg.DomainID)

	p.logger.Info("email DNS setup finished",
		"domain", cfg.Domain,
		"successful", result.Successful,
		"skipped", result.Skipped,
		"failed", result.Failed)
	return result, nil
}

// Plan runs only the generation phase and returns the record set that a
// full setup would provision, with any generator warnings and errors.
func (p *Provisioner) Plan(ctx context.Context, cfg SetupConfig) ([]records.Record, *SetupResult) {
	result := &SetupResult{Domain: cfg.Domain}
	if cfg.TTL <= 0 {
		cfg.TTL = records.DefaultTTL
	}
	planned := p.generate(ctx, cfg, result)
	result.Total = len(planned)
	return planned, result
}

// generate produces the record set for the batch. Generator validation
// errors drop the affected record and surface in the result.
func (p *Provisioner) generate(ctx context.Context, cfg SetupConfig, result *SetupResult) []records.Record {
	var out []records.Record

	if rec, ok := p.generateSPF(ctx, cfg, result); ok {
		out = append(out, rec)
	}

	if cfg.DKIMKey == "" {
		// Keys arrive out of band from the email platform; mail stays
		// unsigned until the operator supplies one.
		result.Warnings = append(result.Warnings,
			"no DKIM key supplied; publish the selector record manually once the platform issues one")
	} else {
		dkim, v := records.BuildDKIM(cfg.Domain, cfg.DKIMKey, records.DKIMOptions{Selector: cfg.DKIMSelector})
		result.Warnings = append(result.Warnings, v.Warnings...)
		if !v.Valid {
			result.Errors = append(result.Errors, v.Errors...)
		} else {
			out = append(out, records.Record{
				Type:    records.TypeTXT,
				Name:    dkim.Name,
				Value:   dkim.Value,
				TTL:     cfg.TTL,
				Purpose: records.PurposeDKIM,
				Metadata: map[string]string{
					"selector": dkim.Selector,
				},
			})
		}
	}

	dmarc, v := records.BuildDMARC(cfg.Domain, cfg.DMARC)
	result.Warnings = append(result.Warnings, v.Warnings...)
	if !v.Valid {
		result.Errors = append(result.Errors, v.Errors...)
	} else {
		out = append(out, records.Record{
			Type:    records.TypeTXT,
			Name:    "_dmarc",
			Value:   dmarc.Value,
			TTL:     cfg.TTL,
			Purpose: records.PurposeDMARC,
		})
	}

	mxSet := cfg.CustomMX
	if len(mxSet) == 0 {
		switch cfg.Platform {
		case PlatformMicrosoft365:
			mxSet = records.Microsoft365MX(cfg.Domain)
		default:
			mxSet = records.GoogleWorkspaceMX()
		}
	}
	mv := records.ValidateMX(mxSet)
	result.Warnings = append(result.Warnings, mv.Warnings...)
	if !mv.Valid {
		result.Errors = append(result.Errors, mv.Errors...)
	} else {
		for _, mx := range mxSet {
			out = append(out, records.Record{
				Type:     records.TypeMX,
				Name:     "@",
				Value:    mx.Exchange,
				TTL:      cfg.TTL,
				Priority: mx.Priority,
				Purpose:  records.PurposeMX,
			})
		}
	}

	if cfg.TrackingSubdomain != "" {
		tracking, tv := records.BuildTracking(cfg.Domain, cfg.TrackingSubdomain, cfg.TrackingProvider)
		result.Warnings = append(result.Warnings, tv.Warnings...)
		if !tv.Valid {
			result.Errors = append(result.Errors, tv.Errors...)
		} else {
			out = append(out, records.Record{
				Type:    records.TypeCNAME,
				Name:    tracking.Subdomain,
				Value:   tracking.Target,
				TTL:     cfg.TTL,
				Purpose: records.PurposeTracking,
				Metadata: map[string]string{
					"provider": strings.ToLower(cfg.TrackingProvider),
				},
			})
		}
	}

	return out
}

// generateSPF flattens an existing record or synthesises one from the
// platform default plus user includes.
func (p *Provisioner) generateSPF(ctx context.Context, cfg SetupConfig, result *SetupResult) (records.Record, bool) {
	if cfg.ExistingSPF != "" {
		opts := cfg.FlattenOptions
		opts.AdditionalIncludes = append(opts.AdditionalIncludes, cfg.AdditionalIncludes...)
		flat := p.flattener.Flatten(ctx, cfg.Domain, cfg.ExistingSPF, opts)
		result.Warnings = append(result.Warnings, flat.Warnings...)

		p.persistFlattened(ctx, cfg.Domain, flat)
		if !flat.Success {
			result.Errors = append(result.Errors, flat.Errors...)
			return records.Record{}, false
		}
		return records.Record{
			Type:    records.TypeTXT,
			Name:    "@",
			Value:   flat.Flattened,
			TTL:     cfg.TTL,
			Purpose: records.PurposeSPF,
		}, true
	}

	include := googleSPFInclude
	if cfg.Platform == PlatformMicrosoft365 {
		include = microsoftSPFInclude
	}
	parts := []string{"v=spf1", "include:" + include}
	for _, extra := range cfg.AdditionalIncludes {
		if extra != "" && extra != include {
			parts = append(parts, "include:"+extra)
		}
	}
	parts = append(parts, "~all")
	value := strings.Join(parts, " ")

	report := spf.ValidateSyntax(value)
	result.Warnings = append(result.Warnings, report.Warnings...)
	if !report.Valid {
		result.Errors = append(result.Errors, report.Errors...)
		return records.Record{}, false
	}
	return records.Record{
		Type:    records.TypeTXT,
		Name:    "@",
		Value:   value,
		TTL:     cfg.TTL,
		Purpose: records.PurposeSPF,
	}, true
}

func (p *Provisioner) persistFlattened(ctx context.Context, domain string, flat *spf.FlattenResult) {
	if p.flattened == nil {
		return
	}
	var summary []string
	for _, include := range flat.Includes {
		summary = append(summary, fmt.Sprintf("%s:%d+%d", include.Domain, len(include.IPv4), len(include.IPv6)))
	}
	snapshot := &store.FlattenedSPF{
		Domain:           domain,
		Original:         flat.Original,
		Flattened:        flat.Flattened,
		OriginalLookups:  flat.OriginalLookups,
		FlattenedLookups: flat.FlattenedLookups,
		IncludeSummary:   strings.Join(summary, ","),
		Valid:            flat.Success,
		Errors:           flat.Errors,
		UpdatedAt:        p.now(),
	}
	if err := p.flattened.UpsertFlattenedSPF(ctx, snapshot); err != nil {
		p.logger.Warn("could not persist flattened SPF snapshot", "domain", domain, "error", err)
	}
}

// provisionRecord pushes one record through dedup, provider create, and
// store insert. Provider-create failure fails only this record. A store
// failure after a successful create keeps the provider id in the result
// so a reconciler can heal the gap.
func (p *Provisioner) provisionRecord(ctx context.Context, cfg SetupConfig, rec records.Record, existing []cloudflare.Record) RecordResult {
	result := RecordResult{Record: rec}

	if dup := findDuplicate(cfg.Domain, rec, existing); dup != nil {
		if cfg.SkipDuplicates {
			result.Outcome = OutcomeSkipped
			result.ProviderID = dup.ID
			return result
		}
		result.Outcome = OutcomeFailed
		result.Err = fmt.Sprintf("record already exists at the provider (id %s)", dup.ID)
		return result
	}

	if cfg.DryRun {
		result.Outcome = OutcomePlanned
		return result
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = err.Error()
			return result
		}
	}

	providerID, err := p.provider.CreateRecord(ctx, cfg.ZoneID, toProviderRecord(cfg.Domain, rec))
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Sprintf("provider create failed: %v", err)
		return result
	}
	result.ProviderID = providerID

	stored := &store.DNSRecord{
		DomainID: cfg.DomainID,
		Type:     rec.Type,
		Name:     rec.Name,
		Value:    rec.Value,
		TTL:      rec.TTL,
		Priority: rec.Priority,
		Purpose:  rec.Purpose,
		Metadata: mergeMetadata(rec.Metadata, map[string]string{
			"provider_record_id": providerID,
			"platform":           string(cfg.Platform),
		}),
	}
	if err := p.records.InsertRecord(ctx, stored); err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Sprintf("store insert failed after provider create (provider id %s): %v", providerID, err)
		return result
	}
	result.StoreID = stored.ID
	result.Outcome = OutcomeCreated
	return result
}

// findDuplicate matches on type, name, and content. SPF values compare in
// normalised form so reordered mechanisms still count as duplicates.
func findDuplicate(domain string, rec records.Record, existing []cloudflare.Record) *cloudflare.Record {
	fqdn := rec.Name
	if fqdn == "@" {
		fqdn = domain
	} else {
		fqdn = rec.Name + "." + domain
	}

	for i := range existing {
		candidate := &existing[i]
		if !strings.EqualFold(candidate.Type, string(rec.Type)) {
			continue
		}
		if !strings.EqualFold(strings.TrimSuffix(candidate.Name, "."), fqdn) {
			continue
		}
		if rec.Purpose == records.PurposeSPF && spf.Equivalent(candidate.Content, rec.Value) {
			return candidate
		}
		if strings.EqualFold(strings.TrimSpace(candidate.Content), strings.TrimSpace(rec.Value)) {
			return candidate
		}
	}
	return nil
}

func toProviderRecord(domain string, rec records.Record) cloudflare.Record {
	name := rec.Name
	if name == "@" {
		name = domain
	} else {
		name = rec.Name + "." + domain
	}

	out := cloudflare.Record{
		Type:    string(rec.Type),
		Name:    name,
		Content: rec.Value,
		TTL:     rec.TTL,
	}
	if rec.Type == records.TypeMX {
		priority := rec.Priority
		out.Priority = &priority
	}
	if rec.Type == records.TypeCNAME {
		// Tracking CNAMEs must not be proxied at the edge; the tracking
		// host handles the redirect itself.
		proxied := false
		out.Proxied = &proxied
	}
	return out
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// Verification is the outcome of VerifyConfiguration.
type Verification struct {
	Complete    bool
	Missing     []string
	HasTracking bool
}

// VerifyConfiguration reads the store and reports whether every core
// purpose has at least one active record.
func (p *Provisioner) VerifyConfiguration(ctx context.Context, domainID string) (*Verification, error) {
	active, err := p.records.ListActiveRecords(ctx, domainID)
	if err != nil {
		return nil, fmt.Errorf("listing records for %s: %w", domainID, err)
	}

	present := make(map[records.Purpose]bool)
	for _, record := range active {
		present[record.Purpose] = true
	}

	verification := &Verification{HasTracking: present[records.PurposeTracking]}
	for _, purpose := range []records.Purpose{records.PurposeSPF, records.PurposeDKIM, records.PurposeDMARC, records.PurposeMX} {
		if !present[purpose] {
			verification.Missing = append(verification.Missing, string(purpose))
		}
	}
	verification.Complete = len(verification.Missing) == 0
	return verification, nil
}

// DeleteRecord removes a provisioned record from both the provider and
// the store.
func (p *Provisioner) DeleteRecord(ctx context.Context, zoneID string, record *store.DNSRecord) error {
	if providerID := record.Metadata["provider_record_id"]; providerID != "" {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := p.provider.DeleteRecord(ctx, zoneID, providerID); err != nil {
			return fmt.Errorf("provider delete failed: %w", err)
		}
	}
	if err := p.records.MarkRemoved(ctx, record.ID); err != nil {
		return fmt.Errorf("marking record removed: %w", err)
	}
	p.fireInvalidate(record.DomainID)
	return nil
}

func (p *Provisioner) fireInvalidate(domainID string) {
	if p.invalidate != nil {
		p.invalidate(domainID)
	}
}
