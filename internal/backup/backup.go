// Package backup snapshots a zone's records before the engine mutates
// them, and can push a snapshot back into the zone. Snapshots serialise
// to JSON or YAML so they diff cleanly in version control.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/inboxlane/maildns/internal/cloudflare"
)

// SnapshotVersion is bumped when the snapshot layout changes.
const SnapshotVersion = "1"

// Format is a snapshot serialisation format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Record is one record in a snapshot, provider-neutral.
type Record struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Type     string `json:"type" yaml:"type"`
	Name     string `json:"name" yaml:"name"`
	Content  string `json:"content" yaml:"content"`
	TTL      int    `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	Priority *int   `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Snapshot is the full record set of one zone at one point in time.
type Snapshot struct {
	Domain     string    `json:"domain" yaml:"domain"`
	ZoneID     string    `json:"zone_id" yaml:"zone_id"`
	Version    string    `json:"version" yaml:"version"`
	ExportedAt time.Time `json:"exported_at" yaml:"exported_at"`
	Records    []Record  `json:"records" yaml:"records"`
}

// Manager exports and restores zone snapshots through the provider
// facade.
type Manager struct {
	provider cloudflare.API
	logger   *slog.Logger
	now      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(provider cloudflare.API, opts ...ManagerOption) *Manager {
	m := &Manager{
		provider: provider,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Export reads the zone's current record set into a snapshot.
func (m *Manager) Export(ctx context.Context, domain, zoneID string) (*Snapshot, error) {
	existing, err := m.provider.ListRecords(ctx, zoneID)
	if err != nil {
		return nil, fmt.Errorf("listing records for %s: %w", domain, err)
	}

	snapshot := &Snapshot{
		Domain:     domain,
		ZoneID:     zoneID,
		Version:    SnapshotVersion,
		ExportedAt: m.now(),
		Records:    make([]Record, 0, len(existing)),
	}
	for _, rec := range existing {
		snapshot.Records = append(snapshot.Records, Record{
			ID:       rec.ID,
			Type:     rec.Type,
			Name:     rec.Name,
			Content:  rec.Content,
			TTL:      rec.TTL,
			Priority: rec.Priority,
		})
	}

	m.logger.Info("zone exported", "domain", domain, "records", len(snapshot.Records))
	return snapshot, nil
}

// RestoreOptions controls how a snapshot is pushed back.
type RestoreOptions struct {
	// DryRun reports what would be created without writing.
	DryRun bool
	// Types, when non-empty, restricts the restore to these record types.
	Types []string
}

// RestoreResult accounts for one restore pass.
type RestoreResult struct {
	Domain  string
	Created int
	Skipped int
	Failed  int
	Errors  []string
}

// Restore re-creates snapshot records missing from the zone. Records the
// zone already holds are skipped; records the provider cannot manage
// (NS, SOA) are never touched. Per-record failures never abort the pass.
func (m *Manager) Restore(ctx context.Context, snapshot *Snapshot, opts RestoreOptions) (*RestoreResult, error) {
	existing, err := m.provider.ListRecords(ctx, snapshot.ZoneID)
	if err != nil {
		return nil, fmt.Errorf("listing records for %s: %w", snapshot.Domain, err)
	}

	result := &RestoreResult{Domain: snapshot.Domain}
	typeFilter := toUpperSet(opts.Types)

	for _, rec := range snapshot.Records {
		rtype := strings.ToUpper(rec.Type)
		if rtype == "NS" || rtype == "SOA" {
			result.Skipped++
			continue
		}
		if len(typeFilter) > 0 && !typeFilter[rtype] {
			result.Skipped++
			continue
		}
		if containsRecord(existing, rec) {
			result.Skipped++
			continue
		}
		if opts.DryRun {
			result.Created++
			continue
		}

		_, err := m.provider.CreateRecord(ctx, snapshot.ZoneID, cloudflare.Record{
			Type:     rec.Type,
			Name:     rec.Name,
			Content:  rec.Content,
			TTL:      rec.TTL,
			Priority: rec.Priority,
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", rec.Type, rec.Name, err))
			continue
		}
		result.Created++
	}

	m.logger.Info("zone restored",
		"domain", snapshot.Domain,
		"created", result.Created,
		"skipped", result.Skipped,
		"failed", result.Failed)
	return result, nil
}

func containsRecord(existing []cloudflare.Record, rec Record) bool {
	for _, candidate := range existing {
		if strings.EqualFold(candidate.Type, rec.Type) &&
			strings.EqualFold(strings.TrimSuffix(candidate.Name, "."), strings.TrimSuffix(rec.Name, ".")) &&
			strings.TrimSpace(candidate.Content) == strings.TrimSpace(rec.Content) {
			return true
		}
	}
	return false
}

func toUpperSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToUpper(v)] = true
	}
	return set
}

// Encode serialises the snapshot.
func (s *Snapshot) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(s)
	case FormatJSON:
		return json.MarshalIndent(s, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}
}

// Decode parses a serialised snapshot.
func Decode(data []byte, format Format) (*Snapshot, error) {
	var snapshot Snapshot
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &snapshot)
	case FormatJSON:
		err = json.Unmarshal(data, &snapshot)
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snapshot.Domain == "" {
		return nil, fmt.Errorf("snapshot has no domain")
	}
	return &snapshot, nil
}

// FormatForPath picks the serialisation format from a file extension,
// defaulting to JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// WriteFile serialises the snapshot to path, picking the format from the
// extension.
func WriteFile(path string, snapshot *Snapshot) error {
	data, err := snapshot.Encode(FormatForPath(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a snapshot from path, picking the format from the
// extension.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	return Decode(data, FormatForPath(path))
}
