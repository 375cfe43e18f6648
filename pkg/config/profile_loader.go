package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/Maverick0351a/signet-protocol/pkg/signet"
)

// TenantProfile is the on-disk YAML shape for one tenant's configuration.
// It mirrors signet.TenantConfig field-for-field so a profile file maps
// directly onto the runtime type with no lossy conversion.
type TenantProfile struct {
	TenantID         string            `yaml:"tenant_id"`
	APIKey           string            `yaml:"api_key"`
	Allowlist        []string          `yaml:"allowlist"`
	FallbackEnabled  bool              `yaml:"fallback_enabled"`
	FUMonthlyLimit   int64             `yaml:"fu_monthly_limit"`
	VExBillingItem   string            `yaml:"vex_billing_item"`
	FUBillingItem    string            `yaml:"fu_billing_item"`
	MinClientVersion string            `yaml:"min_client_version,omitempty"`
	ReservedVEx      int64             `yaml:"reserved_vex"`
	ReservedFU       int64             `yaml:"reserved_fu"`
	OverageTiers     []OverageTierYAML `yaml:"overage_tiers"`
}

// OverageTierYAML is the YAML shape of signet.OverageTier.
type OverageTierYAML struct {
	Threshold    int64   `yaml:"threshold"`
	PricePerUnit float64 `yaml:"price_per_unit"`
	BillingItem  string  `yaml:"billing_item"`
}

func (p TenantProfile) toTenantConfig() signet.TenantConfig {
	tiers := make([]signet.OverageTier, len(p.OverageTiers))
	for i, t := range p.OverageTiers {
		tiers[i] = signet.OverageTier{
			Threshold:    t.Threshold,
			PricePerUnit: t.PricePerUnit,
			BillingItem:  t.BillingItem,
		}
	}
	return signet.TenantConfig{
		TenantID:         p.TenantID,
		APIKey:           p.APIKey,
		Allowlist:        p.Allowlist,
		FallbackEnabled:  p.FallbackEnabled,
		FUMonthlyLimit:   p.FUMonthlyLimit,
		VExBillingItem:   p.VExBillingItem,
		FUBillingItem:    p.FUBillingItem,
		MinClientVersion: p.MinClientVersion,
		ReservedVEx:      p.ReservedVEx,
		ReservedFU:       p.ReservedFU,
		OverageTiers:     tiers,
	}
}

// LoadTenantProfile loads a single tenant YAML profile by tenant ID. It
// searches profilesDir for tenant_<tenant_id>.yaml.
func LoadTenantProfile(profilesDir, tenantID string) (signet.TenantConfig, error) {
	path := filepath.Join(profilesDir, fmt.Sprintf("tenant_%s.yaml", tenantID))

	data, err := os.ReadFile(path)
	if err != nil {
		return signet.TenantConfig{}, fmt.Errorf("load tenant profile %q: %w", tenantID, err)
	}

	var profile TenantProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return signet.TenantConfig{}, fmt.Errorf("parse tenant profile %q: %w", tenantID, err)
	}
	if profile.TenantID == "" {
		profile.TenantID = tenantID
	}

	return profile.toTenantConfig(), nil
}

// LoadAllTenantProfiles loads every tenant_*.yaml file from profilesDir,
// keyed by API key (the lookup callers actually need at request time).
func LoadAllTenantProfiles(profilesDir string) (map[string]signet.TenantConfig, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "tenant_*.yaml"))
	if err != nil {
		return nil, err
	}

	byAPIKey := make(map[string]signet.TenantConfig, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile TenantProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.TenantID == "" {
			base := filepath.Base(path)
			profile.TenantID = strings.TrimSuffix(strings.TrimPrefix(base, "tenant_"), ".yaml")
		}

		cfg := profile.toTenantConfig()
		byAPIKey[cfg.APIKey] = cfg
	}

	return byAPIKey, nil
}

// GlobalAllowlistPath is the conventional file name for the process-wide
// egress allowlist, loaded alongside the per-tenant profiles.
const GlobalAllowlistPath = "global_allowlist.yaml"

type globalAllowlistFile struct {
	Hosts []string `yaml:"hosts"`
}

// LoadGlobalAllowlist loads the global egress allowlist from profilesDir.
// A missing file is not an error: it's treated as an empty allowlist.
func LoadGlobalAllowlist(profilesDir string) ([]string, error) {
	path := filepath.Join(profilesDir, GlobalAllowlistPath)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read global allowlist: %w", err)
	}

	var f globalAllowlistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse global allowlist: %w", err)
	}
	return f.Hosts, nil
}

// TenantStore serves tenant lookups by API key off an atomically swapped
// snapshot, so a hot reload never blocks or races an in-flight request
// against a half-updated map.
type TenantStore struct {
	profilesDir string
	snapshot    atomic.Pointer[tenantSnapshot]
	mu          sync.Mutex // serializes concurrent Reload calls
}

type tenantSnapshot struct {
	byAPIKey map[string]signet.TenantConfig
	global   []string
}

// NewTenantStore builds a TenantStore and performs an initial load from
// profilesDir.
func NewTenantStore(profilesDir string) (*TenantStore, error) {
	ts := &TenantStore{profilesDir: profilesDir}
	if err := ts.Reload(); err != nil {
		return nil, err
	}
	return ts, nil
}

// Reload re-reads every tenant profile and the global allowlist from disk
// and atomically swaps them in. A failure leaves the previous snapshot in
// place untouched.
func (ts *TenantStore) Reload() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	byAPIKey, err := LoadAllTenantProfiles(ts.profilesDir)
	if err != nil {
		return err
	}
	global, err := LoadGlobalAllowlist(ts.profilesDir)
	if err != nil {
		return err
	}

	ts.snapshot.Store(&tenantSnapshot{byAPIKey: byAPIKey, global: global})
	return nil
}

// Resolve implements signetapi.TenantResolver.
func (ts *TenantStore) Resolve(apiKey string) (signet.TenantConfig, bool) {
	snap := ts.snapshot.Load()
	if snap == nil {
		return signet.TenantConfig{}, false
	}
	cfg, ok := snap.byAPIKey[apiKey]
	return cfg, ok
}

// GlobalAllowlist implements signetapi.TenantResolver.
func (ts *TenantStore) GlobalAllowlist() []string {
	snap := ts.snapshot.Load()
	if snap == nil {
		return nil
	}
	return snap.global
}
