// Package seed loads tenant and form fixtures into a configuration store.
package seed

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tzomaik-art/form-builder/internal/model"
	"github.com/tzomaik-art/form-builder/internal/store"
)

// Fixture is the YAML document accepted by the seeder
type Fixture struct {
	Tenants []model.Tenant `yaml:"tenants"`
	Forms   []model.Form   `yaml:"forms"`
}

// LoadFixture reads and checks a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a fixture and verifies every form belongs to a listed tenant.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}

	tenants := make(map[string]bool, len(f.Tenants))
	for _, t := range f.Tenants {
		if t.ID == "" || t.Shop == "" {
			return nil, fmt.Errorf("tenant requires id and shop")
		}
		if n := t.Settings.BestellIDLength; n != 0 && !t.Settings.Shape().Valid() {
			return nil, fmt.Errorf("tenant %s: bestell_id_length %d out of range [%d, %d]",
				t.ID, n, model.MinIdentifierLength, model.MaxIdentifierLength)
		}
		tenants[t.ID] = true
	}
	for _, form := range f.Forms {
		if form.ID == "" || form.Slug == "" {
			return nil, fmt.Errorf("form requires id and slug")
		}
		if !tenants[form.TenantID] {
			return nil, fmt.Errorf("form %s references unknown tenant %q", form.ID, form.TenantID)
		}
	}
	return &f, nil
}

// Apply upserts the fixture. Tenants go first so forms can reference them.
func Apply(ctx context.Context, cs store.ConfigStore, f *Fixture, logger *zap.Logger) error {
	for i := range f.Tenants {
		t := &f.Tenants[i]
		if err := cs.UpsertTenant(ctx, t); err != nil {
			return fmt.Errorf("tenant %s: %w", t.ID, err)
		}
		logger.Info("Seeded tenant", zap.String("tenant_id", t.ID), zap.String("shop", t.Shop))
	}
	for i := range f.Forms {
		form := &f.Forms[i]
		if err := cs.UpsertForm(ctx, form); err != nil {
			return fmt.Errorf("form %s: %w", form.ID, err)
		}
		logger.Info("Seeded form",
			zap.String("tenant_id", form.TenantID),
			zap.String("slug", form.Slug))
	}
	return nil
}
