package link

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/internal/config"
	apperrors "connector/pkg/errors"
	"connector/pkg/models"
)

func linksConfig() config.LinksConfig {
	return config.LinksConfig{
		Autostart:     true,
		LoadEnvConfig: true,
		Gateway: &models.LinkConfiguration{
			ConfigName: "gw",
			PluginName: "fake",
			Partners:   []models.LinkPartner{{Name: "gw1", Enabled: true}},
		},
		Backends: []models.LinkConfiguration{
			backendConfig(
				models.LinkPartner{Name: "backend_a", Enabled: true},
				models.LinkPartner{Name: "backend_off", Enabled: false},
				models.LinkPartner{Name: "broken", Enabled: true},
			),
		},
	}
}

func activeNames(r *Registry) []string {
	names := make([]string, 0)
	for _, p := range r.ActivePartners() {
		names = append(names, p.Name())
	}
	return names
}

func TestBootstrapperStart(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*config.LinksConfig)
		repo       ConfigRepository
		wantErr    string
		wantActive []string
	}{
		{
			name:       "fail open skips broken partner",
			mutate:     func(*config.LinksConfig) {},
			wantActive: []string{"backend_a", "gw1"},
		},
		{
			name:    "fail fast aborts on broken partner",
			mutate:  func(c *config.LinksConfig) { c.FailOnLinkPluginError = true },
			wantErr: "broken",
		},
		{
			name:       "autostart disabled",
			mutate:     func(c *config.LinksConfig) { c.Autostart = false },
			wantActive: []string{},
		},
		{
			name: "required gateway with two partners",
			mutate: func(c *config.LinksConfig) {
				c.GatewayRequired = true
				c.Gateway.Partners = append(c.Gateway.Partners, models.LinkPartner{Name: "gw2", Enabled: true})
			},
			wantErr: "exactly one gateway",
		},
		{
			name: "optional gateway with two partners is skipped",
			mutate: func(c *config.LinksConfig) {
				c.Gateway.Partners = append(c.Gateway.Partners, models.LinkPartner{Name: "gw2", Enabled: true})
			},
			wantActive: []string{"backend_a"},
		},
		{
			name: "required gateway missing",
			mutate: func(c *config.LinksConfig) {
				c.GatewayRequired = true
				c.Gateway = nil
			},
			wantErr: "found 0",
		},
		{
			name: "stored configurations",
			mutate: func(c *config.LinksConfig) {
				c.LoadDBConfig = true
				c.Backends = nil
			},
			repo: NewMemoryConfigRepository(models.LinkConfiguration{
				ConfigName: "stored",
				PluginName: "fake",
				LinkType:   models.LinkTypeBackend,
				Partners:   []models.LinkPartner{{Name: "backend_db", Enabled: true}},
			}),
			wantActive: []string{"backend_db", "gw1"},
		},
		{
			name: "stored gateway next to the static gateway",
			mutate: func(c *config.LinksConfig) {
				c.LoadDBConfig = true
			},
			repo: NewMemoryConfigRepository(models.LinkConfiguration{
				ConfigName: "stored_gw",
				PluginName: "fake",
				LinkType:   models.LinkTypeGateway,
				Partners:   []models.LinkPartner{{Name: "gw_db", Enabled: true}},
			}),
			wantErr: "found 2",
		},
		{
			name: "stored gateway partner inside a backend configuration",
			mutate: func(c *config.LinksConfig) {
				c.LoadDBConfig = true
			},
			repo: NewMemoryConfigRepository(models.LinkConfiguration{
				ConfigName: "stored",
				PluginName: "fake",
				LinkType:   models.LinkTypeBackend,
				Partners: []models.LinkPartner{
					{Name: "backend_db", Enabled: true},
					{Name: "gw_db", Enabled: true, LinkType: models.LinkTypeGateway},
				},
			}),
			wantErr: "found 2",
		},
		{
			name: "required gateway from the store",
			mutate: func(c *config.LinksConfig) {
				c.GatewayRequired = true
				c.LoadDBConfig = true
				c.Gateway = nil
				c.Backends = nil
			},
			repo: NewMemoryConfigRepository(models.LinkConfiguration{
				ConfigName: "stored_gw",
				PluginName: "fake",
				LinkType:   models.LinkTypeGateway,
				Partners:   []models.LinkPartner{{Name: "gw_db", Enabled: true}},
			}),
			wantActive: []string{"gw_db"},
		},
		{
			name: "static configuration shadows stored one",
			mutate: func(c *config.LinksConfig) {
				c.LoadDBConfig = true
			},
			repo: NewMemoryConfigRepository(backendConfig(
				models.LinkPartner{Name: "backend_db", Enabled: true},
			)),
			wantActive: []string{"backend_a", "gw1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plugin := newFakePlugin()
			plugin.failFor["broken"] = true
			cfg := linksConfig()
			tt.mutate(&cfg)
			r := newTestRegistry(plugin, cfg)

			b := NewBootstrapper(r, tt.repo, cfg, r.logger)
			err := b.Start(context.Background())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantActive, activeNames(r))
		})
	}
}

func TestBootstrapperGatewayLinkType(t *testing.T) {
	r := newTestRegistry(newFakePlugin(), config.LinksConfig{})
	cfg := linksConfig()
	cfg.Backends = nil

	require.NoError(t, NewBootstrapper(r, nil, cfg, r.logger).Start(context.Background()))

	gw, ok := r.ActiveLinkPartner("gw1")
	require.True(t, ok)
	assert.Equal(t, models.LinkTypeGateway, gw.LinkType())
	assert.Equal(t, "gw1", r.GatewayPartner())
}

func TestBootstrapperActivateOnDemand(t *testing.T) {
	plugin := newFakePlugin()
	cfg := linksConfig()
	cfg.Autostart = false
	cfg.LoadDBConfig = true
	repo := NewMemoryConfigRepository(models.LinkConfiguration{
		ConfigName: "late",
		PluginName: "fake",
		LinkType:   models.LinkTypeBackend,
		Partners:   []models.LinkPartner{{Name: "backend_late"}},
	})
	r := newTestRegistry(plugin, cfg)
	b := NewBootstrapper(r, repo, cfg, r.logger)
	require.NoError(t, b.Start(context.Background()))

	_, err := r.Submitter("backend_off")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLinkPartnerNotActive), "catalog partners are known")

	active, err := b.Activate(context.Background(), "backend_off")
	require.NoError(t, err)
	assert.Equal(t, "backend_off", active.Name())

	_, err = b.Activate(context.Background(), "backend_late")
	require.NoError(t, err)

	_, err = b.Activate(context.Background(), "nobody")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLinkPartnerNotFound))
}
