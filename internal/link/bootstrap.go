package link

import (
	"context"
	"fmt"
	"sync"

	"connector/internal/config"
	"connector/internal/logger"
	"connector/pkg/errors"
	"connector/pkg/models"
)

// Bootstrapper activates the configured link partners at startup and keeps
// the catalog of known configurations for later activation.
type Bootstrapper struct {
	registry *Registry
	repo     ConfigRepository
	cfg      config.LinksConfig
	logger   logger.Logger

	mu      sync.RWMutex
	catalog map[string]models.LinkConfiguration
}

// NewBootstrapper wires the registry with the static configuration and, if
// repo is not nil, the stored configurations.
func NewBootstrapper(registry *Registry, repo ConfigRepository, cfg config.LinksConfig, log logger.Logger) *Bootstrapper {
	return &Bootstrapper{
		registry: registry,
		repo:     repo,
		cfg:      cfg,
		logger:   log,
		catalog:  make(map[string]models.LinkConfiguration),
	}
}

// Start loads the link configurations and activates every enabled partner.
// A failing partner aborts startup when fail_on_link_plugin_error is set and
// is logged otherwise.
func (b *Bootstrapper) Start(ctx context.Context) error {
	configs, err := b.load(ctx)
	if err != nil {
		return err
	}
	for _, c := range configs {
		b.remember(c)
	}

	if !b.cfg.Autostart {
		b.logger.InfowCtx(ctx, "Link autostart disabled, no link partner activated",
			"configurations", len(configs),
		)
		return nil
	}

	activated := 0
	for _, c := range configs {
		for _, p := range c.Partners {
			if !p.Enabled {
				b.logger.InfowCtx(ctx, "Skipping disabled link partner",
					"link_partner", p.Name,
					"config_name", c.ConfigName,
				)
				continue
			}
			if _, err := b.registry.ActivateLinkPartner(ctx, c, p.Name); err != nil {
				if b.cfg.FailOnLinkPluginError {
					return fmt.Errorf("failed to activate link partner %s: %w", p.Name, err)
				}
				b.logger.WarnwCtx(ctx, "Link partner could not be activated",
					"link_partner", p.Name,
					"config_name", c.ConfigName,
					"error", err,
				)
				continue
			}
			activated++
		}
	}

	b.logger.InfowCtx(ctx, "Link bootstrap finished",
		"configurations", len(configs),
		"activated_partners", activated,
	)
	return nil
}

func (b *Bootstrapper) load(ctx context.Context) ([]models.LinkConfiguration, error) {
	var configs []models.LinkConfiguration
	seen := make(map[string]bool)

	if b.cfg.LoadEnvConfig {
		gateway, err := b.gatewayConfig()
		if err != nil {
			return nil, err
		}
		if gateway != nil {
			configs = append(configs, *gateway)
			seen[gateway.ConfigName] = true
		}
		for _, backend := range b.cfg.Backends {
			if backend.LinkType == "" {
				backend.LinkType = models.LinkTypeBackend
			}
			configs = append(configs, backend)
			seen[backend.ConfigName] = true
		}
	}

	if b.cfg.LoadDBConfig && b.repo != nil {
		stored, err := b.repo.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load link configurations: %w", err)
		}
		for _, c := range stored {
			if seen[c.ConfigName] {
				b.logger.WarnwCtx(ctx, "Stored link configuration shadowed by static configuration",
					"config_name", c.ConfigName,
				)
				continue
			}
			configs = append(configs, c)
			seen[c.ConfigName] = true
		}
	}

	if err := b.checkGateways(configs); err != nil {
		return nil, err
	}
	return configs, nil
}

// checkGateways enforces a single gateway partner across the static and the
// stored configurations. None at all is only an error when the gateway is
// required.
func (b *Bootstrapper) checkGateways(configs []models.LinkConfiguration) error {
	var names []string
	for _, c := range configs {
		for _, p := range c.Partners {
			if c.PartnerType(p) == models.LinkTypeGateway {
				names = append(names, p.Name)
			}
		}
	}
	if len(names) > 1 || (len(names) == 0 && b.cfg.GatewayRequired) {
		return errors.ErrValidation.WithMessage("exactly one gateway link partner must be configured, found %d %v", len(names), names)
	}
	return nil
}

// gatewayConfig returns the static gateway configuration. More than one
// partner is an error when the gateway is required and skips the gateway
// otherwise.
func (b *Bootstrapper) gatewayConfig() (*models.LinkConfiguration, error) {
	gw := b.cfg.Gateway
	if gw == nil || len(gw.Partners) == 0 {
		return nil, nil
	}
	if count := len(gw.Partners); count > 1 {
		if b.cfg.GatewayRequired {
			return nil, errors.ErrValidation.WithMessage("exactly one gateway link partner must be configured, found %d", count)
		}
		b.logger.Warnw("Ignoring gateway configuration without exactly one partner", "partners", count)
		return nil, nil
	}

	c := *gw
	c.LinkType = models.LinkTypeGateway
	return &c, nil
}

func (b *Bootstrapper) remember(c models.LinkConfiguration) {
	b.registry.Configure(c)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range c.Partners {
		b.catalog[p.Name] = c
	}
}

// Configuration finds the configuration that contains partnerName, first in
// the loaded catalog and then in the store.
func (b *Bootstrapper) Configuration(ctx context.Context, partnerName string) (models.LinkConfiguration, error) {
	b.mu.RLock()
	c, ok := b.catalog[partnerName]
	b.mu.RUnlock()
	if ok {
		return c, nil
	}

	if b.repo != nil {
		stored, err := b.repo.FindByPartner(ctx, partnerName)
		if err == nil {
			b.remember(*stored)
			return *stored, nil
		}
		if !errors.IsNotFound(err) {
			return models.LinkConfiguration{}, err
		}
	}
	return models.LinkConfiguration{}, errors.ErrLinkPartnerNotFound.WithMessage("link partner %s not found", partnerName)
}

// Activate activates a known partner on demand.
func (b *Bootstrapper) Activate(ctx context.Context, partnerName string) (*ActiveLinkPartner, error) {
	c, err := b.Configuration(ctx, partnerName)
	if err != nil {
		return nil, err
	}
	return b.registry.ActivateLinkPartner(ctx, c, partnerName)
}
