package link

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"connector/internal/config"
	"connector/internal/logger"
	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/metrics"
	"connector/pkg/models"
)

// Registry holds the active links and link partners. All activation and
// shutdown goes through a single mutex, so a partner cannot be activated
// twice concurrently.
type Registry struct {
	mu         sync.RWMutex
	plugins    []Plugin
	links      map[string]*ActiveLink
	partners   map[string]*ActiveLinkPartner
	submitters map[string]Submitter
	known      map[string]models.LinkType

	scheduler       *PullScheduler
	receiver        Receiver
	dispatchTimeout time.Duration
	breaker         config.CircuitBreakerConfig
	logger          logger.Logger
}

func NewRegistry(plugins []Plugin, scheduler *PullScheduler, cfg config.LinksConfig, breaker config.CircuitBreakerConfig, log logger.Logger) *Registry {
	return &Registry{
		plugins:         plugins,
		links:           make(map[string]*ActiveLink),
		partners:        make(map[string]*ActiveLinkPartner),
		submitters:      make(map[string]Submitter),
		known:           make(map[string]models.LinkType),
		scheduler:       scheduler,
		dispatchTimeout: cfg.DispatchTimeout,
		breaker:         breaker,
		logger:          log,
	}
}

// SetReceiver sets where pulled messages go. It must be called before the
// first pull mode partner is activated.
func (r *Registry) SetReceiver(receiver Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receiver = receiver
}

func (r *Registry) Plugins() []Plugin {
	return r.plugins
}

func (r *Registry) plugin(impl string) (Plugin, error) {
	if impl == "" {
		return nil, errors.ErrValidation.WithMessage("link configuration has no plugin")
	}
	for _, p := range r.plugins {
		if p.CanHandle(impl) {
			return p, nil
		}
	}
	return nil, errors.ErrValidation.WithMessage("no link plugin can handle %q", impl)
}

// Configure makes the partners of cfg known without activating them. Submit
// requests to a known but inactive partner fail with L101 instead of L104.
func (r *Registry) Configure(cfg models.LinkConfiguration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range cfg.Partners {
		r.known[p.Name] = cfg.PartnerType(p)
	}
}

// ActivateLinkPartner starts the configuration of the partner if needed and
// enables the partner on it. Activating an active partner, or a second
// gateway partner, fails with a conflict.
func (r *Registry) ActivateLinkPartner(ctx context.Context, cfg models.LinkConfiguration, partnerName string) (*ActiveLinkPartner, error) {
	ctx = logging.WithLinkPartner(ctx, partnerName)

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.IndexFunc(cfg.Partners, func(p models.LinkPartner) bool { return p.Name == partnerName })
	if idx < 0 {
		return nil, errors.ErrLinkPartnerNotFound.WithMessage("link partner %s is not part of configuration %s", partnerName, cfg.ConfigName)
	}
	partner := cfg.Partners[idx]
	linkType := cfg.PartnerType(partner)
	r.known[partner.Name] = linkType

	if _, ok := r.partners[partner.Name]; ok {
		return nil, errors.ErrConflict.WithMessage("link partner %s is already active", partner.Name)
	}
	if linkType == models.LinkTypeGateway {
		if gw := r.activeGateway(); gw != "" {
			return nil, errors.ErrConflict.WithMessage("gateway link partner %s is already active, cannot activate %s", gw, partner.Name)
		}
	}

	link, err := r.startConfiguration(ctx, cfg, linkType)
	if err != nil {
		return nil, err
	}

	active, err := link.Plugin.EnableLinkPartner(ctx, partner, link)
	if err != nil {
		return nil, fmt.Errorf("failed to enable link partner %s: %w", partner.Name, err)
	}

	submitter, err := link.Plugin.Submitter(active)
	if err != nil {
		r.shutdownPartner(ctx, active)
		return nil, fmt.Errorf("failed to create submitter for link partner %s: %w", partner.Name, err)
	}

	if partner.Mode == models.LinkModePull {
		if err := r.configurePull(active); err != nil {
			r.shutdownPartner(ctx, active)
			return nil, err
		}
	}

	r.partners[partner.Name] = active
	r.submitters[partner.Name] = guardSubmitter(partner.Name, submitter, r.dispatchTimeout, r.breaker)
	r.publishCounts()

	r.logger.InfowCtx(ctx, "Link partner activated",
		"config_name", cfg.ConfigName,
		"plugin", link.Plugin.Name(),
		"link_type", linkType,
		"mode", partner.Mode,
	)
	return active, nil
}

func (r *Registry) startConfiguration(ctx context.Context, cfg models.LinkConfiguration, linkType models.LinkType) (*ActiveLink, error) {
	if cfg.ConfigName == "" {
		return nil, errors.ErrValidation.WithMessage("link configuration has no name")
	}

	if link, ok := r.links[cfg.ConfigName]; ok {
		if !slices.Contains(link.Plugin.SupportedLinkTypes(), linkType) {
			return nil, errors.ErrValidation.WithMessage("plugin %s does not support link type %s", link.Plugin.Name(), linkType)
		}
		return link, nil
	}

	plugin, err := r.plugin(cfg.PluginName)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(plugin.SupportedLinkTypes(), linkType) {
		return nil, errors.ErrValidation.WithMessage("plugin %s does not support link type %s", plugin.Name(), linkType)
	}

	link, err := plugin.StartConfiguration(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start link configuration %s: %w", cfg.ConfigName, err)
	}
	if link.Plugin == nil {
		link.Plugin = plugin
	}
	r.links[cfg.ConfigName] = link

	r.logger.InfowCtx(ctx, "Link configuration started",
		"config_name", cfg.ConfigName,
		"plugin", plugin.Name(),
	)
	return link, nil
}

func (r *Registry) configurePull(active *ActiveLinkPartner) error {
	puller, ok := active.Link.Plugin.Puller(active)
	if !ok {
		r.logger.Warnw("Pull mode configured but plugin offers no puller",
			"link_partner", active.Name(),
			"plugin", active.Link.Plugin.Name(),
		)
		return nil
	}
	if r.scheduler == nil || r.receiver == nil {
		return errors.ErrServiceUnavailable.WithMessage("pull mode of link partner %s needs a scheduler and a receiver", active.Name())
	}
	return r.scheduler.Schedule(active, puller, r.receiver)
}

// ShutdownLinkPartner disables an active partner. Its configuration stays
// started.
func (r *Registry) ShutdownLinkPartner(ctx context.Context, name string) error {
	ctx = logging.WithLinkPartner(ctx, name)

	r.mu.Lock()
	defer r.mu.Unlock()

	active, ok := r.partners[name]
	if !ok {
		return errors.ErrLinkPartnerNotActive.WithMessage("no active link partner with name %s", name)
	}
	err := r.shutdownPartner(ctx, active)
	r.publishCounts()

	if err != nil {
		r.logger.ErrorwCtx(ctx, "Link partner shut down with error",
			"config_name", active.Link.Config.ConfigName,
			"error", err,
		)
		return err
	}
	r.logger.InfowCtx(ctx, "Link partner shut down", "config_name", active.Link.Config.ConfigName)
	return nil
}

func (r *Registry) shutdownPartner(ctx context.Context, active *ActiveLinkPartner) error {
	name := active.Name()
	if r.scheduler != nil {
		r.scheduler.Unschedule(name)
	}
	delete(r.partners, name)
	delete(r.submitters, name)

	err := active.Link.Plugin.ShutdownLinkPartner(ctx, active)
	active.stop()
	if err != nil {
		return fmt.Errorf("failed to shut down link partner %s: %w", name, err)
	}
	return nil
}

func (r *Registry) activeGateway() string {
	for name, p := range r.partners {
		if p.LinkType() == models.LinkTypeGateway {
			return name
		}
	}
	return ""
}

// GatewayPartner returns the active gateway partner or, if none is active,
// the only known one. It returns "" when no single gateway can be named.
func (r *Registry) GatewayPartner() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if gw := r.activeGateway(); gw != "" {
		return gw
	}
	name := ""
	for n, t := range r.known {
		if t != models.LinkTypeGateway {
			continue
		}
		if name != "" {
			return ""
		}
		name = n
	}
	return name
}

func (r *Registry) ActiveLinkPartner(name string) (*ActiveLinkPartner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.partners[name]
	return p, ok
}

// Submitter returns the submitter of an active partner. Unknown partners
// fail with L104, known but inactive ones with L101.
func (r *Registry) Submitter(name string) (Submitter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.submitters[name]; ok {
		return s, nil
	}
	if _, ok := r.known[name]; ok {
		return nil, errors.ErrLinkPartnerNotActive.WithMessage("link partner %s is not active", name)
	}
	return nil, errors.ErrLinkPartnerNotFound.WithMessage("link partner %s not found", name)
}

// ActivePartners returns the active partners sorted by name.
func (r *Registry) ActivePartners() []*ActiveLinkPartner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ActiveLinkPartner, 0, len(r.partners))
	for _, p := range r.partners {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Shutdown disables every partner and then every link configuration.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, active := range r.partners {
		if err := r.shutdownPartner(ctx, active); err != nil {
			errs = append(errs, err)
		}
	}

	for name, link := range r.links {
		r.logger.InfowCtx(ctx, "Shutting down link configuration", "config_name", name)
		if err := link.Plugin.ShutdownConfiguration(ctx, link); err != nil {
			r.logger.ErrorwCtx(ctx, "Failed to shut down link configuration",
				"config_name", name,
				"error", err,
			)
			errs = append(errs, err)
		}
		link.stop()
		delete(r.links, name)
	}

	r.publishCounts()
	return stderrors.Join(errs...)
}

func (r *Registry) publishCounts() {
	counts := map[models.LinkType]int{models.LinkTypeGateway: 0, models.LinkTypeBackend: 0}
	for _, p := range r.partners {
		counts[p.LinkType()]++
	}
	for t, n := range counts {
		metrics.SetLinkPartnersActive(string(t), n)
	}
}
