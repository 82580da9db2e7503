package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gracebot/internal/domain"
)

// profileCooldown is how long a failed credential sits out of rotation.
const profileCooldown = 60 * time.Second

// Router selects a healthy credential for the desired model and performs
// the call through the matching provider client. It keeps three pieces of
// state: a rotation pointer over profiles (round-robin load spreading
// across credentials of the same provider), a cooldown map of recently
// failed profiles, and a model failover offset into the fallback list.
//
// All state is guarded by mu. Selection is an atomic scan-and-mutate under
// the lock; the HTTP call happens outside it.
type Router struct {
	mu       sync.Mutex
	profiles []domain.AuthProfile
	current  int                  // rotation pointer
	failed   map[string]time.Time // profile name -> cooldown expiry
	offset   int                  // 0 = primary, n indexes fallbacks[n-1]

	primary   string
	fallbacks []string

	clients map[domain.Provider]ProviderClient
	now     func() time.Time
	logger  *slog.Logger
}

// NewRouter creates a router over the given profiles and provider clients.
func NewRouter(primary string, fallbacks []string, profiles []domain.AuthProfile, clients map[domain.Provider]ProviderClient, logger *slog.Logger) *Router {
	return &Router{
		profiles:  profiles,
		failed:    make(map[string]time.Time),
		primary:   primary,
		fallbacks: fallbacks,
		clients:   clients,
		now:       time.Now,
		logger:    logger,
	}
}

// Call selects a healthy profile for the model (defaulting to the current
// model) and performs one completion. Returns ErrNoHealthyProfile when
// every candidate credential is in cooldown.
func (r *Router) Call(ctx context.Context, messages []domain.LLMMessage, opts domain.CallOptions) (*domain.LLMResponse, error) {
	model := opts.Model

	r.mu.Lock()
	if model == "" {
		model = r.currentModelLocked()
	}
	profile, ok := r.selectProfileLocked(model)
	r.mu.Unlock()

	if !ok {
		return nil, domain.NewDomainError("Router.Call", domain.ErrNoHealthyProfile, fmt.Sprintf("model %q", model))
	}

	client, ok := r.clients[profile.Provider]
	if !ok {
		return nil, fmt.Errorf("Router.Call: no client for provider %q", profile.Provider)
	}

	r.logger.Debug("calling model",
		"model", model,
		"profile", profile.Name,
		"provider", profile.Provider,
	)

	return client.Complete(ctx, profile, CompletionRequest{
		Model:    model,
		Messages: messages,
		Tools:    opts.Tools,
	})
}

// MarkCurrentKeyFailed puts the profile at the rotation pointer into
// cooldown and advances the pointer. Side effect only; it does not retry.
func (r *Router) MarkCurrentKeyFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.profiles) == 0 {
		return
	}
	p := r.profiles[r.current]
	r.failed[p.Name] = r.now().Add(profileCooldown)
	r.logger.Warn("profile in cooldown",
		"profile", p.Name,
		"cooldown", profileCooldown,
	)
	r.current = (r.current + 1) % len(r.profiles)
}

// Failover advances the model pointer to the next fallback. Once fallbacks
// are exhausted the offset formula saturates back at the primary, so
// further failovers are effectively no-ops rather than an infinite spin.
func (r *Router) Failover() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.offset++
	r.logger.Warn("failing over to next model", "model", r.currentModelLocked())
}

// CurrentModel returns the model the router would call right now.
func (r *Router) CurrentModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentModelLocked()
}

func (r *Router) currentModelLocked() string {
	if r.offset == 0 {
		return r.primary
	}
	if idx := r.offset - 1; idx < len(r.fallbacks) {
		return r.fallbacks[idx]
	}
	return r.primary
}

// selectProfileLocked scans from the rotation pointer for a healthy profile
// matching the model's provider, then degrades to any healthy profile.
// Expired cooldown entries are evicted lazily during the scan. Selection
// moves the rotation pointer so the next call starts where this one chose.
func (r *Router) selectProfileLocked(model string) (domain.AuthProfile, bool) {
	if len(r.profiles) == 0 {
		return domain.AuthProfile{}, false
	}
	now := r.now()
	want := domain.InferProvider(model)

	for i := 0; i < len(r.profiles); i++ {
		idx := (r.current + i) % len(r.profiles)
		p := r.profiles[idx]
		if want != "" && p.Provider != want {
			continue
		}
		if r.healthyLocked(p.Name, now) {
			r.current = idx
			return p, true
		}
	}

	// No healthy profile for the wanted provider; degrade to any healthy
	// profile rather than failing the call outright.
	if want != "" {
		for i := 0; i < len(r.profiles); i++ {
			idx := (r.current + i) % len(r.profiles)
			p := r.profiles[idx]
			if r.healthyLocked(p.Name, now) {
				r.logger.Warn("no profile matches provider, using first healthy",
					"model", model,
					"profile", p.Name,
					"provider", p.Provider,
				)
				r.current = idx
				return p, true
			}
		}
	}

	return domain.AuthProfile{}, false
}

func (r *Router) healthyLocked(name string, now time.Time) bool {
	until, ok := r.failed[name]
	if !ok {
		return true
	}
	if until.Before(now) {
		delete(r.failed, name)
		return true
	}
	return false
}

var _ domain.ModelRouter = (*Router)(nil)
