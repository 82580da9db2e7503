package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"gracebot/internal/domain"
)

// fakeClient records which profile each call used and returns a canned
// response or error.
type fakeClient struct {
	used []string
	resp *domain.LLMResponse
	err  error
}

func (f *fakeClient) Complete(_ context.Context, profile domain.AuthProfile, _ CompletionRequest) (*domain.LLMResponse, error) {
	f.used = append(f.used, profile.Name)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &domain.LLMResponse{Text: "ok", StopReason: domain.StopEndTurn}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testProfiles() []domain.AuthProfile {
	return []domain.AuthProfile{
		{Name: "kimi-a", Provider: domain.ProviderKimi, APIKey: "ka"},
		{Name: "kimi-b", Provider: domain.ProviderKimi, APIKey: "kb"},
		{Name: "claude-a", Provider: domain.ProviderAnthropic, APIKey: "ca"},
	}
}

func newTestRouter(t *testing.T, profiles []domain.AuthProfile) (*Router, *fakeClient) {
	t.Helper()
	fake := &fakeClient{}
	clients := map[domain.Provider]ProviderClient{
		domain.ProviderKimi:      fake,
		domain.ProviderAnthropic: fake,
		domain.ProviderOpenAI:    fake,
	}
	r := NewRouter("kimi-k2.5", []string{"claude-sonnet-4"}, profiles, clients, discardLogger())
	return r, fake
}

func TestRouterSelectsMatchingProvider(t *testing.T) {
	r, fake := newTestRouter(t, testProfiles())

	if _, err := r.Call(context.Background(), nil, domain.CallOptions{Model: "claude-sonnet-4"}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(fake.used) != 1 || fake.used[0] != "claude-a" {
		t.Errorf("used = %v, want [claude-a]", fake.used)
	}
}

func TestRouterDefaultsToCurrentModel(t *testing.T) {
	r, fake := newTestRouter(t, testProfiles())

	if got := r.CurrentModel(); got != "kimi-k2.5" {
		t.Fatalf("CurrentModel() = %q, want kimi-k2.5", got)
	}
	if _, err := r.Call(context.Background(), nil, domain.CallOptions{}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if fake.used[0] != "kimi-a" {
		t.Errorf("used = %v, want kimi-a first", fake.used)
	}
}

func TestRouterRateLimitRotatesToNextKey(t *testing.T) {
	r, fake := newTestRouter(t, testProfiles())

	// First call lands on kimi-a.
	if _, err := r.Call(context.Background(), nil, domain.CallOptions{Model: "kimi-k2.5"}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	r.MarkCurrentKeyFailed()

	// Cooldown must push the next call onto the second kimi key.
	if _, err := r.Call(context.Background(), nil, domain.CallOptions{Model: "kimi-k2.5"}); err != nil {
		t.Fatalf("Call() after cooldown error = %v", err)
	}
	if fake.used[1] != "kimi-b" {
		t.Errorf("second call used %q, want kimi-b", fake.used[1])
	}
}

func TestRouterCooldownExpires(t *testing.T) {
	r, fake := newTestRouter(t, []domain.AuthProfile{
		{Name: "kimi-a", Provider: domain.ProviderKimi, APIKey: "ka"},
	})
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	r.MarkCurrentKeyFailed()

	if _, err := r.Call(context.Background(), nil, domain.CallOptions{Model: "kimi-k2.5"}); !errors.Is(err, domain.ErrNoHealthyProfile) {
		t.Fatalf("Call() during cooldown error = %v, want ErrNoHealthyProfile", err)
	}

	// Just inside the window the profile stays out of rotation.
	clock = clock.Add(profileCooldown - time.Second)
	if _, err := r.Call(context.Background(), nil, domain.CallOptions{Model: "kimi-k2.5"}); !errors.Is(err, domain.ErrNoHealthyProfile) {
		t.Fatalf("Call() at 59s error = %v, want ErrNoHealthyProfile", err)
	}

	clock = clock.Add(2 * time.Second)
	if _, err := r.Call(context.Background(), nil, domain.CallOptions{Model: "kimi-k2.5"}); err != nil {
		t.Fatalf("Call() after cooldown expiry error = %v", err)
	}
	if len(fake.used) != 1 || fake.used[0] != "kimi-a" {
		t.Errorf("used = %v, want [kimi-a]", fake.used)
	}
}

func TestRouterDegradedMatchUsesAnyHealthyProfile(t *testing.T) {
	r, fake := newTestRouter(t, testProfiles())
	clock := time.Now()
	r.now = func() time.Time { return clock }

	// Cool down both kimi keys.
	r.MarkCurrentKeyFailed() // kimi-a
	r.MarkCurrentKeyFailed() // kimi-b

	if _, err := r.Call(context.Background(), nil, domain.CallOptions{Model: "kimi-k2.5"}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if fake.used[0] != "claude-a" {
		t.Errorf("used = %v, want degraded match on claude-a", fake.used)
	}
}

func TestRouterNoHealthyProfile(t *testing.T) {
	r, _ := newTestRouter(t, []domain.AuthProfile{
		{Name: "kimi-a", Provider: domain.ProviderKimi, APIKey: "ka"},
		{Name: "claude-a", Provider: domain.ProviderAnthropic, APIKey: "ca"},
	})
	clock := time.Now()
	r.now = func() time.Time { return clock }

	r.MarkCurrentKeyFailed()
	r.MarkCurrentKeyFailed()

	_, err := r.Call(context.Background(), nil, domain.CallOptions{Model: "kimi-k2.5"})
	if !errors.Is(err, domain.ErrNoHealthyProfile) {
		t.Fatalf("Call() error = %v, want ErrNoHealthyProfile", err)
	}
	if code := domain.ErrorCodeOf(err); code != domain.CodeNoHealthyProfile {
		t.Errorf("ErrorCodeOf() = %v, want %v", code, domain.CodeNoHealthyProfile)
	}
}

func TestRouterFailoverWalksFallbacksThenSaturates(t *testing.T) {
	r, _ := newTestRouter(t, testProfiles())

	r.Failover()
	if got := r.CurrentModel(); got != "claude-sonnet-4" {
		t.Fatalf("after one failover CurrentModel() = %q, want claude-sonnet-4", got)
	}

	// Past the end of the fallback list the offset saturates at primary.
	r.Failover()
	if got := r.CurrentModel(); got != "kimi-k2.5" {
		t.Errorf("after exhausting fallbacks CurrentModel() = %q, want kimi-k2.5", got)
	}
	r.Failover()
	if got := r.CurrentModel(); got != "kimi-k2.5" {
		t.Errorf("further failover CurrentModel() = %q, want kimi-k2.5", got)
	}
}

func TestRouterRoundRobinAcrossSameProviderKeys(t *testing.T) {
	r, fake := newTestRouter(t, testProfiles())

	// Selection parks the pointer on the chosen profile, so consecutive
	// calls stay on the same key until a failure advances the pointer.
	for i := 0; i < 2; i++ {
		if _, err := r.Call(context.Background(), nil, domain.CallOptions{Model: "kimi-k2.5"}); err != nil {
			t.Fatalf("Call() #%d error = %v", i, err)
		}
	}
	if fake.used[0] != "kimi-a" || fake.used[1] != "kimi-a" {
		t.Errorf("used = %v, want sticky kimi-a", fake.used)
	}

	r.MarkCurrentKeyFailed()
	if _, err := r.Call(context.Background(), nil, domain.CallOptions{Model: "kimi-k2.5"}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if fake.used[2] != "kimi-b" {
		t.Errorf("after failure used = %v, want kimi-b", fake.used[2])
	}
}

func TestRouterUnknownModelPrefixUsesAnyProfile(t *testing.T) {
	r, fake := newTestRouter(t, testProfiles())

	if _, err := r.Call(context.Background(), nil, domain.CallOptions{Model: "mystery-model"}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(fake.used) != 1 {
		t.Fatalf("used = %v, want one call", fake.used)
	}
}
