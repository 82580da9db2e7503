package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gracebot/internal/domain"
)

// HookHandler receives the hook payload and may intercept further dispatch.
// Returning an error never aborts emission; it is logged and the next
// handler runs.
type HookHandler func(ctx context.Context, payload any) (domain.HookResult, error)

// HookBus is the plugin extension point. Handlers run in registration order;
// the first one reporting Intercepted stops the chain.
type HookBus struct {
	mu     sync.RWMutex
	hooks  map[string][]HookHandler
	logger *slog.Logger
}

// NewHookBus creates an empty hook bus.
func NewHookBus(logger *slog.Logger) *HookBus {
	return &HookBus{
		hooks:  make(map[string][]HookHandler),
		logger: logger,
	}
}

// On registers a handler for the named hook.
func (b *HookBus) On(name string, handler HookHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[name] = append(b.hooks[name], handler)
}

// Emit implements domain.HookEmitter.
func (b *HookBus) Emit(ctx context.Context, name string, payload any) domain.HookResult {
	b.mu.RLock()
	handlers := b.hooks[name]
	b.mu.RUnlock()

	for _, handler := range handlers {
		result, err := b.safeCall(ctx, handler, payload)
		if err != nil {
			b.logger.Error("hook handler error", "hook", name, "error", err)
			continue
		}
		if result.Intercepted {
			b.logger.Info("hook intercepted", "hook", name)
			return result
		}
	}
	return domain.HookResult{}
}

// safeCall shields emission from panicking handlers.
func (b *HookBus) safeCall(ctx context.Context, handler HookHandler, payload any) (result domain.HookResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}

var _ domain.HookEmitter = (*HookBus)(nil)
