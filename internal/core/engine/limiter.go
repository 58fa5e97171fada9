package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/floodgate/floodgate/internal/core"
	"github.com/floodgate/floodgate/internal/core/flood"
	"github.com/floodgate/floodgate/internal/metrics"
)

// Limiter applies named flood policies on top of a flood backend.
type Limiter struct {
	Backend  flood.Backend
	Policies map[string]core.FloodPolicy
	Margin   float64
	// BackendName labels backend error metrics.
	BackendName string
}

// DefaultPolicies mirror the stock login, password reset and contact form limits.
var DefaultPolicies = map[string]core.FloodPolicy{
	"user.failed_login_ip":       {Threshold: 50, Window: time.Hour},
	"user.failed_login_user":     {Threshold: 5, Window: 6 * time.Hour},
	"user.password_request_ip":   {Threshold: 50, Window: time.Hour},
	"user.password_request_user": {Threshold: 5, Window: 6 * time.Hour},
	"contact":                    {Threshold: 5, Window: time.Hour},
}

// FallbackPolicy applies to events with no configured policy.
var FallbackPolicy = core.FloodPolicy{Threshold: 30, Window: time.Hour}

// NewLimiter builds a limiter with the default policies.
func NewLimiter(backend flood.Backend) (*Limiter, error) {
	if backend == nil {
		return nil, errors.New("engine: flood backend is required")
	}
	policies := make(map[string]core.FloodPolicy, len(DefaultPolicies))
	for event, policy := range DefaultPolicies {
		policies[event] = policy
	}
	return &Limiter{Backend: backend, Policies: policies}, nil
}

// Check reports whether identifier may perform event now. Nothing is recorded.
func (l *Limiter) Check(ctx context.Context, event string, identifier string) (core.FloodDecision, error) {
	policy := l.Policy(event)
	decision := core.FloodDecision{
		Event:         event,
		Identifier:    l.identifier(ctx, identifier),
		Threshold:     policy.Threshold,
		Window:        policy.Window,
		WindowSeconds: int64(policy.Window / time.Second),
	}

	allowed, err := l.Backend.IsAllowed(ctx, event, policy.Threshold, policy.Window, identifier)
	if err != nil {
		if !errors.Is(err, flood.ErrNoIdentifier) {
			metrics.RecordFloodBackendError(l.BackendName, "is_allowed")
		}
		return decision, err
	}

	decision.Allowed = allowed
	metrics.RecordFloodCheck(event, allowed)
	return decision, nil
}

// Record registers one occurrence of event using the policy window.
func (l *Limiter) Record(ctx context.Context, event string, identifier string) error {
	policy := l.Policy(event)
	if err := l.Backend.Register(ctx, event, policy.Window, identifier); err != nil {
		if !errors.Is(err, flood.ErrNoIdentifier) {
			metrics.RecordFloodBackendError(l.BackendName, "register")
		}
		return err
	}
	metrics.RecordFloodRegister(event)
	return nil
}

// Attempt checks event and records it when allowed, the way a form submit
// handler would.
func (l *Limiter) Attempt(ctx context.Context, event string, identifier string) (core.FloodDecision, error) {
	decision, err := l.Check(ctx, event, identifier)
	if err != nil || !decision.Allowed {
		return decision, err
	}
	return decision, l.Record(ctx, event, identifier)
}

// Reset clears recorded events of event for identifier.
func (l *Limiter) Reset(ctx context.Context, event string, identifier string) error {
	if err := l.Backend.Clear(ctx, event, identifier); err != nil {
		return err
	}
	metrics.RecordFloodClear(event, "identifier")
	return nil
}

// ResetPrefix clears events of event whose identifier starts with prefix.
func (l *Limiter) ResetPrefix(ctx context.Context, event string, prefix string) error {
	if err := l.Backend.ClearByPrefix(ctx, event, prefix); err != nil {
		return err
	}
	metrics.RecordFloodClear(event, "prefix")
	return nil
}

// ApplyOverrides replaces or adds policies. A zero window keeps the existing
// window for the event, else the default.
func (l *Limiter) ApplyOverrides(overrides map[string]core.FloodPolicy) {
	if l == nil || len(overrides) == 0 {
		return
	}

	if l.Policies == nil {
		l.Policies = make(map[string]core.FloodPolicy, len(DefaultPolicies))
		for key, policy := range DefaultPolicies {
			l.Policies[key] = policy
		}
	}

	for event, policy := range overrides {
		event = strings.TrimSpace(event)
		if event == "" {
			continue
		}
		if policy.Window <= 0 {
			if existing, ok := l.Policies[event]; ok {
				policy.Window = existing.Window
			} else {
				policy.Window = flood.DefaultWindow
			}
		}
		l.Policies[event] = policy
	}
}

// ApplySafetyMargin scales thresholds by a ratio in (0, 1].
func (l *Limiter) ApplySafetyMargin(margin float64) {
	if l == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}
	l.Margin = margin
}

// Policy returns the effective policy for event. Dotted events fall back to
// their parent ("contact.sitewide" uses "contact") before FallbackPolicy.
func (l *Limiter) Policy(event string) core.FloodPolicy {
	policies := l.Policies
	if policies == nil {
		policies = DefaultPolicies
	}

	for name := event; name != ""; {
		if policy, ok := policies[name]; ok {
			return l.applyMargin(policy)
		}
		idx := strings.LastIndex(name, ".")
		if idx < 0 {
			break
		}
		name = name[:idx]
	}

	return l.applyMargin(FallbackPolicy)
}

func (l *Limiter) identifier(ctx context.Context, identifier string) string {
	if identifier != "" {
		return identifier
	}
	return flood.ClientIP(ctx)
}

func (l *Limiter) applyMargin(policy core.FloodPolicy) core.FloodPolicy {
	if l.Margin <= 0 || l.Margin > 1 {
		return policy
	}
	if policy.Threshold <= 0 {
		return policy
	}
	adjusted := int(math.Floor(float64(policy.Threshold) * l.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	policy.Threshold = adjusted
	return policy
}
