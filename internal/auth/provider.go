package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"github.com/tokengate/tokengate/internal/auth/jwks"
	"github.com/tokengate/tokengate/internal/circuitbreaker"
	"github.com/tokengate/tokengate/internal/ratelimit"
)

// Provider validates tokens for one identity source.
type Provider interface {
	// Name returns the provider's registry name.
	Name() string

	// ValidateToken verifies a token and returns its claims.
	ValidateToken(ctx context.Context, token string) (*Claims, error)

	// RefreshKeys forces a key set refresh.
	RefreshKeys(ctx context.Context) error

	// HealthCheck returns a point-in-time readiness snapshot.
	HealthCheck() Health
}

// JWTProvider validates JWTs against a cached key set. Key fetches and
// validations share one circuit breaker: infrastructure faults trip it,
// token-content failures never do.
type JWTProvider struct {
	name      string
	issuer    string
	audience  []string
	clockSkew time.Duration

	keys    *jwks.Cache
	limiter ratelimit.Limiter
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *Metrics

	fetcher    jwks.Fetcher
	httpClient *http.Client
}

// ProviderOption is a functional option for the provider.
type ProviderOption func(*JWTProvider)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ProviderOption {
	return func(p *JWTProvider) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics instance.
func WithMetrics(metrics *Metrics) ProviderOption {
	return func(p *JWTProvider) {
		p.metrics = metrics
	}
}

// WithFetcher overrides the key set source. Without it the provider
// fetches from the configured JWKS endpoint.
func WithFetcher(fetcher jwks.Fetcher) ProviderOption {
	return func(p *JWTProvider) {
		p.fetcher = fetcher
	}
}

// WithHTTPClient sets the HTTP client used for key set fetches.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *JWTProvider) {
		p.httpClient = client
	}
}

// NewProvider creates a JWT provider from its configuration.
func NewProvider(cfg *Config, opts ...ProviderOption) (*JWTProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	p := &JWTProvider{
		name:      cfg.Name,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		clockSkew: cfg.ClockSkew,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.metrics == nil {
		p.metrics = GetSharedMetrics()
	}

	if p.fetcher == nil {
		if cfg.JWKSEndpoint == "" {
			return nil, fmt.Errorf("provider %q: jwksEndpoint is required", cfg.Name)
		}
		p.fetcher = jwks.NewHTTPFetcher(cfg.JWKSEndpoint, p.httpClient)
	}

	p.breaker = circuitbreaker.New(cfg.Name, cfg.CircuitBreaker, p.logger)
	p.limiter = ratelimit.NewFixedWindowLimiter(
		cfg.Name+":jwks",
		&ratelimit.Config{Limit: cfg.RefreshLimit, Window: cfg.RefreshWindow},
		ratelimit.WithLogger(p.logger),
	)

	name := cfg.Name
	p.keys = jwks.NewCache(cfg.Name, p.fetcher, cfg.KeySetTTL,
		jwks.WithRefreshLimiter(p.limiter),
		jwks.WithLogger(p.logger),
		jwks.WithRefreshObserver(func(status string, duration time.Duration) {
			p.metrics.RecordRefresh(name, status, duration)
		}),
	)

	return p, nil
}

// Name returns the provider's registry name.
func (p *JWTProvider) Name() string {
	return p.name
}

// ValidateToken verifies a token. A circuit-open breaker fails fast
// before any key lookup; obtaining usable keys settles the admitted
// call as an upstream success, and the token verdict below that never
// counts against the breaker.
func (p *JWTProvider) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	start := time.Now()

	if token == "" {
		p.metrics.RecordValidation(p.name, "empty_token", time.Since(start))
		return nil, newAuthError(p.name, fmt.Errorf("%w: %w", ErrValidationFailed, ErrEmptyToken))
	}

	if !p.breaker.Allow() {
		p.metrics.RecordValidation(p.name, "circuit_open", time.Since(start))
		return nil, newAuthError(p.name, circuitbreaker.ErrCircuitOpen)
	}

	set, err := p.keys.Keys(ctx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			// Abandoned call.
			p.breaker.Abandon()
		case errors.Is(err, ratelimit.ErrRateLimited):
			// Refresh-limiter denial: no fetch was attempted, so there
			// is no upstream outcome to record.
			p.breaker.Abandon()
		default:
			p.breaker.RecordFailure()
		}
		p.metrics.RecordValidation(p.name, "provider_error", time.Since(start))
		return nil, newAuthError(p.name, fmt.Errorf("%w: %w", ErrProviderError, err))
	}

	p.breaker.RecordSuccess()

	tok, err := p.verify(token, set)
	if err != nil {
		p.metrics.RecordValidation(p.name, "validation_failed", time.Since(start))
		p.logger.Debug("token rejected",
			zap.String("provider", p.name),
			zap.Error(err),
		)
		return nil, newAuthError(p.name, fmt.Errorf("%w: %w", ErrValidationFailed, err))
	}

	p.metrics.RecordValidation(p.name, "success", time.Since(start))
	return claimsFromToken(tok), nil
}

// verify parses the token against the key set and checks issuer,
// audience and time claims.
func (p *JWTProvider) verify(token string, set jwk.Set) (jwt.Token, error) {
	opts := []jwt.ParseOption{
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(p.clockSkew),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	tok, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, err
	}

	if len(p.audience) > 0 && !audienceMatch(tok.Audience(), p.audience) {
		return nil, fmt.Errorf("token audience does not match")
	}

	return tok, nil
}

func audienceMatch(got, want []string) bool {
	for _, g := range got {
		for _, w := range want {
			if g == w {
				return true
			}
		}
	}
	return false
}

// RefreshKeys forces a key set refresh, still subject to the refresh
// rate limiter and the circuit breaker. The fetch outcome is recorded
// on the breaker.
func (p *JWTProvider) RefreshKeys(ctx context.Context) error {
	res, err := p.limiter.Allow(ctx, ratelimit.GlobalKey)
	if err != nil {
		return newAuthError(p.name, fmt.Errorf("%w: %w", ErrProviderError, err))
	}
	if !res.Allowed {
		return newAuthError(p.name, ratelimit.ErrRateLimited)
	}

	if !p.breaker.Allow() {
		return newAuthError(p.name, circuitbreaker.ErrCircuitOpen)
	}

	if err := p.keys.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			p.breaker.Abandon()
		} else {
			p.breaker.RecordFailure()
		}
		return newAuthError(p.name, fmt.Errorf("%w: %w", ErrProviderError, err))
	}

	p.breaker.RecordSuccess()
	return nil
}

// HealthCheck returns the provider's readiness snapshot and updates the
// readiness gauges.
func (p *JWTProvider) HealthCheck() Health {
	state := p.breaker.State()
	valid := p.keys.Valid()

	h := Health{
		Ready:        state != circuitbreaker.StateOpen && valid,
		CircuitState: state.String(),
		JWKSValid:    valid,
		LastRefresh:  p.keys.LastRefresh(),
		Error:        healthError(p.keys.LastError()),
	}

	p.metrics.SetKeySetValid(p.name, valid)
	p.metrics.SetProviderReady(p.name, h.Ready)
	return h
}

// KeySet exposes the underlying cache for background refresh wiring.
func (p *JWTProvider) KeySet() *jwks.Cache {
	return p.keys
}

var _ Provider = (*JWTProvider)(nil)
