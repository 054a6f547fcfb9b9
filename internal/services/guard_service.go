package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/identity"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
)

// GuardConfig controls how the guard answers callers
type GuardConfig struct {
	// FailOpen allows attempts when the store cannot be read
	FailOpen         bool
	StoreTimeout     time.Duration
	PasswordField    string
	CoolOffMessage   string
	PermalockMessage string
}

// GuardService is the surface authentication pipelines call before and after
// verifying credentials. Store failures never reach the caller as errors on
// the check path.
type GuardService struct {
	lockout  *LockoutService
	resolver *identity.Resolver
	audit    *logger.AuditLogger
	config   GuardConfig
	logger   *slog.Logger
}

// NewGuardService creates a new GuardService
func NewGuardService(lockout *LockoutService, resolver *identity.Resolver, audit *logger.AuditLogger, config GuardConfig, logger *slog.Logger) *GuardService {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 2 * time.Second
	}
	return &GuardService{
		lockout:  lockout,
		resolver: resolver,
		audit:    audit,
		config:   config,
		logger:   logger,
	}
}

func (g *GuardService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.config.StoreTimeout)
}

// PreAuthenticate decides whether id may attempt to authenticate
func (g *GuardService) PreAuthenticate(ctx context.Context, id identity.Identity) models.Decision {
	key, err := g.resolver.Resolve(id)
	if err != nil {
		g.logger.Warn("cannot resolve client key, allowing attempt",
			slog.String("path", id.Path),
			slog.Any("error", err))
		return models.Allow()
	}

	sctx, cancel := g.storeContext(ctx)
	defer cancel()

	status, err := g.lockout.Status(sctx, key.Value)
	if err != nil {
		return g.unavailable(err)
	}

	if !status.State.Blocked() {
		return models.Allow()
	}

	g.audit.Log(ctx, logger.AuditEvent{
		EventType: logger.EventAttemptDenied,
		ClientKey: key.Value,
		Username:  key.Username,
		IPAddress: key.IPAddress,
		UserAgent: key.UserAgent,
		Path:      key.Path,
		Failures:  status.Counter.Count,
	})

	return g.denied(key, status.Counter.Count, status.RetryAfter)
}

func (g *GuardService) unavailable(err error) models.Decision {
	if g.config.FailOpen {
		// Fail open for availability
		g.logger.Error("lockout store unavailable, allowing attempt", slog.Any("error", err))
		return models.Allow()
	}

	g.logger.Error("lockout store unavailable, denying attempt", slog.Any("error", err))
	return models.Decision{
		Allowed: false,
		Reason:  models.ReasonStoreUnavailable,
		Message: "Authentication is temporarily unavailable. Please try again later.",
	}
}

func (g *GuardService) denied(key models.ClientKey, failures int, retryAfter *time.Duration) models.Decision {
	cfg := g.lockout.Config()

	d := models.Decision{
		Allowed:      false,
		Reason:       models.ReasonLockedOut,
		Message:      g.config.CoolOffMessage,
		RetryAfter:   retryAfter,
		FailureLimit: cfg.FailureLimit,
		Failures:     failures,
		Username:     key.Username,
	}

	if cfg.Policy.Permanent() {
		d.Reason = models.ReasonPermanentlyLockedOut
		d.Message = g.config.PermalockMessage
		d.RetryAfter = nil
	} else {
		d.CoolOffTime = ISO8601Duration(cfg.Policy.Duration)
	}

	return d
}

// RecordOutcome records the result of an authentication attempt. A failure
// that locks the key returns the denied decision. Store write errors are
// logged and the record is dropped.
func (g *GuardService) RecordOutcome(ctx context.Context, id identity.Identity, outcome models.Outcome) (models.Decision, error) {
	if !outcome.Valid() {
		return models.Allow(), fmt.Errorf("%w: unknown outcome %q", models.ErrBadRequest, outcome)
	}

	key, err := g.resolver.Resolve(id)
	if err != nil {
		g.logger.Warn("cannot resolve client key, attempt not recorded",
			slog.String("outcome", string(outcome)),
			slog.Any("error", err))
		return models.Allow(), nil
	}

	attempt := g.newAttempt(key, id)

	sctx, cancel := g.storeContext(ctx)
	defer cancel()

	if outcome == models.OutcomeSuccess {
		if _, err := g.lockout.RecordSuccess(sctx, attempt); err != nil {
			g.logger.Error("failed to record successful attempt", slog.Any("error", err))
			return models.Allow(), nil
		}
		g.audit.Log(ctx, g.event(logger.EventAttemptSucceeded, key, 0))
		return models.Allow(), nil
	}

	state, counter, err := g.lockout.RecordFailure(sctx, attempt)
	if err != nil {
		g.logger.Error("failed to record failed attempt", slog.Any("error", err))
		return models.Allow(), nil
	}

	g.audit.Log(ctx, g.event(logger.EventAttemptFailed, key, counter.Count))

	if g.lockout.Triggered(counter) {
		g.audit.Log(ctx, g.event(logger.EventLockoutTriggered, key, counter.Count))
	}

	if !state.Blocked() {
		return models.Allow(), nil
	}

	var retryAfter *time.Duration
	if counter.ExpiresAt != nil {
		retry := counter.ExpiresAt.Sub(g.lockout.Now())
		retryAfter = &retry
	}
	return g.denied(key, counter.Count, retryAfter), nil
}

// PostAuthenticate records the outcome and discards the decision
func (g *GuardService) PostAuthenticate(ctx context.Context, id identity.Identity, outcome models.Outcome) error {
	_, err := g.RecordOutcome(ctx, id, outcome)
	return err
}

func (g *GuardService) newAttempt(key models.ClientKey, id identity.Identity) *models.AccessAttempt {
	fields := make(map[string]string, len(id.Form)+len(id.Credentials))
	for k, v := range id.Form {
		fields[k] = v
	}
	for k, v := range id.Credentials {
		fields[k] = v
	}

	return &models.AccessAttempt{
		ClientKey:  key.Value,
		Username:   key.Username,
		IPAddress:  key.IPAddress,
		UserAgent:  key.UserAgent,
		HTTPAccept: identity.Clean(id.HTTPAccept, identity.MaxAcceptLength),
		PathInfo:   key.Path,
		Payload:    identity.SanitizePayload(fields, g.config.PasswordField, identity.MaxPayloadLength),
	}
}

func (g *GuardService) event(eventType string, key models.ClientKey, failures int) logger.AuditEvent {
	return logger.AuditEvent{
		EventType: eventType,
		ClientKey: key.Value,
		Username:  key.Username,
		IPAddress: key.IPAddress,
		UserAgent: key.UserAgent,
		Path:      key.Path,
		Failures:  failures,
	}
}

// Status reports the lockout state of id, for operators
func (g *GuardService) Status(ctx context.Context, id identity.Identity) (models.ClientKey, LockoutStatus, error) {
	key, err := g.resolver.Resolve(id)
	if err != nil {
		return key, LockoutStatus{}, err
	}

	sctx, cancel := g.storeContext(ctx)
	defer cancel()

	status, err := g.lockout.Status(sctx, key.Value)
	return key, status, err
}

// AdministrativeReset clears attempts matching filter and returns how many
// were removed. An empty filter clears everything.
func (g *GuardService) AdministrativeReset(ctx context.Context, filter models.ResetFilter) (int64, error) {
	// Match the cleaned parts Resolve stores
	filter.Username = strings.TrimSpace(identity.Clean(filter.Username, identity.MaxUsernameLength))
	filter.IPAddress = strings.TrimSpace(identity.Clean(filter.IPAddress, identity.MaxIPLength))

	sctx, cancel := g.storeContext(ctx)
	defer cancel()

	removed, err := g.lockout.ResetMatching(sctx, filter)
	if err != nil {
		return 0, err
	}

	g.audit.Log(ctx, logger.AuditEvent{
		EventType: logger.EventLockoutReset,
		Username:  filter.Username,
		IPAddress: filter.IPAddress,
		Removed:   removed,
	})
	return removed, nil
}

// ResetIPs clears attempts for each address
func (g *GuardService) ResetIPs(ctx context.Context, ips ...string) (int64, error) {
	return g.resetEach(ctx, ips, func(ip string) models.ResetFilter {
		return models.ResetFilter{IPAddress: ip}
	})
}

// ResetUsernames clears attempts for each username
func (g *GuardService) ResetUsernames(ctx context.Context, usernames ...string) (int64, error) {
	return g.resetEach(ctx, usernames, func(name string) models.ResetFilter {
		return models.ResetFilter{Username: name}
	})
}

func (g *GuardService) resetEach(ctx context.Context, values []string, filter func(string) models.ResetFilter) (int64, error) {
	var total int64
	var errs []error
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		removed, err := g.AdministrativeReset(ctx, filter(v))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += removed
	}
	return total, errors.Join(errs...)
}

// Ping checks the attempt store
func (g *GuardService) Ping(ctx context.Context) error {
	sctx, cancel := g.storeContext(ctx)
	defer cancel()
	return g.lockout.Ping(sctx)
}

// ISO8601Duration formats d as an ISO 8601 duration such as "PT30M" or "P1DT2H"
func ISO8601Duration(d time.Duration) string {
	if d <= 0 {
		return ""
	}

	secs := int64(d.Round(time.Second) / time.Second)
	days := secs / 86400
	secs %= 86400
	hours, minutes, seconds := secs/3600, (secs%3600)/60, secs%60

	var b strings.Builder
	b.WriteString("P")
	if days > 0 {
		b.WriteString(strconv.FormatInt(days, 10) + "D")
	}
	if hours > 0 || minutes > 0 || seconds > 0 {
		b.WriteString("T")
		for _, part := range []struct {
			value int64
			unit  string
		}{{hours, "H"}, {minutes, "M"}, {seconds, "S"}} {
			if part.value > 0 {
				b.WriteString(strconv.FormatInt(part.value, 10) + part.unit)
			}
		}
	}
	return b.String()
}
