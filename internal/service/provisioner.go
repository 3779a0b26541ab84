package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/aryan0dhankhar/sitefactory/internal/blueprint"
	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/observability/metrics"
	"github.com/aryan0dhankhar/sitefactory/internal/observability/tracing"
	"github.com/aryan0dhankhar/sitefactory/internal/security/abuse"
	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
	"github.com/aryan0dhankhar/sitefactory/internal/security/auth"
	"github.com/aryan0dhankhar/sitefactory/internal/security/blocklist"
	"github.com/aryan0dhankhar/sitefactory/internal/security/ratelimit"
	"github.com/aryan0dhankhar/sitefactory/pkg/requestctx"
	"github.com/aryan0dhankhar/sitefactory/pkg/slug"
)

// Deps are the collaborators of the provisioning pipeline
type Deps struct {
	Guard      *auth.Guard
	Blocklist  *blocklist.Service
	Detector   *abuse.Detector
	Limiter    *ratelimit.Limiter
	Tenants    domain.TenantRepository
	Platform   domain.SitePlatform
	Blueprints *blueprint.Engine
	Users      *UserDirectory
	Notifier   *Notifier
	Audit      *audit.Logger
	Logger     *slog.Logger
}

// Settings tune the provisioning pipeline
type Settings struct {
	NetworkURL      string
	SlugMaxAttempts int
	PlatformTimeout time.Duration
	MaxConcurrent   int
	// LoopbackBypass skips the abuse heuristics for loopback clients.
	LoopbackBypass  bool
}

// Result is returned for a provisioned site
type Result struct {
	SiteID           int64
	Slug             string
	SiteURL          string
	AdminURL         string
	Message          string
	Username         string
	AccountCreated   bool
	FallbackContent  bool
	NotificationSent bool
}

// Provisioner runs the create-site pipeline. Each request is processed
// sequentially; concurrent requests are bounded by a semaphore.
type Provisioner struct {
	Deps
	settings Settings
	sem      *semaphore.Weighted
}

func NewProvisioner(deps Deps, settings Settings) *Provisioner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if settings.SlugMaxAttempts < 1 {
		settings.SlugMaxAttempts = 1000
	}
	if settings.PlatformTimeout <= 0 {
		settings.PlatformTimeout = 20 * time.Second
	}
	if settings.MaxConcurrent < 1 {
		settings.MaxConcurrent = 8
	}
	return &Provisioner{
		Deps:     deps,
		settings: settings,
		sem:      semaphore.NewWeighted(int64(settings.MaxConcurrent)),
	}
}

// SiteURL is the public address of the site at slug
func (p *Provisioner) SiteURL(s string) string {
	return p.settings.NetworkURL + "/" + s + "/"
}

// CreateSite authorises, screens and provisions one site. Failures are
// returned as *ProvisionError after exactly one audit record was written.
func (p *Provisioner) CreateSite(ctx context.Context, token string, in CreateSiteInput) (*Result, error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "provision.create_site")
	defer span.End()

	res, err := p.run(ctx, span, token, in)
	if err != nil {
		var perr *ProvisionError
		if errors.As(err, &perr) {
			span.SetAttributes(
				attribute.String("provision.failure_kind", string(perr.Kind)),
				attribute.String("provision.state", string(perr.State)),
			)
			metrics.ObserveProvision(string(perr.Kind), time.Since(start))
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("provision.state", string(StateCompleted)))
	metrics.ObserveProvision("success", time.Since(start))
	return res, nil
}

func (p *Provisioner) run(ctx context.Context, span trace.Span, token string, in CreateSiteInput) (*Result, error) {
	clientIP := requestctx.ClientIP(ctx)

	if err := p.authorize(ctx, token); err != nil {
		return nil, err
	}
	span.AddEvent(string(StateAuthorized))

	if err := p.screen(ctx, clientIP, requestctx.UserAgent(ctx)); err != nil {
		return nil, err
	}

	decision, err := p.Limiter.CheckAndConsume(ctx, clientIP)
	if err != nil {
		return nil, p.fail(ctx, KindInternal, StateAuthorized, "quota_store_unavailable", err, in.Payload())
	}
	if !decision.Allowed {
		return nil, &ProvisionError{
			Kind:       KindQuota,
			State:      StateAuthorized,
			Reason:     "rate_limited",
			RetryAfter: decision.RetryAfter,
			Err:        fmt.Errorf("%d requests in window", decision.Count),
		}
	}
	span.AddEvent(string(StateQuotaChecked))

	req, base, err := Validate(in)
	if err != nil {
		var perr *ProvisionError
		errors.As(err, &perr)
		metrics.ObserveRejection("validation")
		p.Audit.LogCreationFailed(ctx, perr.Reason, map[string]any{
			"kind":    string(KindValidation),
			"payload": in.Payload(),
		})
		return nil, err
	}
	p.Audit.LogAttempt(ctx, base, req.AdminEmail, req.BlueprintID)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, p.fail(ctx, KindInternal, StateQuotaChecked, "cancelled_before_start", err, in.Payload())
	}
	defer p.sem.Release(1)
	metrics.IncrementInflight()
	defer metrics.DecrementInflight()

	// Past this point the pipeline runs to completion even if the caller
	// goes away, since nothing is rolled back.
	ctx = context.WithoutCancel(ctx)
	return p.provision(ctx, span, req, base, in.Payload())
}

func (p *Provisioner) authorize(ctx context.Context, token string) error {
	err := p.Guard.Authorize(ctx, token)
	if err == nil {
		return nil
	}
	metrics.ObserveRejection("auth")
	kind := KindAuth
	if errors.Is(err, auth.ErrNotConfigured) {
		kind = KindConfig
		p.Logger.Error("create-site rejected: shared token not configured")
	}
	return &ProvisionError{Kind: kind, State: StateReceived, Reason: auth.Reason(err), Err: err}
}

// RejectPayload ends a request whose body could not be decoded. The token is
// still checked first, so the caller sees the auth failure when there is one;
// otherwise a validation failure with reason is recorded and returned.
func (p *Provisioner) RejectPayload(ctx context.Context, token, reason string, cause error) error {
	ctx, span := tracing.Start(ctx, "provision.reject_payload")
	defer span.End()

	if err := p.authorize(ctx, token); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	metrics.ObserveRejection("validation")
	details := map[string]any{"kind": string(KindValidation)}
	if cause != nil {
		details["error"] = cause.Error()
	}
	p.Audit.LogCreationFailed(ctx, reason, details)
	span.SetStatus(codes.Error, reason)
	return &ProvisionError{Kind: KindValidation, State: StateAuthorized, Reason: reason, Err: cause}
}

// screen applies the blocklist and the abuse heuristics
func (p *Provisioner) screen(ctx context.Context, clientIP, userAgent string) error {
	blocked, err := p.Blocklist.IsBlocked(ctx, clientIP)
	if err != nil {
		return p.fail(ctx, KindInternal, StateAuthorized, "blocklist_unavailable", err, nil)
	}
	if blocked {
		metrics.ObserveRejection("blocklist")
		p.Audit.LogBlockedRequest(ctx, clientIP)
		return &ProvisionError{Kind: KindAbuse, State: StateAuthorized, Reason: "ip_blocked"}
	}

	if p.settings.LoopbackBypass && ratelimit.IsLoopback(clientIP) {
		return nil
	}
	verdict, err := p.Detector.Observe(ctx, clientIP, userAgent)
	if err != nil {
		return p.fail(ctx, KindInternal, StateAuthorized, "abuse_store_unavailable", err, nil)
	}
	if !verdict.Suspicious {
		return nil
	}

	metrics.ObserveRejection("abuse_" + verdict.Rule)
	p.Logger.Warn("suspicious client blocked",
		slog.String("client_ip", clientIP),
		slog.String("rule", verdict.Rule),
		slog.String("detail", verdict.Detail),
	)
	reason := "suspicious_" + verdict.Rule
	err = p.Blocklist.Block(ctx, clientIP, blocklist.ReasonSuspicious)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyBlocked):
		p.Audit.LogIPBlocked(ctx, clientIP, blocklist.ReasonSuspicious)
	default:
		p.Logger.Error("failed to block suspicious client",
			slog.String("client_ip", clientIP),
			slog.String("error", err.Error()),
		)
		p.Audit.LogCreationFailed(ctx, reason, map[string]any{
			"kind":  string(KindAbuse),
			"error": err.Error(),
		})
	}
	return &ProvisionError{Kind: KindAbuse, State: StateAuthorized, Reason: reason}
}

func (p *Provisioner) provision(ctx context.Context, span trace.Span, req domain.ProvisioningRequest, base string, payload map[string]any) (*Result, error) {
	tenant, attempts, err := p.createTenant(ctx, req, base)
	if err != nil {
		return nil, p.failProvision(ctx, err, payload)
	}
	span.SetAttributes(attribute.Int64("site.id", tenant.SiteID), attribute.String("site.slug", tenant.Slug))
	span.AddEvent(string(StateTenantCreated))
	metrics.ObserveStage(string(StateTenantCreated), "ok")

	log := p.Logger.With(slog.Int64("site_id", tenant.SiteID), slog.String("slug", tenant.Slug))
	details := map[string]any{"slug_attempts": attempts}

	tree, contentErr := p.bootstrapContent(ctx, log, tenant, req)
	details["fallback_content"] = tree.Fallback
	if contentErr != nil {
		details["content_error"] = contentErr.Error()
		metrics.ObserveStage(string(StateContentBootstrapped), "failed")
	} else {
		p.setStatus(ctx, log, tenant.Slug, domain.TenantContentBootstrapped, "")
		metrics.ObserveStage(string(StateContentBootstrapped), "ok")
		span.AddEvent(string(StateContentBootstrapped))
	}

	account, err := p.bindAdmin(ctx, tenant, req.AdminEmail)
	if err != nil {
		p.setStatus(ctx, log, tenant.Slug, domain.TenantFailed, string(KindAdminBinding))
		metrics.ObserveStage(string(StateAdminBound), "failed")
		return nil, p.fail(ctx, KindAdminBinding, StateContentBootstrapped, "admin_binding_failed", err, withSite(payload, tenant))
	}
	defer account.Credential.Erase()
	p.setStatus(ctx, log, tenant.Slug, domain.TenantAdminBound, "")
	metrics.ObserveStage(string(StateAdminBound), "ok")
	span.AddEvent(string(StateAdminBound))

	res := &Result{
		SiteID:          tenant.SiteID,
		Slug:            tenant.Slug,
		SiteURL:         p.SiteURL(tenant.Slug),
		Message:         "Site created successfully",
		Username:        account.Username,
		AccountCreated:  account.Credential != nil,
		FallbackContent: tree.Fallback,
	}
	res.AdminURL = res.SiteURL + "wp-admin/"

	err = p.Notifier.SendWelcome(ctx, Welcome{
		SiteName: tree.SiteTitle,
		SiteURL:  res.SiteURL,
		AdminURL: res.AdminURL,
		Account:  account,
	})
	if err != nil {
		log.Warn("welcome notification failed", slog.String("error", err.Error()))
		details["notification_error"] = err.Error()
		metrics.ObserveStage(string(StateNotificationSent), "failed")
	} else {
		res.NotificationSent = true
		metrics.ObserveStage(string(StateNotificationSent), "ok")
		span.AddEvent(string(StateNotificationSent))
	}

	p.setStatus(ctx, log, tenant.Slug, domain.TenantCompleted, "")
	details["account_id"] = account.ID
	details["username"] = account.Username
	details["account_created"] = res.AccountCreated
	details["notification_sent"] = res.NotificationSent
	details["business_meta"] = req.BusinessMeta()
	p.Audit.LogSiteCreated(ctx, tenant.SiteID, tenant.Slug, req.AdminEmail, req.BlueprintID, details)
	log.Info("site provisioned",
		slog.String("blueprint", req.BlueprintID),
		slog.Bool("fallback_content", tree.Fallback),
		slog.Bool("account_created", res.AccountCreated),
	)
	return res, nil
}

type tenantError struct {
	kind   Kind
	state  State
	reason string
	err    error
}

func (e *tenantError) Error() string { return e.reason + ": " + e.err.Error() }

// createTenant reserves the first free slug derived from base and creates
// the site on the platform. A slug the platform already knows is marked
// conflict and the next suffix is tried.
func (p *Provisioner) createTenant(ctx context.Context, req domain.ProvisioningRequest, base string) (*domain.Tenant, int, error) {
	meta := req.BusinessMeta()
	for n := 0; n < p.settings.SlugMaxAttempts; n++ {
		candidate := slug.WithSuffix(base, n)
		tenant := &domain.Tenant{
			Slug:        candidate,
			Title:       req.BusinessName,
			Status:      domain.TenantPending,
			OwnerUserID: domain.NetworkAdminID,
			BlueprintID: req.BlueprintID,
			Meta:        meta,
		}
		err := p.Tenants.Reserve(ctx, tenant)
		if errors.Is(err, domain.ErrSlugTaken) {
			continue
		}
		if err != nil {
			return nil, n + 1, &tenantError{KindInternal, StateQuotaChecked, "tenant_registry_unavailable", err}
		}

		siteID, err := p.createSite(ctx, domain.SiteSpec{
			Slug:        candidate,
			Title:       req.BusinessName,
			OwnerUserID: domain.NetworkAdminID,
			BlueprintID: req.BlueprintID,
			Meta:        meta,
		})
		if errors.Is(err, domain.ErrSlugTaken) {
			if serr := p.Tenants.SetStatus(ctx, candidate, domain.TenantConflict, "slug taken on platform"); serr != nil {
				p.Logger.Warn("failed to mark tenant conflict", slog.String("slug", candidate), slog.String("error", serr.Error()))
			}
			continue
		}
		if err != nil {
			p.releaseSlug(ctx, candidate)
			return nil, n + 1, &tenantError{KindPlatform, StateSlugResolved, "platform_error", err}
		}

		if err := p.Tenants.AttachSite(ctx, candidate, siteID); err != nil {
			return nil, n + 1, &tenantError{KindInternal, StateSlugResolved, "tenant_registry_unavailable", err}
		}
		tenant.SiteID = siteID
		tenant.Status = domain.TenantCreated
		return tenant, n + 1, nil
	}
	return nil, p.settings.SlugMaxAttempts, &tenantError{
		KindSlugExhausted, StateQuotaChecked, "slug_exhausted",
		fmt.Errorf("no free slug for %q after %d attempts", base, p.settings.SlugMaxAttempts),
	}
}

// releaseSlug frees a reservation whose site was never created, so the next
// request for the same business gets the base slug back. If the row cannot
// be dropped it is marked failed instead of being left pending.
func (p *Provisioner) releaseSlug(ctx context.Context, candidate string) {
	err := p.Tenants.Release(ctx, candidate)
	if err == nil {
		return
	}
	p.Logger.Warn("failed to release slug reservation", slog.String("slug", candidate), slog.String("error", err.Error()))
	if serr := p.Tenants.SetStatus(ctx, candidate, domain.TenantFailed, string(KindPlatform)); serr != nil {
		p.Logger.Warn("failed to mark tenant failed", slog.String("slug", candidate), slog.String("error", serr.Error()))
	}
}

func (p *Provisioner) createSite(ctx context.Context, spec domain.SiteSpec) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.settings.PlatformTimeout)
	defer cancel()
	return p.Platform.CreateSite(ctx, spec)
}

// bootstrapContent publishes the requested blueprint, falling back to the
// default pages when publishing fails. Errors here never fail the request.
func (p *Provisioner) bootstrapContent(ctx context.Context, log *slog.Logger, tenant *domain.Tenant, req domain.ProvisioningRequest) (domain.PageTree, error) {
	tree := p.Blueprints.Apply(req.BlueprintID, req.BusinessMeta())
	err := p.publish(ctx, tenant.SiteID, tree)
	if err == nil || tree.Fallback {
		if err != nil {
			log.Error("content bootstrap failed", slog.String("error", err.Error()))
		}
		return tree, err
	}

	log.Warn("blueprint publish failed, publishing fallback pages",
		slog.String("blueprint", req.BlueprintID),
		slog.String("error", err.Error()),
	)
	fallback := blueprint.Fallback(req.BlueprintID, req.BusinessMeta())
	if ferr := p.publish(ctx, tenant.SiteID, fallback); ferr != nil {
		log.Error("content bootstrap failed", slog.String("error", ferr.Error()))
		return fallback, ferr
	}
	return fallback, nil
}

func (p *Provisioner) publish(ctx context.Context, siteID int64, tree domain.PageTree) error {
	ctx, cancel := context.WithTimeout(ctx, p.settings.PlatformTimeout)
	defer cancel()
	_, err := blueprint.Publish(ctx, p.Platform, siteID, tree)
	return err
}

func (p *Provisioner) bindAdmin(ctx context.Context, tenant *domain.Tenant, email string) (*domain.AdminAccount, error) {
	account, err := p.Users.FindOrCreateAdmin(ctx, email)
	if err != nil {
		return nil, err
	}
	bindCtx, cancel := context.WithTimeout(ctx, p.settings.PlatformTimeout)
	defer cancel()
	if err := p.Users.Bind(bindCtx, account, tenant.SiteID); err != nil {
		account.Credential.Erase()
		return nil, err
	}
	if err := p.Tenants.SetOwner(ctx, tenant.Slug, account.ID); err != nil {
		account.Credential.Erase()
		return nil, fmt.Errorf("record owner: %w", err)
	}
	return account, nil
}

func (p *Provisioner) setStatus(ctx context.Context, log *slog.Logger, s string, status domain.TenantStatus, reason string) {
	if err := p.Tenants.SetStatus(ctx, s, status, reason); err != nil {
		log.Warn("failed to record tenant status",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Provisioner) failProvision(ctx context.Context, err error, payload map[string]any) error {
	var terr *tenantError
	if errors.As(err, &terr) {
		return p.fail(ctx, terr.kind, terr.state, terr.reason, terr.err, payload)
	}
	return p.fail(ctx, KindInternal, StateQuotaChecked, "internal", err, payload)
}

// fail writes the site_creation_failed record and builds the error
func (p *Provisioner) fail(ctx context.Context, kind Kind, state State, reason string, err error, payload map[string]any) error {
	details := map[string]any{"kind": string(kind), "state": string(state)}
	if err != nil {
		details["error"] = err.Error()
	}
	if payload != nil {
		details["payload"] = payload
	}
	p.Audit.LogCreationFailed(ctx, reason, details)
	p.Logger.Error("site creation failed",
		slog.String("kind", string(kind)),
		slog.String("state", string(state)),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
	return &ProvisionError{Kind: kind, State: state, Reason: reason, Err: err}
}

func withSite(payload map[string]any, t *domain.Tenant) map[string]any {
	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	out["site_id"] = t.SiteID
	out["slug"] = t.Slug
	return out
}

// SiteStatus returns the tenant registered for siteID
func (p *Provisioner) SiteStatus(ctx context.Context, siteID int64) (*domain.Tenant, error) {
	return p.Tenants.GetBySiteID(ctx, siteID)
}
