// Package app wires the control plane's components — Store, Scheduler,
// Submission Engine, Verification Gateway, Payout Pipeline, Bounty
// Service, Admin Plane, outbox processors, cron sweeps, and the HTTP
// surface — into a single lifecycle-managed Application, the way the
// teacher's own entrypoint composes its services behind a system.Manager.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/proofwork/infrastructure/ratelimit"
	"github.com/R3E-Network/proofwork/internal/app/authn"
	core "github.com/R3E-Network/proofwork/internal/app/core/service"
	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/httpapi"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/R3E-Network/proofwork/internal/app/storage/memory"
	"github.com/R3E-Network/proofwork/internal/app/system"
	"github.com/R3E-Network/proofwork/internal/platform"
	"github.com/R3E-Network/proofwork/internal/platform/content"
	"github.com/R3E-Network/proofwork/internal/platform/evm"
	"github.com/R3E-Network/proofwork/pkg/config"
	"github.com/R3E-Network/proofwork/pkg/logger"
	"github.com/R3E-Network/proofwork/pkg/metrics"
)

// Application ties the control plane's services together and manages their
// lifecycle through a system.Manager: the HTTP listener, the outbox
// processors, and the cron-driven lease reaper and metrics refresher.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store         storage.Store
	Scheduler     *core.Scheduler
	Submissions   *core.SubmissionEngine
	Verifications *core.VerificationGateway
	Payouts       *core.PayoutPipeline
	Bounties      *core.BountyService
	Admin         *core.AdminService
	Drivers       *platform.Registry
}

// New builds a fully wired Application from cfg. store is optional: when
// nil the Application runs against the in-memory Store (tests, local dev
// without Postgres); the caller is responsible for constructing and
// migrating any Postgres-backed store before passing it in.
func New(cfg *config.Config, store storage.Store, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.New(logger.LoggingConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
	}
	if store == nil {
		store = memory.New()
	}

	manager := system.NewManager()
	entry := log.WithField("component", "app")

	drivers := platform.NewRegistry()
	if cfg.Chain.BaseRPCURL != "" {
		drivers.SetRPC(evm.NewRPCDriver(cfg.Chain.BaseRPCURL))
	}
	if cfg.Chain.KMSPayoutKeyID != "" && cfg.Chain.PayoutSignerHexKey != "" {
		keySource, err := evm.NewHexKeySource(map[string]string{
			cfg.Chain.KMSPayoutKeyID: cfg.Chain.PayoutSignerHexKey,
		})
		if err != nil {
			return nil, fmt.Errorf("configure payout signer: %w", err)
		}
		drivers.SetSigner(evm.NewSignerDriver(keySource))
	}
	drivers.SetContent(content.NewHTTPDriver(cfg.Chain.ArtifactScannerURL))

	scheduler := &core.Scheduler{
		Store:               store,
		MaxOutboxPendingAge: time.Duration(cfg.Marketplace.MaxOutboxPendingAgeSec) * time.Second,
		UniversalWorkerPause: func() bool {
			return cfg.Marketplace.UniversalWorkerPause
		},
	}
	submissions := &core.SubmissionEngine{Store: store}
	verifications := &core.VerificationGateway{Store: store}
	payoutConfig := core.PayoutConfig{
		ProofworkFeeBps:       cfg.Chain.ProofworkFeeBps,
		MaxProofworkFeeBps:    cfg.Chain.MaxProofworkFeeBps,
		ProofworkFeeWallet:    cfg.Chain.ProofworkFeeWalletBase,
		ConfirmationsRequired: uint64(cfg.Chain.BaseConfirmationsNeeded),
		USDCAddress:           cfg.Chain.BaseUSDCAddress,
	}
	if err := payoutConfig.Validate(); err != nil {
		return nil, err
	}
	payouts := &core.PayoutPipeline{Store: store, Drivers: drivers, Config: payoutConfig}
	bounties := &core.BountyService{
		Store:                store,
		MinPayoutCents:       cfg.Marketplace.MinPayoutCents,
		StrictTaskDescriptor: cfg.Marketplace.EnableTaskDescriptor,
	}
	admin := &core.AdminService{Store: store}
	scanner := &core.ArtifactScanService{Store: store, Content: drivers.Content()}

	application := &Application{
		manager:       manager,
		log:           log,
		Store:         store,
		Scheduler:     scheduler,
		Submissions:   submissions,
		Verifications: verifications,
		Payouts:       payouts,
		Bounties:      bounties,
		Admin:         admin,
		Drivers:       drivers,
	}

	verificationProcessor := core.NewOutboxProcessor(
		"outbox-verification",
		store,
		[]string{outbox.TopicVerificationRequested},
		map[string]core.Handler{
			outbox.TopicVerificationRequested: func(ctx context.Context, payload map[string]any) error {
				// Verifiers pull via /api/verifier/claim; this handler's only
				// job is to let the row reach a terminal state so it never
				// accumulates as permanently pending.
				return nil
			},
		},
		entry.WithField("processor", "verification"),
	)

	payoutProcessor := core.NewOutboxProcessor(
		"outbox-payout",
		store,
		[]string{outbox.TopicPayoutRequested, outbox.TopicPayoutConfirmRequested},
		map[string]core.Handler{
			outbox.TopicPayoutRequested:        handlePayoutRequested(payouts),
			outbox.TopicPayoutConfirmRequested: handlePayoutConfirmRequested(payouts),
		},
		entry.WithField("processor", "payout"),
	)

	scanProcessor := core.NewOutboxProcessor(
		"outbox-scan",
		store,
		[]string{outbox.TopicArtifactScanRequested},
		map[string]core.Handler{
			outbox.TopicArtifactScanRequested: scanner.ArtifactScanRequested,
		},
		entry.WithField("processor", "scan"),
	)

	billingProcessor := core.NewOutboxProcessor(
		"outbox-billing",
		store,
		[]string{outbox.TopicBillingTopupCredited},
		map[string]core.Handler{
			outbox.TopicBillingTopupCredited: admin.BillingTopupCredited,
		},
		entry.WithField("processor", "billing"),
	)

	cronService := core.NewCronService("cron", entry.WithField("component", "cron"))
	cronService.AddJob("@every 30s", func() {
		n, err := scheduler.ReapExpiredLeases(context.Background())
		if err != nil {
			entry.WithError(err).Warn("lease reaper sweep failed")
			return
		}
		if n > 0 {
			entry.WithField("reaped", n).Info("lease reaper swept expired leases")
		}
	})
	cronService.AddJob("@every 15s", func() {
		ctx := context.Background()
		metrics.RefreshGauges(ctx, store.CountBacklog, store.OldestPendingAgeSeconds)
	})

	for _, svc := range []system.Service{verificationProcessor, payoutProcessor, scanProcessor, billingProcessor, cronService} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return application, nil
}

// AttachHTTP builds and registers the HTTP service against addr, wiring
// the Deps bundle from the Application's already-constructed services.
func (a *Application) AttachHTTP(addr string, cfg *config.Config) error {
	auth := &authn.Authenticator{
		Store:           a.Store,
		AdminToken:      cfg.Auth.AdminToken,
		VerifierToken:   cfg.Auth.VerifierToken,
		WorkerJWTSecret: cfg.Auth.WorkerJWTSecret,
	}

	var workerLimiter ratelimit.KeyedLimiter
	if cfg.RateLimit.RedisURL != "" {
		redisLimiter, err := ratelimit.NewRedisKeyedLimiter(cfg.RateLimit.RedisURL, 120)
		if err != nil {
			return fmt.Errorf("configure redis rate limiter: %w", err)
		}
		workerLimiter = redisLimiter
	} else {
		workerLimiter = ratelimit.NewMemoryKeyedLimiter(120)
	}

	deps := &httpapi.Deps{
		Store:               a.Store,
		Scheduler:            a.Scheduler,
		Submissions:          a.Submissions,
		Verifications:        a.Verifications,
		Payouts:              a.Payouts,
		Bounties:             a.Bounties,
		Admin:                a.Admin,
		Auth:                 auth,
		WorkerLimiter:        workerLimiter,
		CORSAllowOrigins:     cfg.Marketplace.CORSAllowOrigins,
		StripeWebhookSecret:  cfg.Marketplace.StripeWebhookSecret,
		BlockedContentTypes:  cfg.Marketplace.BlockedUploadContentType,
		Version:              Version,
	}

	svc := httpapi.NewService(addr, deps, a.log.WithField("component", "http"))
	return a.manager.Register(svc)
}

// Start begins every registered background service and the HTTP listener.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Drivers.StartAll(ctx); err != nil {
		return fmt.Errorf("start platform drivers: %w", err)
	}
	return a.manager.Start(ctx)
}

// Stop stops every registered service in reverse order, then the platform
// drivers.
func (a *Application) Stop(ctx context.Context) error {
	stopErr := a.manager.Stop(ctx)
	if err := a.Drivers.StopAll(ctx); err != nil && stopErr == nil {
		stopErr = err
	}
	return stopErr
}

// Version is the control plane's build version, surfaced at GET /api/version.
var Version = "dev"

func handlePayoutRequested(p *core.PayoutPipeline) core.Handler {
	return func(ctx context.Context, payload map[string]any) error {
		submissionID, _ := payload["submissionId"].(string)
		if submissionID == "" {
			return &core.TerminalError{Err: fmt.Errorf("payout.requested: payload missing submissionId")}
		}
		return p.RequestPayout(ctx, submissionID)
	}
}

func handlePayoutConfirmRequested(p *core.PayoutPipeline) core.Handler {
	return func(ctx context.Context, payload map[string]any) error {
		payoutID, _ := payload["payoutId"].(string)
		if payoutID == "" {
			return &core.TerminalError{Err: fmt.Errorf("payout.confirm.requested: payload missing payoutId")}
		}
		return p.ConfirmPayout(ctx, payoutID)
	}
}

