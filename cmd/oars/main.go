// Command oars assembles the OARS platform core and runs its background
// worker loop. It does not serve HTTP: per the gateway's design, a
// framework-neutral HTTP layer is expected to embed this module and
// invoke PlatformContext's services directly, the way core/cmd/helm's
// runServer wires its kernel layers before handing them to a transport
// it also owns. This binary exists to prove the wiring compiles and runs
// standalone, driving the Execution Backplane's worker loop to
// completion for any jobs enqueued by an embedding process.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/action"
	"github.com/MokiMeow/OARS-sub000/pkg/admin"
	"github.com/MokiMeow/OARS-sub000/pkg/approval"
	"github.com/MokiMeow/OARS-sub000/pkg/backplane"
	"github.com/MokiMeow/OARS-sub000/pkg/config"
	"github.com/MokiMeow/OARS-sub000/pkg/connector"
	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/dataprotection"
	"github.com/MokiMeow/OARS-sub000/pkg/evidence"
	"github.com/MokiMeow/OARS-sub000/pkg/execservice"
	"github.com/MokiMeow/OARS-sub000/pkg/idempotency"
	"github.com/MokiMeow/OARS-sub000/pkg/identity"
	"github.com/MokiMeow/OARS-sub000/pkg/ledger"
	"github.com/MokiMeow/OARS-sub000/pkg/metrics"
	"github.com/MokiMeow/OARS-sub000/pkg/policy"
	"github.com/MokiMeow/OARS-sub000/pkg/receipt"
	"github.com/MokiMeow/OARS-sub000/pkg/security"
	"github.com/MokiMeow/OARS-sub000/pkg/siem"
	"github.com/MokiMeow/OARS-sub000/pkg/signingkey"
	"github.com/MokiMeow/OARS-sub000/pkg/store"
	"github.com/MokiMeow/OARS-sub000/pkg/vault"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver, lite mode
)

// PlatformContext holds every assembled service a transport layer or a
// background worker needs. Nothing in this module reaches back into the
// environment after Load returns; everything flows through this struct.
type PlatformContext struct {
	Config  *config.Config
	Metrics *metrics.Recorder

	Identity   *identity.Validator
	Vault      *vault.Service
	SigningKey *signingkey.Service
	Policy     *policy.Service
	Approval   *approval.Service
	Idempotent *idempotency.Service
	Ledger     *ledger.Service
	Receipt    *receipt.Service
	Evidence   *evidence.Service
	Security   *security.Service
	Admin      *admin.Service
	Siem       *siem.Service
	Connectors *connector.Registry
	ExecSvc    *execservice.Service
	Action     *action.Service
	Backplane  *backplane.Service
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	logger := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	platform, err := assemble(ctx, cfg)
	if err != nil {
		log.Fatalf("oars: failed to assemble platform: %v", err)
	}
	logger.Info("oars: platform assembled", "store", cfg.Store, "backplaneMode", cfg.BackplaneMode)

	if cfg.BackplaneMode != "queue" || platform.Backplane == nil {
		logger.Info("oars: backplane mode is inline; no worker loop to run, exiting")
		return 0
	}

	executor := &approvedActionExecutor{action: platform.Action}
	pollInterval := time.Duration(cfg.BackplanePollInterval) * time.Millisecond
	lockTimeout := time.Duration(cfg.BackplaneLockTimeout) * time.Second
	retryDelay := time.Duration(cfg.BackplaneRetryDelay) * time.Second

	logger.Info("oars: starting backplane worker loop", "pollInterval", pollInterval, "lockTimeout", lockTimeout)
	if err := platform.Backplane.RunWorkerLoop(ctx, "oars-worker-1", cfg.BackplaneClaimLimit, pollInterval, retryDelay, executor); err != nil {
		if ctx.Err() != nil {
			logger.Info("oars: worker loop stopped", "reason", ctx.Err())
			return 0
		}
		log.Fatalf("oars: worker loop exited: %v", err)
	}
	return 0
}

// approvedActionExecutor adapts the Action Service to backplane.ActionExecutor.
type approvedActionExecutor struct {
	action *action.Service
}

func (e *approvedActionExecutor) ExecuteApprovedAction(ctx context.Context, tenantID, actionID string) (contracts.ActionState, error) {
	return e.action.ExecuteApprovedAction(ctx, tenantID, actionID)
}

// ledgerAppender narrows pkg/ledger.Service's two-return Append to the
// single-error-return shape pkg/receipt and pkg/security each declare
// independently, discarding the minted entry they have no use for.
type ledgerAppender struct {
	ledger *ledger.Service
}

func (a *ledgerAppender) Append(tenantID, entityType, entityID string, payload interface{}) error {
	_, err := a.ledger.Append(tenantID, entityType, entityID, payload)
	return err
}

// === SUBSYSTEM WIRING ===
//
// assemble constructs every service in dependency order: stores first,
// then the low-level cryptographic and identity layers, then the
// business services that depend on them, finishing with the Action
// Service and the Execution Backplane that drives it asynchronously.
func assemble(ctx context.Context, cfg *config.Config) (*PlatformContext, error) {
	platform := &PlatformContext{Config: cfg}

	recorder, err := metrics.NewRecorder()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	platform.Metrics = recorder

	// --- Identity boundary ---
	keySet := identity.StaticKeySet{Key: []byte(firstNonEmpty(cfg.JWTSecret, "oars-dev-secret-do-not-use-in-production"))}
	platform.Identity = identity.NewValidator(keySet)

	// --- Data protection + vault ---
	protector := dataprotection.NewProtector(firstNonEmpty(cfg.DataEncryptionKey, "oars-dev-encryption-key-32-bytes!"))
	vaultStore, err := store.NewFileVaultStore("./data/vault.json")
	if err != nil {
		return nil, fmt.Errorf("vault store: %w", err)
	}
	platform.Vault = vault.NewService(vaultStore, protector, time.Now)

	// --- Signing keys ---
	signingKeyStore, err := store.NewFileSigningKeyStore("./data/signing-keys.json")
	if err != nil {
		return nil, fmt.Errorf("signing key store: %w", err)
	}
	platform.SigningKey = signingkey.NewService(signingKeyStore, time.Now)

	// --- Immutable ledger ---
	lgr, err := ledger.NewService(cfg.ImmutableLedgerPath, time.Now)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	platform.Ledger = lgr
	appender := &ledgerAppender{ledger: lgr}

	// --- Policy ---
	policyStore, err := store.NewFilePolicyStore("./data/policies.json")
	if err != nil {
		return nil, fmt.Errorf("policy store: %w", err)
	}
	platform.Policy = policy.NewService(policyStore, time.Now)

	// --- Idempotency ---
	idempotencyStore, err := store.NewFileIdempotencyStore("./data/idempotency.json")
	if err != nil {
		return nil, fmt.Errorf("idempotency store: %w", err)
	}
	platform.Idempotent = idempotency.NewService(idempotencyStore, 24*time.Hour, time.Now)

	// --- Admin surfaces (alert routing, compliance crosswalk, backup, membership) ---
	adminStore, err := store.NewFileAdminStore("./data/admin.json")
	if err != nil {
		return nil, fmt.Errorf("admin store: %w", err)
	}
	platform.Admin = admin.NewService(adminStore, time.Now)

	// --- SIEM forwarding ---
	siemStore, err := store.NewFileSiemStore("./data/siem.json")
	if err != nil {
		return nil, fmt.Errorf("siem store: %w", err)
	}
	siemSvc, err := siem.NewService(siemStore, siemStore, siem.NewHTTPTransport(10*time.Second), platform.Metrics, time.Now, siem.Config{
		IntervalSeconds: cfg.SiemRetryInterval,
		MaxAttempts:     cfg.SiemRetryMaxAttempts,
		MaxQueueSize:    cfg.SiemRetryMaxQueueSize,
		QueuePath:       cfg.SiemRetryQueuePath,
	})
	if err != nil {
		return nil, fmt.Errorf("siem service: %w", err)
	}
	platform.Siem = siemSvc

	// --- Security event fan-out (store, ledger, SIEM, alert routing, file sink) ---
	securityStore, err := store.NewFileSecurityEventStore("./data/security-events.json")
	if err != nil {
		return nil, fmt.Errorf("security event store: %w", err)
	}
	securityLog, err := os.OpenFile("./data/security-events.ndjson", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("security event log: %w", err)
	}
	platform.Security = security.NewService(securityStore, appender, platform.Siem, platform.Admin, securityLog)

	// --- Evidence graph ---
	evidenceStore, err := store.NewFileEvidenceStore("./data/evidence.json")
	if err != nil {
		return nil, fmt.Errorf("evidence store: %w", err)
	}
	platform.Evidence = evidence.NewService(evidenceStore)

	// --- Approvals ---
	approvalStore, err := store.NewFileApprovalStore("./data/approvals.json")
	if err != nil {
		return nil, fmt.Errorf("approval store: %w", err)
	}
	platform.Approval = approval.NewService(approvalStore, approvalStore, approval.DevStepUpVerifier{}, platform.Security, platform.Metrics, time.Now)

	// --- Receipts (signed, chained, evidenced) ---
	var receiptStore receipt.Store
	if cfg.Store == "postgres" {
		db, err := openSQL(ctx, "postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("receipt db: %w", err)
		}
		pgReceipts, err := store.NewPostgresReceiptStore(db)
		if err != nil {
			return nil, fmt.Errorf("postgres receipt store: %w", err)
		}
		receiptStore = pgReceipts
	} else {
		fileReceipts, err := store.NewFileReceiptStore("./data/receipts.json")
		if err != nil {
			return nil, fmt.Errorf("receipt store: %w", err)
		}
		receiptStore = fileReceipts
	}
	platform.Receipt = receipt.NewService(receiptStore, platform.SigningKey, appender, platform.Security, platform.Evidence, time.Now)

	// --- Connector registry ---
	// No concrete connectors are registered here: every tool integration
	// (ticketing, IAM, infrastructure APIs) is deployment-specific and is
	// expected to call Registry.Register before the Action Service's
	// first dispatch. With an empty registry, ValidateInput finds no
	// schema and passes, and the Execution Service then rejects the
	// action with errs.ErrNotFound ("no connector registered for tool")
	// rather than panicking on a nil registry.
	platform.Connectors = connector.NewRegistry()
	platform.ExecSvc = execservice.NewService(platform.Connectors, platform.Vault, time.Now)

	// --- Action Service ---
	actionStore, err := store.NewFileActionStore("./data/actions.json")
	if err != nil {
		return nil, fmt.Errorf("action store: %w", err)
	}

	// --- Execution Backplane ---
	var backplaneSvc *backplane.Service
	if cfg.BackplaneMode == "queue" {
		var backplaneStore backplane.Store
		if cfg.BackplaneDriver == "postgres" {
			db, err := openSQL(ctx, "postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("backplane db: %w", err)
			}
			pgBackplane, err := store.NewPostgresBackplaneStore(db)
			if err != nil {
				return nil, fmt.Errorf("postgres backplane store: %w", err)
			}
			backplaneStore = pgBackplane
		} else {
			fileBackplane, err := store.NewFileBackplaneStore("./data/jobs.json")
			if err != nil {
				return nil, fmt.Errorf("backplane store: %w", err)
			}
			backplaneStore = fileBackplane
		}
		lockTimeout := time.Duration(cfg.BackplaneLockTimeout) * time.Second
		backplaneSvc = backplane.NewService(backplaneStore, lockTimeout, cfg.BackplaneMaxAttempts, time.Now)
	}
	platform.Backplane = backplaneSvc

	var enqueuer action.JobEnqueuer
	if backplaneSvc != nil {
		enqueuer = backplaneSvc
	}
	platform.Action = action.NewService(actionStore, platform.Policy, platform.Approval, platform.Receipt, platform.ExecSvc, enqueuer, platform.Security, platform.Metrics, time.Now)

	return platform, nil
}

func openSQL(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
