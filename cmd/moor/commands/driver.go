package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudmoor/cloudmoor/pkg/config"
	"github.com/cloudmoor/cloudmoor/pkg/integrations"
	"github.com/cloudmoor/cloudmoor/pkg/integrations/catalog"
	"github.com/cloudmoor/cloudmoor/pkg/policy"
	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
	"github.com/cloudmoor/cloudmoor/pkg/secrets"
	"github.com/cloudmoor/cloudmoor/pkg/stores"
	"github.com/cloudmoor/cloudmoor/pkg/telemetry"
	"github.com/cloudmoor/cloudmoor/pkg/transports/signed"
)

// driver wires the host services every command works through: telemetry,
// the state store, the secret store, the policy gate, and the integration
// catalog behind the signed transport.
type driver struct {
	cfg      *HostConfig
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	secrets  secrets.Store
	policies *policy.Engine
	loader   *policy.Loader
	registry *integrations.Registry
	rec      *reconcile.Reconciler
	parser   *config.Parser
	deps     integrations.Deps
}

// newDriver assembles the host from the config file named by --config.
func newDriver(ctx context.Context) (*driver, error) {
	cfg, err := loadHostConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tel, err := newTelemetry(cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.StatePath)
	if err != nil {
		return nil, err
	}

	secretStore, err := openSecrets(cfg.SecretsPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger := tel.Logger.Zerolog()

	engine, err := policy.NewEngine(logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	loader := policy.NewLoader(logger)
	if len(cfg.PolicyPaths) > 0 {
		loaded, err := loader.LoadFromPaths(ctx, cfg.PolicyPaths)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
		if err := engine.AddAll(ctx, loaded); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to compile policies: %w", err)
		}
	}

	transport := signed.NewClient(
		bearerSigner(secretStore, cfg.Vendor.TokenRef),
		signed.Config{},
		logger,
	)

	rec := reconcile.New(logger)
	rec.Recorder = tel.Metrics
	rec.ProbeAfterCreate = true

	return &driver{
		cfg:      cfg,
		tel:      tel,
		store:    store,
		secrets:  secretStore,
		policies: engine,
		loader:   loader,
		registry: catalog.Default(),
		rec:      rec,
		parser:   config.NewParser(),
		deps: integrations.Deps{
			Transport: transport,
			Secrets:   secretStore,
			Logger:    logger,
			BaseURL:   cfg.Vendor.BaseURL,
		},
	}, nil
}

// Close releases the store and flushes telemetry.
func (d *driver) Close(ctx context.Context) {
	if err := d.store.Close(); err != nil {
		d.tel.Logger.WithError(err).Warn("Failed to close state store")
	}
	d.loader.StopWatching()
	if err := d.tel.Shutdown(ctx); err != nil {
		d.tel.Logger.WithError(err).Warn("Telemetry shutdown incomplete")
	}
}

// integration builds the catalog entry for kind with the host deps.
func (d *driver) integration(kind string) (reconcile.Integration, error) {
	return d.registry.Lookup(kind, d.deps)
}

// parseEntities resolves sources, falling back to the host config's
// default sources.
func (d *driver) parseEntities(ctx context.Context, args []string) (*config.ParseResult, error) {
	sources := args
	if len(sources) == 0 {
		sources = d.cfg.Sources
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no entity sources: pass paths or set sources in the host config")
	}

	result, err := d.parser.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		for _, e := range result.Errors {
			d.tel.Logger.Error(e.Error())
		}
		return nil, fmt.Errorf("%d validation errors in entity sources", len(result.Errors))
	}
	return result, nil
}

// gate evaluates the policy engine for one operation. Violations at error
// severity block; warnings are logged and published.
func (d *driver) gate(ctx context.Context, ent config.Entity, op string, existing bool) error {
	res, err := d.policies.Evaluate(ctx, policy.Input{
		Kind:       ent.Kind,
		Name:       ent.Name,
		Op:         op,
		Existing:   existing,
		Definition: ent.Definition,
	})
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	for _, w := range res.Warnings {
		d.tel.Logger.WithEntity(ent.Kind, ent.Name).Warnf("Policy %s: %s", w.Policy, w.Message)
	}

	if !res.Allowed {
		msgs := make([]string, 0, len(res.Violations))
		for _, v := range res.Violations {
			_ = d.tel.Events.PublishPolicyViolation(ent.Kind, ent.Name, v.Policy, v.Message)
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
		return fmt.Errorf("operation %s on %s/%s blocked by policy: %s",
			op, ent.Kind, ent.Name, strings.Join(msgs, "; "))
	}
	return nil
}

// reconcileEntity runs one lifecycle operation for an entity, persisting
// the returned state and appending to the operations log.
func (d *driver) reconcileEntity(ctx context.Context, ent config.Entity, op reconcile.Op, action string, args map[string]any) (*reconcile.Result, error) {
	integ, err := d.integration(ent.Kind)
	if err != nil {
		return nil, err
	}

	prior, err := stores.LoadState(ctx, d.store, ent.Kind, ent.Name)
	if err != nil {
		return nil, err
	}

	opName := op.String()
	if op == reconcile.OpAction {
		opName = action
	}

	if err := d.gate(ctx, ent, opName, prior.Existing); err != nil {
		logOp := stores.NewOperation(ent.Kind, ent.Name, opName).Finish(stores.OutcomeBlocked, err)
		if appendErr := d.store.AppendOperation(ctx, logOp); appendErr != nil {
			d.tel.Logger.WithError(appendErr).Warn("Failed to record blocked operation")
		}
		return nil, err
	}

	ic := telemetry.StartEntityOperation(ctx, ent.Kind, ent.Name, opName)
	logOp := stores.NewOperation(ent.Kind, ent.Name, opName)

	res, opErr := d.rec.Reconcile(ic.Ctx, integ, reconcile.Request{
		Definition: ent.Definition,
		State:      prior.ToMap(),
		Op:         op,
		Action:     action,
		Args:       args,
	})
	ic.End(opErr)

	// Persist whatever state came back, even on failure: adoption and
	// partial identity must survive a failed run.
	if res != nil && res.State != nil {
		next, stateErr := reconcile.StateFromMap(res.State)
		if stateErr == nil {
			if saveErr := d.persist(ctx, ent, op, prior, next); saveErr != nil && opErr == nil {
				opErr = saveErr
			}
			if op == reconcile.OpUpdate && opErr == nil && next.Attrs["drift"] == "unapplied" {
				d.tel.Metrics.RecordDriftSkipped(ent.Kind)
				_ = d.tel.Events.PublishDriftSkipped(ent.Kind, ent.Name,
					"vendor has no update endpoint; delete and recreate to converge")
			}
		}
	}

	if op == reconcile.OpDelete {
		if opErr == nil {
			d.tel.Metrics.RecordTeardownPhase(string(reconcile.PhaseDeleted), "success")
			_ = d.tel.Events.PublishTeardownPhase(ent.Kind, ent.Name, string(reconcile.PhaseDeleted))
		} else if phase := reconcile.TeardownPhase(opErr); phase != "" {
			d.tel.Metrics.RecordTeardownPhase(string(phase), "failure")
			_ = d.tel.Events.PublishTeardownPhase(ent.Kind, ent.Name, string(phase))
		}
	}

	outcome := stores.OutcomeSucceeded
	if opErr != nil {
		outcome = stores.OutcomeFailed
	}
	if err := d.store.AppendOperation(ctx, logOp.Finish(outcome, opErr)); err != nil {
		d.tel.Logger.WithError(err).Warn("Failed to record operation")
	}

	if opErr != nil {
		_ = d.tel.Events.PublishOperationFailed(ent.Kind, ent.Name, opName, opErr.Error())
		return res, opErr
	}
	return res, nil
}

// persist writes the post-operation state, removing the row after a
// completed delete and publishing lifecycle events.
func (d *driver) persist(ctx context.Context, ent config.Entity, op reconcile.Op, prior, next *reconcile.State) error {
	if op == reconcile.OpDelete && next.ID == "" {
		err := d.store.DeleteEntity(ctx, ent.Kind, ent.Name)
		if err != nil && !errors.Is(err, stores.ErrNotFound) {
			return err
		}
		_ = d.tel.Events.PublishEntityDeleted(ent.Kind, ent.Name)
		return nil
	}

	if err := stores.SaveState(ctx, d.store, ent.Kind, ent.Name, next); err != nil {
		return err
	}

	if op == reconcile.OpCreate && next.ID != "" && prior.ID == "" {
		if next.Existing {
			d.tel.Metrics.RecordAdoption(ent.Kind)
			_ = d.tel.Events.PublishEntityAdopted(ent.Kind, ent.Name, next.ID)
		} else {
			_ = d.tel.Events.PublishEntityCreated(ent.Kind, ent.Name, next.ID)
		}
	}
	return nil
}

// waitReady polls readiness on the kind's schedule until ready, the
// attempts run out, or a poll fails fatally.
func (d *driver) waitReady(ctx context.Context, ent config.Entity) error {
	integ, err := d.integration(ent.Kind)
	if err != nil {
		return err
	}
	sched := integ.Schedule()

	logger := d.tel.Logger.WithEntity(ent.Kind, ent.Name)
	logger.Infof("Waiting for readiness (budget %s)", sched.Budget())

	if sched.InitialDelay > 0 {
		select {
		case <-time.After(sched.InitialDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for attempt := 1; attempt <= sched.Attempts; attempt++ {
		res, err := d.reconcileEntity(ctx, ent, reconcile.OpCheckReadiness, "", nil)
		switch {
		case err != nil && reconcile.IsFatal(err):
			d.tel.Metrics.RecordReadinessPoll(ent.Kind, "fatal")
			return err
		case err != nil:
			d.tel.Metrics.RecordReadinessPoll(ent.Kind, "error")
			logger.WithError(err).Warnf("Readiness poll %d/%d failed", attempt, sched.Attempts)
		case res.Ready:
			d.tel.Metrics.RecordReadinessPoll(ent.Kind, "ready")
			_ = d.tel.Events.PublishEntityReady(ent.Kind, ent.Name, statusOf(res))
			logger.Info("Resource is ready")
			return nil
		default:
			d.tel.Metrics.RecordReadinessPoll(ent.Kind, "pending")
		}

		if attempt == sched.Attempts {
			break
		}
		select {
		case <-time.After(sched.Period):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s/%s not ready after %d attempts", ent.Kind, ent.Name, sched.Attempts)
}

// entityFromRecord rebuilds a minimal entity from a stored row for
// operations that run without the CUE sources.
func (d *driver) entityFromRecord(ctx context.Context, kind, name string) (config.Entity, error) {
	if _, err := d.store.GetEntity(ctx, kind, name); err != nil {
		return config.Entity{}, err
	}
	return config.Entity{
		Kind:       kind,
		Name:       name,
		Definition: map[string]any{"name": name},
	}, nil
}

// loadPrior fetches the stored state for an entity, zero when unknown.
func loadPrior(ctx context.Context, d *driver, ent config.Entity) (*reconcile.State, error) {
	return stores.LoadState(ctx, d.store, ent.Kind, ent.Name)
}

func statusOf(res *reconcile.Result) string {
	if res == nil || res.State == nil {
		return ""
	}
	if s, ok := res.State["status"].(string); ok {
		return s
	}
	return ""
}

func newTelemetry(cfg *HostConfig) (*telemetry.Telemetry, error) {
	var tcfg *telemetry.Config
	switch cfg.Telemetry {
	case "production":
		tcfg = telemetry.ProductionConfig()
	default:
		tcfg = telemetry.DevelopmentConfig()
	}
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	if jsonOutput {
		tcfg.Logging.Format = "json"
	}
	if cfg.MetricsListen != "" {
		tcfg.Metrics.ListenAddress = cfg.MetricsListen
	}
	return telemetry.NewTelemetry(tcfg)
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func openSecrets(path string) (secrets.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create secrets directory: %w", err)
		}
	}
	return secrets.NewFileStore(path)
}

// bearerSigner resolves the vendor token from the secret store on every
// request, so rotation takes effect without restarting.
func bearerSigner(store secrets.Store, tokenRef string) signed.Signer {
	return signed.SignerFunc(func(req *http.Request) error {
		token, err := store.Get(tokenRef)
		if err != nil {
			if errors.Is(err, secrets.ErrNotFound) {
				return fmt.Errorf("vendor token %q not found in secret store", tokenRef)
			}
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	})
}
