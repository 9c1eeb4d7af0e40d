// Package cdn integrates CDN distributions. This vendor family is the
// catalog's awkward one: the API speaks XML, every mutating call demands the
// concurrency token from an immediately preceding read, and an active
// distribution cannot be deleted: it must be disabled, the disabled
// configuration must finish deploying, and only then does delete succeed.
package cdn

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudmoor/cloudmoor/pkg/integrations"
	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
	"github.com/cloudmoor/cloudmoor/pkg/transports/signed"
)

// Kind is the catalog kind handled by this integration.
const Kind = "cdn"

// statusDeployed is the vendor's terminal deployment status; anything else
// means a configuration change is still propagating.
const statusDeployed = "Deployed"

type cdn struct {
	transport signed.Transport
	baseURL   string
	logger    zerolog.Logger
	probe     *reconcile.Probe

	// pollInterval/maxPolls bound the in-call deployment wait during
	// teardown; tests shrink them.
	pollInterval time.Duration
	maxPolls     int
	taskInterval time.Duration
}

// New constructs the cdn integration.
func New(deps integrations.Deps) (reconcile.Integration, error) {
	c := &cdn{
		transport:    deps.Transport,
		baseURL:      deps.BaseURL,
		logger:       deps.Logger.With().Str("integration", Kind).Logger(),
		pollInterval: 30 * time.Second,
		maxPolls:     60,
		taskInterval: 5 * time.Second,
	}
	probe, err := reconcile.NewProbe(c.fetchStatus, fmt.Sprintf("status == %q", statusDeployed), "")
	if err != nil {
		return nil, err
	}
	c.probe = probe
	return c, nil
}

func (c *cdn) Kind() string { return Kind }

// Distributions take minutes to tens of minutes to deploy.
func (c *cdn) Schedule() reconcile.Schedule {
	return reconcile.Schedule{Period: 60 * time.Second, InitialDelay: 120 * time.Second, Attempts: 40}
}

func (c *cdn) distURL(id string) string {
	return fmt.Sprintf("%s/2020-05-31/distribution/%s", c.baseURL, id)
}

func (c *cdn) Create(ctx context.Context, def reconcile.Definition, st *reconcile.State) error {
	cfg, err := configFromDefinition(def)
	if err != nil {
		return err
	}

	res, adopted, err := reconcile.Adopt(ctx, reconcile.AdoptSpec{
		Name:   cfg.CallerReference,
		Logger: c.logger,
		Create: func(ctx context.Context) (*reconcile.Resource, error) {
			var dist distribution
			resp, err := integrations.DoXML(ctx, c.transport, "create", http.MethodPost,
				c.baseURL+"/2020-05-31/distribution", nil, cfg, &dist)
			if err != nil {
				return nil, err
			}
			return &reconcile.Resource{
				ID:     dist.ID,
				ARN:    dist.ARN,
				Token:  resp.ETag(),
				Status: dist.Status,
				Attrs:  map[string]string{"domain": dist.DomainName},
			}, nil
		},
		LookupByName: func(ctx context.Context) (*reconcile.Resource, error) {
			return c.lookupByReference(ctx, cfg.CallerReference)
		},
	})
	if err != nil {
		return err
	}
	reconcile.PopulateFromAdoption(st, res, adopted)
	return nil
}

// lookupByReference scans the distribution list for a matching caller
// reference; the vendor has no lookup-by-name endpoint.
func (c *cdn) lookupByReference(ctx context.Context, ref string) (*reconcile.Resource, error) {
	var list distributionList
	if _, err := integrations.DoXML(ctx, c.transport, "lookup", http.MethodGet,
		c.baseURL+"/2020-05-31/distribution", nil, nil, &list); err != nil {
		return nil, err
	}
	for _, item := range list.Items {
		if item.CallerReference == ref {
			return &reconcile.Resource{
				ID:     item.ID,
				ARN:    item.ARN,
				Status: item.Status,
				Attrs:  map[string]string{"domain": item.DomainName},
			}, nil
		}
	}
	return nil, reconcile.NewVendorError("lookup", 404, "NoSuchDistribution",
		fmt.Sprintf("no distribution with caller reference %q", ref))
}

// Update follows the vendor's fetch-modify-put contract: the token from the
// config read must accompany the write, and it changes with every mutation.
func (c *cdn) Update(ctx context.Context, def reconcile.Definition, st *reconcile.State) error {
	desired, err := configFromDefinition(def)
	if err != nil {
		return err
	}

	current, token, err := c.fetchConfig(ctx, st.ID)
	if err != nil {
		return err
	}
	desired.CallerReference = current.CallerReference

	header := http.Header{}
	header.Set("If-Match", token)
	var dist distribution
	resp, err := integrations.DoXML(ctx, c.transport, "update", http.MethodPut,
		c.distURL(st.ID)+"/config", header, desired, &dist)
	if err != nil {
		return err
	}
	st.Token = resp.ETag()
	st.Status = dist.Status
	return nil
}

// Delete runs the phased teardown: disable under the current token, wait for
// the disabled configuration to deploy, then delete under a fresh token.
func (c *cdn) Delete(ctx context.Context, st *reconcile.State) error {
	seq := &reconcile.Sequencer{
		Logger:       c.logger,
		PollInterval: c.pollInterval,
		MaxPolls:     c.maxPolls,
		FetchConfig: func(ctx context.Context, id string) (*reconcile.TeardownConfig, error) {
			var dist distribution
			resp, err := integrations.DoXML(ctx, c.transport, "delete", http.MethodGet,
				c.distURL(id), nil, nil, &dist)
			if err != nil {
				return nil, err
			}
			return &reconcile.TeardownConfig{
				Doc:      map[string]any{"config": dist.Config},
				Token:    resp.ETag(),
				Enabled:  dist.Config.Enabled,
				Deployed: dist.Status == statusDeployed,
			}, nil
		},
		Disable: func(ctx context.Context, id string, doc map[string]any, token string) error {
			cfg, ok := doc["config"].(distributionConfig)
			if !ok {
				return reconcile.NewPreconditionError("teardown lost the distribution config")
			}
			// Flip exactly the enabled flag; everything else rides
			// along unchanged.
			cfg.Enabled = false
			header := http.Header{}
			header.Set("If-Match", token)
			_, err := integrations.DoXML(ctx, c.transport, "disable", http.MethodPut,
				c.distURL(id)+"/config", header, cfg, nil)
			return err
		},
		Delete: func(ctx context.Context, id string, token string) error {
			header := http.Header{}
			header.Set("If-Match", token)
			_, err := integrations.DoXML(ctx, c.transport, "delete", http.MethodDelete,
				c.distURL(id), header, nil, nil)
			return err
		},
	}
	return seq.Run(ctx, st)
}

func (c *cdn) CheckReadiness(ctx context.Context, def reconcile.Definition, st *reconcile.State) (bool, error) {
	return c.probe.Check(ctx, st)
}

func (c *cdn) fetchStatus(ctx context.Context, st *reconcile.State) (map[string]any, error) {
	var dist distribution
	resp, err := integrations.DoXML(ctx, c.transport, "check-readiness", http.MethodGet,
		c.distURL(st.ID), nil, nil, &dist)
	if err != nil {
		return nil, err
	}
	st.Token = resp.ETag()
	return map[string]any{"status": dist.Status, "domain": dist.DomainName}, nil
}

func (c *cdn) fetchConfig(ctx context.Context, id string) (*distributionConfig, string, error) {
	var cfg distributionConfig
	resp, err := integrations.DoXML(ctx, c.transport, "get-config", http.MethodGet,
		c.distURL(id)+"/config", nil, nil, &cfg)
	if err != nil {
		return nil, "", err
	}
	return &cfg, resp.ETag(), nil
}

// Action handles "create-invalidation": submit an invalidation batch for the
// given paths and wait for it to complete.
func (c *cdn) Action(ctx context.Context, name string, args map[string]any, def reconcile.Definition, st *reconcile.State) (map[string]any, error) {
	if name != "create-invalidation" {
		return nil, reconcile.NewPreconditionError(fmt.Sprintf("cdn has no action %q", name))
	}
	if st.ID == "" {
		return nil, reconcile.NewPreconditionError("create-invalidation requires a provisioned distribution")
	}

	paths := stringArg(args, "paths")
	if len(paths) == 0 {
		paths = []string{"/*"}
	}

	batch := invalidationBatch{
		CallerReference: fmt.Sprintf("cloudmoor-%d", time.Now().UnixNano()),
		Paths:           invalidationPaths{Quantity: len(paths), Items: paths},
	}
	var inv invalidation
	if _, err := integrations.DoXML(ctx, c.transport, "create-invalidation", http.MethodPost,
		c.distURL(st.ID)+"/invalidation", nil, batch, &inv); err != nil {
		return nil, err
	}

	waiter := &reconcile.TaskWaiter{
		Interval: c.taskInterval,
		Fetch: func(ctx context.Context, handle string) (*reconcile.Task, error) {
			var polled invalidation
			if _, err := integrations.DoXML(ctx, c.transport, "create-invalidation", http.MethodGet,
				c.distURL(st.ID)+"/invalidation/"+handle, nil, nil, &polled); err != nil {
				return nil, err
			}
			task := &reconcile.Task{Status: polled.Status}
			if polled.Status == "Completed" {
				task.Status = reconcile.TaskStatusCompleted
				task.ResultID = polled.ID
			}
			return task, nil
		},
	}
	id, err := waiter.Wait(ctx, inv.ID)
	if err != nil {
		return nil, err
	}

	return map[string]any{"invalidation_id": id, "paths": paths}, nil
}

// stringArg extracts a string slice from action args, tolerating []any.
func stringArg(args map[string]any, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []string:
		out = v
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
