// Package bucket integrates object-storage buckets. The vendor speaks the
// S3-compatible XML dialect: PUT-to-create, HEAD-to-probe, and a 409 with
// BucketAlreadyExists when the name is taken.
package bucket

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
const Kind = "bucket"

type bucket struct {
	transport signed.Transport
	baseURL   string
	logger    zerolog.Logger
	probe     *reconcile.Probe
}

// New constructs the bucket integration.
func New(deps integrations.Deps) (reconcile.Integration, error) {
	b := &bucket{
		transport: deps.Transport,
		baseURL:   deps.BaseURL,
		logger:    deps.Logger.With().Str("integration", Kind).Logger(),
	}
	probe, err := reconcile.NewProbe(b.fetchStatus, `status == "available"`, "")
	if err != nil {
		return nil, err
	}
	b.probe = probe
	return b, nil
}

func (b *bucket) Kind() string { return Kind }

// Buckets provision in seconds; a short schedule keeps first-ready latency
// low.
func (b *bucket) Schedule() reconcile.Schedule {
	return reconcile.Schedule{Period: 10 * time.Second, InitialDelay: 5 * time.Second, Attempts: 12}
}

func (b *bucket) url(name string) string {
	return fmt.Sprintf("%s/%s", b.baseURL, name)
}

func (b *bucket) Create(ctx context.Context, def reconcile.Definition, st *reconcile.State) error {
	name := def.String("name")
	if name == "" {
		return reconcile.NewPreconditionError("bucket definition requires a name")
	}
	region := def.String("region")

	res, adopted, err := reconcile.Adopt(ctx, reconcile.AdoptSpec{
		Name:   name,
		Logger: b.logger,
		Create: func(ctx context.Context) (*reconcile.Resource, error) {
			header := http.Header{}
			if region != "" {
				header.Set("X-Region", region)
			}
			if def.String("acl") != "" {
				header.Set("X-Acl", def.String("acl"))
			}
			resp, err := b.transport.Do(ctx, &signed.Request{
				Method: http.MethodPut,
				URL:    b.url(name),
				Header: header,
			})
			if err != nil {
				return nil, fmt.Errorf("create: %w", err)
			}
			if err := signed.DecodeError("create", resp); err != nil {
				return nil, err
			}
			return b.resource(name, region), nil
		},
		LookupByName: func(ctx context.Context) (*reconcile.Resource, error) {
			resp, err := b.transport.Do(ctx, &signed.Request{
				Method: http.MethodHead,
				URL:    b.url(name),
			})
			if err != nil {
				return nil, fmt.Errorf("lookup: %w", err)
			}
			if err := signed.DecodeError("lookup", resp); err != nil {
				return nil, err
			}
			return b.resource(name, region), nil
		},
	})
	if err != nil {
		return err
	}
	reconcile.PopulateFromAdoption(st, res, adopted)
	return nil
}

func (b *bucket) resource(name, region string) *reconcile.Resource {
	res := &reconcile.Resource{
		ID:     name,
		ARN:    "arn:storage:bucket:" + name,
		Status: "creating",
	}
	if region != "" {
		res.Attrs = map[string]string{"region": region}
	}
	return res
}

// Update only covers the ACL: bucket name and region are immutable at every
// vendor in this family.
func (b *bucket) Update(ctx context.Context, def reconcile.Definition, st *reconcile.State) error {
	acl := def.String("acl")
	if acl == "" {
		return nil
	}
	header := http.Header{}
	header.Set("X-Acl", acl)
	resp, err := b.transport.Do(ctx, &signed.Request{
		Method: http.MethodPut,
		URL:    b.url(st.ID) + "?acl",
		Header: header,
	})
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return signed.DecodeError("update", resp)
}

func (b *bucket) Delete(ctx context.Context, st *reconcile.State) error {
	if st.ID == "" {
		return reconcile.NewPreconditionError("delete requires an id in state")
	}
	resp, err := b.transport.Do(ctx, &signed.Request{
		Method: http.MethodDelete,
		URL:    b.url(st.ID),
	})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if err := signed.DecodeError("delete", resp); err != nil && !reconcile.IsNotFound(err) {
		return err
	}
	st.ClearIdentity()
	return nil
}

func (b *bucket) CheckReadiness(ctx context.Context, def reconcile.Definition, st *reconcile.State) (bool, error) {
	return b.probe.Check(ctx, st)
}

// fetchStatus probes the bucket with a HEAD request; visibility is the only
// readiness signal this vendor family offers.
func (b *bucket) fetchStatus(ctx context.Context, st *reconcile.State) (map[string]any, error) {
	resp, err := b.transport.Do(ctx, &signed.Request{
		Method: http.MethodHead,
		URL:    b.url(st.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("check-readiness: %w", err)
	}
	if err := signed.DecodeError("check-readiness", resp); err != nil {
		return nil, err
	}
	return map[string]any{"status": "available"}, nil
}

func (b *bucket) Action(ctx context.Context, name string, args map[string]any, def reconcile.Definition, st *reconcile.State) (map[string]any, error) {
	return nil, reconcile.NewPreconditionError(fmt.Sprintf("bucket has no action %q", name))
}
