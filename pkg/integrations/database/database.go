// Package database integrates managed database clusters. The vendor speaks
// JSON, provisions clusters asynchronously (status "creating" until
// "online", terminally "failed"), and expects the admin password in the
// create payload, which cloudmoor auto-provisions through the secret store
// so definitions never carry credentials.
package database

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudmoor/cloudmoor/pkg/integrations"
	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
	"github.com/cloudmoor/cloudmoor/pkg/secrets"
	"github.com/cloudmoor/cloudmoor/pkg/transports/signed"
)

// Kind is the catalog kind handled by this integration.
const Kind = "database"

// passwordLength is the length of auto-provisioned admin passwords.
const passwordLength = 24

type database struct {
	transport signed.Transport
	secrets   secrets.Store
	baseURL   string
	logger    zerolog.Logger
	probe     *reconcile.Probe
}

// New constructs the database integration.
func New(deps integrations.Deps) (reconcile.Integration, error) {
	if deps.Secrets == nil {
		return nil, fmt.Errorf("database integration requires a secret store")
	}
	d := &database{
		transport: deps.Transport,
		secrets:   deps.Secrets,
		baseURL:   deps.BaseURL,
		logger:    deps.Logger.With().Str("integration", Kind).Logger(),
	}
	probe, err := reconcile.NewProbe(d.fetchStatus,
		`status == "online"`, `status in ["failed", "errored"]`)
	if err != nil {
		return nil, err
	}
	d.probe = probe
	return d, nil
}

func (d *database) Kind() string { return Kind }

// Clusters usually come online within ten minutes.
func (d *database) Schedule() reconcile.Schedule {
	return reconcile.Schedule{Period: 30 * time.Second, InitialDelay: 60 * time.Second, Attempts: 30}
}

// clusterDoc is the vendor's JSON representation.
type clusterDoc struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Engine     string `json:"engine"`
	Version    string `json:"version,omitempty"`
	Region     string `json:"region"`
	Size       string `json:"size"`
	NumNodes   int    `json:"num_nodes"`
	Connection struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"connection"`
}

type clusterEnvelope struct {
	Database clusterDoc `json:"database"`
}

type clusterListEnvelope struct {
	Databases []clusterDoc `json:"databases"`
}

// passwordRef is the secret-store key for a cluster's admin password.
func passwordRef(name string) string {
	return "database/" + name + "/admin-password"
}

func (d *database) Create(ctx context.Context, def reconcile.Definition, st *reconcile.State) error {
	name := def.String("name")
	if name == "" {
		return reconcile.NewPreconditionError("database definition requires a name")
	}
	if def.String("engine") == "" {
		return reconcile.NewPreconditionError("database definition requires an engine")
	}

	password, err := secrets.GetOrGenerate(d.secrets, passwordRef(name), passwordLength)
	if err != nil {
		return fmt.Errorf("failed to provision admin password: %w", err)
	}

	payload := map[string]any{
		"name":      name,
		"engine":    def.String("engine"),
		"version":   def.String("version"),
		"region":    def.String("region"),
		"size":      def.String("size"),
		"num_nodes": defaultNodes(def.Int("num_nodes")),
		"password":  password,
	}

	res, adopted, err := reconcile.Adopt(ctx, reconcile.AdoptSpec{
		Name:   name,
		Logger: d.logger,
		Create: func(ctx context.Context) (*reconcile.Resource, error) {
			var env clusterEnvelope
			if _, err := integrations.DoJSON(ctx, d.transport, "create", http.MethodPost,
				d.baseURL+"/v2/databases", payload, &env); err != nil {
				return nil, err
			}
			return clusterResource(&env.Database), nil
		},
		LookupByName: func(ctx context.Context) (*reconcile.Resource, error) {
			return d.lookupByName(ctx, name)
		},
	})
	if err != nil {
		return err
	}
	reconcile.PopulateFromAdoption(st, res, adopted)
	// State references the secret, never the material.
	st.SetAttr("password_ref", passwordRef(name))
	return nil
}

func (d *database) lookupByName(ctx context.Context, name string) (*reconcile.Resource, error) {
	var env clusterListEnvelope
	if _, err := integrations.DoJSON(ctx, d.transport, "lookup", http.MethodGet,
		d.baseURL+"/v2/databases", nil, &env); err != nil {
		return nil, err
	}
	for i := range env.Databases {
		if env.Databases[i].Name == name {
			return clusterResource(&env.Databases[i]), nil
		}
	}
	return nil, reconcile.NewVendorError("lookup", 404, "not_found",
		fmt.Sprintf("no database cluster named %q", name))
}

func clusterResource(doc *clusterDoc) *reconcile.Resource {
	res := &reconcile.Resource{
		ID:     doc.ID,
		Status: doc.Status,
		Attrs:  map[string]string{},
	}
	if doc.Connection.Host != "" {
		res.Attrs["host"] = doc.Connection.Host
		res.Attrs["port"] = strconv.Itoa(doc.Connection.Port)
	}
	return res
}

func defaultNodes(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Update covers the mutable subset: size and node count, via the vendor's
// resize endpoint. Engine, version, and region changes require a new
// cluster and are rejected.
func (d *database) Update(ctx context.Context, def reconcile.Definition, st *reconcile.State) error {
	payload := map[string]any{
		"size":      def.String("size"),
		"num_nodes": defaultNodes(def.Int("num_nodes")),
	}
	var env clusterEnvelope
	if _, err := integrations.DoJSON(ctx, d.transport, "update", http.MethodPut,
		d.baseURL+"/v2/databases/"+st.ID+"/resize", payload, &env); err != nil {
		return err
	}
	if env.Database.Status != "" {
		st.Status = env.Database.Status
	}
	return nil
}

func (d *database) Delete(ctx context.Context, st *reconcile.State) error {
	if st.ID == "" {
		return reconcile.NewPreconditionError("delete requires an id in state")
	}
	if _, err := integrations.DoJSON(ctx, d.transport, "delete", http.MethodDelete,
		d.baseURL+"/v2/databases/"+st.ID, nil, nil); err != nil {
		if !reconcile.IsNotFound(err) {
			return err
		}
	}
	st.ClearIdentity()
	return nil
}

func (d *database) CheckReadiness(ctx context.Context, def reconcile.Definition, st *reconcile.State) (bool, error) {
	return d.probe.Check(ctx, st)
}

func (d *database) fetchStatus(ctx context.Context, st *reconcile.State) (map[string]any, error) {
	var env clusterEnvelope
	if _, err := integrations.DoJSON(ctx, d.transport, "check-readiness", http.MethodGet,
		d.baseURL+"/v2/databases/"+st.ID, nil, &env); err != nil {
		return nil, err
	}
	if env.Database.Connection.Host != "" {
		st.SetAttr("host", env.Database.Connection.Host)
		st.SetAttr("port", strconv.Itoa(env.Database.Connection.Port))
	}
	return map[string]any{"status": env.Database.Status}, nil
}

// Action handles "reboot": a rolling restart of the cluster nodes.
func (d *database) Action(ctx context.Context, name string, args map[string]any, def reconcile.Definition, st *reconcile.State) (map[string]any, error) {
	if name != "reboot" {
		return nil, reconcile.NewPreconditionError(fmt.Sprintf("database has no action %q", name))
	}
	if st.ID == "" {
		return nil, reconcile.NewPreconditionError("reboot requires a provisioned cluster")
	}
	if confirmed, _ := args["confirm"].(bool); !confirmed {
		return nil, reconcile.NewPreconditionError("reboot requires confirm=true")
	}

	if _, err := integrations.DoJSON(ctx, d.transport, "reboot", http.MethodPost,
		d.baseURL+"/v2/databases/"+st.ID+"/reboot", map[string]any{}, nil); err != nil {
		return nil, err
	}
	return map[string]any{"rebooted": true}, nil
}
