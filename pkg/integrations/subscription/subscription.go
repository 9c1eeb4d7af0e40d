// Package subscription integrates event-broker subscriptions. Creation is
// asynchronous: the vendor returns a task handle that resolves to the
// subscription id once provisioning finishes. The vendor API has no update
// call at all; see Update for how that is surfaced rather than masked.
package subscription

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
const Kind = "subscription"

type subscription struct {
	transport    signed.Transport
	baseURL      string
	logger       zerolog.Logger
	probe        *reconcile.Probe
	taskInterval time.Duration
}

// New constructs the subscription integration.
func New(deps integrations.Deps) (reconcile.Integration, error) {
	s := &subscription{
		transport:    deps.Transport,
		baseURL:      deps.BaseURL,
		logger:       deps.Logger.With().Str("integration", Kind).Logger(),
		taskInterval: 5 * time.Second,
	}
	probe, err := reconcile.NewProbe(s.fetchStatus,
		`status == "active"`, `status == "error"`)
	if err != nil {
		return nil, err
	}
	s.probe = probe
	return s, nil
}

func (s *subscription) Kind() string { return Kind }

func (s *subscription) Schedule() reconcile.Schedule {
	return reconcile.Schedule{Period: 15 * time.Second, InitialDelay: 10 * time.Second, Attempts: 20}
}

type subscriptionDoc struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Topic  string `json:"topic"`
	Status string `json:"status"`
}

type taskDoc struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ResourceID string `json:"resource_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

type createEnvelope struct {
	Task taskDoc `json:"task"`
}

type subscriptionEnvelope struct {
	Subscription subscriptionDoc `json:"subscription"`
}

type listEnvelope struct {
	Subscriptions []subscriptionDoc `json:"subscriptions"`
}

func (s *subscription) Create(ctx context.Context, def reconcile.Definition, st *reconcile.State) error {
	name := def.String("name")
	if name == "" {
		return reconcile.NewPreconditionError("subscription definition requires a name")
	}
	if def.String("topic") == "" {
		return reconcile.NewPreconditionError("subscription definition requires a topic")
	}

	payload := map[string]any{
		"name":     name,
		"topic":    def.String("topic"),
		"endpoint": def.String("endpoint"),
	}

	res, adopted, err := reconcile.Adopt(ctx, reconcile.AdoptSpec{
		Name:   name,
		Logger: s.logger,
		Create: func(ctx context.Context) (*reconcile.Resource, error) {
			var env createEnvelope
			if _, err := integrations.DoJSON(ctx, s.transport, "create", http.MethodPost,
				s.baseURL+"/v2/subscriptions", payload, &env); err != nil {
				return nil, err
			}
			// The create call only yields a task handle; block until
			// the task resolves to the subscription id. The handle is
			// deliberately not persisted: it dies with this call.
			id, err := s.waitTask(ctx, env.Task.ID)
			if err != nil {
				return nil, err
			}
			return &reconcile.Resource{ID: id, Status: "configuring"}, nil
		},
		LookupByName: func(ctx context.Context) (*reconcile.Resource, error) {
			return s.lookupByName(ctx, name)
		},
	})
	if err != nil {
		return err
	}
	reconcile.PopulateFromAdoption(st, res, adopted)
	return nil
}

// waitTask polls the vendor task until terminal, mapping vendor statuses
// onto the waiter's contract.
func (s *subscription) waitTask(ctx context.Context, handle string) (string, error) {
	waiter := &reconcile.TaskWaiter{
		Interval: s.taskInterval,
		Fetch: func(ctx context.Context, handle string) (*reconcile.Task, error) {
			var env struct {
				Task taskDoc `json:"task"`
			}
			if _, err := integrations.DoJSON(ctx, s.transport, "create", http.MethodGet,
				s.baseURL+"/v2/tasks/"+handle, nil, &env); err != nil {
				return nil, err
			}
			task := &reconcile.Task{Status: env.Task.Status, Detail: env.Task.Error}
			switch env.Task.Status {
			case "processing-completed":
				task.Status = reconcile.TaskStatusCompleted
				task.ResultID = env.Task.ResourceID
			case "processing-error":
				task.Status = reconcile.TaskStatusError
			}
			return task, nil
		},
	}
	return waiter.Wait(ctx, handle)
}

func (s *subscription) lookupByName(ctx context.Context, name string) (*reconcile.Resource, error) {
	var env listEnvelope
	if _, err := integrations.DoJSON(ctx, s.transport, "lookup", http.MethodGet,
		s.baseURL+"/v2/subscriptions", nil, &env); err != nil {
		return nil, err
	}
	for _, doc := range env.Subscriptions {
		if doc.Name == name {
			return &reconcile.Resource{ID: doc.ID, Status: doc.Status}, nil
		}
	}
	return nil, reconcile.NewVendorError("lookup", 404, "not_found",
		fmt.Sprintf("no subscription named %q", name))
}

// Update is not supported by this vendor: there is no modify endpoint, only
// delete-and-recreate. Returning the state untouched would silently mask
// drift between the definition and the actual resource, so the drift is
// logged loudly instead; recreating here would be a destructive operation
// the caller did not request.
func (s *subscription) Update(ctx context.Context, def reconcile.Definition, st *reconcile.State) error {
	s.logger.Warn().
		Str("id", st.ID).
		Str("name", def.String("name")).
		Msg("Vendor API cannot update subscriptions; definition changes are NOT applied (delete and recreate to converge)")
	if st.Attrs == nil {
		st.Attrs = make(map[string]string)
	}
	st.Attrs["drift"] = "unapplied"
	return nil
}

func (s *subscription) Delete(ctx context.Context, st *reconcile.State) error {
	if st.ID == "" {
		return reconcile.NewPreconditionError("delete requires an id in state")
	}
	if _, err := integrations.DoJSON(ctx, s.transport, "delete", http.MethodDelete,
		s.baseURL+"/v2/subscriptions/"+st.ID, nil, nil); err != nil {
		if !reconcile.IsNotFound(err) {
			return err
		}
	}
	st.ClearIdentity()
	return nil
}

func (s *subscription) CheckReadiness(ctx context.Context, def reconcile.Definition, st *reconcile.State) (bool, error) {
	return s.probe.Check(ctx, st)
}

func (s *subscription) fetchStatus(ctx context.Context, st *reconcile.State) (map[string]any, error) {
	var env subscriptionEnvelope
	if _, err := integrations.DoJSON(ctx, s.transport, "check-readiness", http.MethodGet,
		s.baseURL+"/v2/subscriptions/"+st.ID, nil, &env); err != nil {
		return nil, err
	}
	return map[string]any{"status": env.Subscription.Status}, nil
}

func (s *subscription) Action(ctx context.Context, name string, args map[string]any, def reconcile.Definition, st *reconcile.State) (map[string]any, error) {
	return nil, reconcile.NewPreconditionError(fmt.Sprintf("subscription has no action %q", name))
}
