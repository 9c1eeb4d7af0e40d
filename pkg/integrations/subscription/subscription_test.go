package subscription

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudmoor/cloudmoor/pkg/integrations"
	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
	"github.com/cloudmoor/cloudmoor/pkg/transports/signed/signedtest"
)

func newSubscription(t *testing.T, fake *signedtest.Fake) *subscription {
	t.Helper()
	integration, err := New(integrations.Deps{
		Transport: fake,
		Logger:    zerolog.Nop(),
		BaseURL:   "https://events.vendor.test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s := integration.(*subscription)
	s.taskInterval = time.Millisecond
	return s
}

func testDef() reconcile.Definition {
	return reconcile.Definition{
		"name":     "order-events",
		"topic":    "orders",
		"endpoint": "https://app.example.com/hooks/orders",
	}
}

func TestCreateResolvesTask(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodPost, URLPart: "/v2/subscriptions", Status: 202,
			Body: `{"task":{"id":"t-1","status":"processing"}}`},
		&signedtest.Rule{Method: http.MethodGet, URLPart: "/v2/tasks/t-1", Times: 2,
			Body: `{"task":{"id":"t-1","status":"processing"}}`},
		&signedtest.Rule{Method: http.MethodGet, URLPart: "/v2/tasks/t-1",
			Body: `{"task":{"id":"t-1","status":"processing-completed","resource_id":"sub-9"}}`},
	)
	s := newSubscription(t, fake)

	st := &reconcile.State{}
	if err := s.Create(context.Background(), testDef(), st); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if st.ID != "sub-9" {
		t.Errorf("ID = %q, want %q", st.ID, "sub-9")
	}
	if st.Existing {
		t.Error("Existing = true for a freshly created subscription")
	}
	if got := len(fake.CallsTo(http.MethodGet, "/v2/tasks/t-1")); got != 3 {
		t.Errorf("got %d task polls, want 3", got)
	}
}

func TestCreateFailedTask(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodPost, Status: 202,
			Body: `{"task":{"id":"t-1","status":"processing"}}`},
		&signedtest.Rule{Method: http.MethodGet,
			Body: `{"task":{"id":"t-1","status":"processing-error","error":"topic does not exist"}}`},
	)
	s := newSubscription(t, fake)

	st := &reconcile.State{}
	err := s.Create(context.Background(), testDef(), st)
	if !reconcile.IsFatal(err) {
		t.Fatalf("error = %v, want fatal", err)
	}
	if st.ID != "" {
		t.Errorf("ID = %q after a failed create, want empty", st.ID)
	}
}

func TestCreateConflictAdopts(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodPost, Status: 409,
			Body: `{"message":"subscription name is taken","__type":"conflict"}`},
		&signedtest.Rule{Method: http.MethodGet, URLPart: "/v2/subscriptions",
			Body: `{"subscriptions":[{"id":"sub-3","name":"order-events","topic":"orders","status":"active"}]}`},
	)
	s := newSubscription(t, fake)

	st := &reconcile.State{}
	if err := s.Create(context.Background(), testDef(), st); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if st.ID != "sub-3" {
		t.Errorf("ID = %q, want %q", st.ID, "sub-3")
	}
	if !st.Existing {
		t.Error("Existing = false after adoption")
	}
}

func TestUpdateMakesNoVendorCalls(t *testing.T) {
	fake := signedtest.New()
	s := newSubscription(t, fake)

	st := &reconcile.State{ID: "sub-9", Status: "active"}
	if err := s.Update(context.Background(), testDef(), st); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got := len(fake.Calls()); got != 0 {
		t.Errorf("got %d vendor calls, want 0", got)
	}
	if st.ID != "sub-9" || st.Status != "active" {
		t.Errorf("state mutated: %+v", st)
	}
	if st.Attrs["drift"] != "unapplied" {
		t.Errorf("Attrs[drift] = %q, want unapplied", st.Attrs["drift"])
	}
}

func TestDeleteToleratesGone(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodDelete, Status: 404,
			Body: `{"message":"subscription not found","__type":"not_found"}`},
	)
	s := newSubscription(t, fake)

	st := &reconcile.State{ID: "sub-9"}
	if err := s.Delete(context.Background(), st); err != nil {
		t.Fatalf("Delete() on a vanished subscription error: %v", err)
	}
	if st.ID != "" {
		t.Errorf("ID = %q, want cleared", st.ID)
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name      string
		status    string
		ready     bool
		wantFatal bool
	}{
		{"configuring", "configuring", false, false},
		{"active", "active", true, false},
		{"errored", "error", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := signedtest.New(
				&signedtest.Rule{Method: http.MethodGet,
					Body: `{"subscription":{"id":"sub-9","status":"` + tt.status + `"}}`},
			)
			s := newSubscription(t, fake)

			ready, err := s.CheckReadiness(context.Background(), testDef(), &reconcile.State{ID: "sub-9"})
			if tt.wantFatal {
				if !reconcile.IsFatal(err) {
					t.Fatalf("error = %v, want fatal", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckReadiness() error: %v", err)
			}
			if ready != tt.ready {
				t.Errorf("ready = %v, want %v", ready, tt.ready)
			}
		})
	}
}
