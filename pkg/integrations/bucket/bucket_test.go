package bucket

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cloudmoor/cloudmoor/pkg/integrations"
	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
	"github.com/cloudmoor/cloudmoor/pkg/transports/signed/signedtest"
)

const conflictBody = `<Error><Code>BucketAlreadyExists</Code><Message>The requested bucket name is not available</Message></Error>`

func newBucket(t *testing.T, fake *signedtest.Fake) reconcile.Integration {
	t.Helper()
	b, err := New(integrations.Deps{
		Transport: fake,
		Logger:    zerolog.Nop(),
		BaseURL:   "https://storage.vendor.test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return b
}

func TestCreateFresh(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodPut, URLPart: "/photos", Status: 200},
	)
	b := newBucket(t, fake)

	def := reconcile.Definition{"name": "photos", "region": "eu-west-1", "acl": "private"}
	st := &reconcile.State{}
	if err := b.Create(context.Background(), def, st); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if st.ID != "photos" {
		t.Errorf("ID = %q, want %q", st.ID, "photos")
	}
	if st.ARN != "arn:storage:bucket:photos" {
		t.Errorf("ARN = %q", st.ARN)
	}
	if st.Existing {
		t.Error("Existing = true for a freshly created bucket")
	}
	if got := st.Attr("region"); got != "eu-west-1" {
		t.Errorf("region attr = %q, want %q", got, "eu-west-1")
	}

	puts := fake.CallsTo(http.MethodPut, "/photos")
	if len(puts) != 1 {
		t.Fatalf("got %d PUT calls, want 1", len(puts))
	}
	if got := puts[0].Header.Get("X-Region"); got != "eu-west-1" {
		t.Errorf("X-Region = %q", got)
	}
	if got := puts[0].Header.Get("X-Acl"); got != "private" {
		t.Errorf("X-Acl = %q", got)
	}
}

func TestCreateConflictAdopts(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodPut, Status: 409, Body: conflictBody},
		&signedtest.Rule{Method: http.MethodHead, Status: 200},
	)
	b := newBucket(t, fake)

	st := &reconcile.State{}
	if err := b.Create(context.Background(), reconcile.Definition{"name": "photos"}, st); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if !st.Existing {
		t.Error("Existing = false after adopting a conflicting bucket")
	}
	if st.ID != "photos" {
		t.Errorf("ID = %q, want %q", st.ID, "photos")
	}
	if got := len(fake.CallsTo(http.MethodPut, "")); got != 1 {
		t.Errorf("got %d create attempts, want exactly 1", got)
	}
}

func TestCreateConflictLookupForbidden(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodPut, Status: 409, Body: conflictBody},
		&signedtest.Rule{Method: http.MethodHead, Status: 403,
			Body: `<Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`},
	)
	b := newBucket(t, fake)

	st := &reconcile.State{}
	if err := b.Create(context.Background(), reconcile.Definition{"name": "photos"}, st); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	// The bucket belongs to another account: it must still be marked
	// existing so it is never torn down from here.
	if !st.Existing {
		t.Error("Existing = false after a forbidden lookup")
	}
}

func TestUpdateACL(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodPut, URLPart: "?acl", Status: 200},
	)
	b := newBucket(t, fake)

	st := &reconcile.State{ID: "photos"}
	if err := b.Update(context.Background(), reconcile.Definition{"name": "photos", "acl": "public-read"}, st); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	calls := fake.CallsTo(http.MethodPut, "?acl")
	if len(calls) != 1 {
		t.Fatalf("got %d ACL calls, want 1", len(calls))
	}
	if got := calls[0].Header.Get("X-Acl"); got != "public-read" {
		t.Errorf("X-Acl = %q", got)
	}
}

func TestUpdateWithoutACLMakesNoCalls(t *testing.T) {
	fake := signedtest.New()
	b := newBucket(t, fake)

	st := &reconcile.State{ID: "photos"}
	if err := b.Update(context.Background(), reconcile.Definition{"name": "photos"}, st); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got := len(fake.Calls()); got != 0 {
		t.Errorf("got %d vendor calls, want 0", got)
	}
}

func TestDeleteToleratesGone(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodDelete, Status: 404,
			Body: `<Error><Code>NoSuchBucket</Code><Message>The specified bucket does not exist</Message></Error>`},
	)
	b := newBucket(t, fake)

	st := &reconcile.State{ID: "photos", ARN: "arn:storage:bucket:photos"}
	if err := b.Delete(context.Background(), st); err != nil {
		t.Fatalf("Delete() on a vanished bucket error: %v", err)
	}
	if st.ID != "" || st.ARN != "" {
		t.Errorf("identity not cleared: ID=%q ARN=%q", st.ID, st.ARN)
	}
}

func TestCheckReadiness(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodHead, Status: 200},
	)
	b := newBucket(t, fake)

	st := &reconcile.State{ID: "photos"}
	ready, err := b.CheckReadiness(context.Background(), reconcile.Definition{"name": "photos"}, st)
	if err != nil {
		t.Fatalf("CheckReadiness() error: %v", err)
	}
	if !ready {
		t.Error("ready = false for a visible bucket")
	}
	if st.Status != "available" {
		t.Errorf("Status = %q, want %q", st.Status, "available")
	}
}

func TestCheckReadinessWithoutID(t *testing.T) {
	fake := signedtest.New()
	b := newBucket(t, fake)

	ready, err := b.CheckReadiness(context.Background(), reconcile.Definition{}, &reconcile.State{})
	if err != nil {
		t.Fatalf("CheckReadiness() error: %v", err)
	}
	if ready {
		t.Error("ready = true without an id")
	}
	if got := len(fake.Calls()); got != 0 {
		t.Errorf("got %d vendor calls, want 0", got)
	}
}
