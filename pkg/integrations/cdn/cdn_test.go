package cdn

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudmoor/cloudmoor/pkg/integrations"
	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
	"github.com/cloudmoor/cloudmoor/pkg/transports/signed/signedtest"
)

func distXML(id, status string, enabled bool) string {
	enabledStr := "false"
	if enabled {
		enabledStr = "true"
	}
	return `<Distribution>` +
		`<Id>` + id + `</Id>` +
		`<ARN>arn:cdn::distribution/` + id + `</ARN>` +
		`<Status>` + status + `</Status>` +
		`<DomainName>` + id + `.cdn.test</DomainName>` +
		`<DistributionConfig>` +
		`<CallerReference>site</CallerReference>` +
		`<Enabled>` + enabledStr + `</Enabled>` +
		`<Origins><Quantity>1</Quantity><Items><Origin><Id>origin-0</Id><DomainName>app.example.com</DomainName></Origin></Items></Origins>` +
		`</DistributionConfig>` +
		`</Distribution>`
}

func etag(v string) http.Header {
	h := http.Header{}
	h.Set("ETag", `"`+v+`"`)
	return h
}

func newCDN(t *testing.T, fake *signedtest.Fake) *cdn {
	t.Helper()
	integration, err := New(integrations.Deps{
		Transport: fake,
		Logger:    zerolog.Nop(),
		BaseURL:   "https://cdn.vendor.test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	c := integration.(*cdn)
	c.pollInterval = time.Millisecond
	c.maxPolls = 5
	c.taskInterval = time.Millisecond
	return c
}

func testDef() reconcile.Definition {
	return reconcile.Definition{
		"name":    "site",
		"origins": []any{map[string]any{"domain": "app.example.com"}},
	}
}

func TestCreateFresh(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodPost, URLPart: "/distribution",
			Status: 201, Body: distXML("d-1", "InProgress", true), Header: etag("etag-a")},
	)
	c := newCDN(t, fake)

	st := &reconcile.State{}
	if err := c.Create(context.Background(), testDef(), st); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if st.ID != "d-1" {
		t.Errorf("ID = %q, want %q", st.ID, "d-1")
	}
	if st.Token != "etag-a" {
		t.Errorf("Token = %q, want %q", st.Token, "etag-a")
	}
	if st.Existing {
		t.Error("Existing = true for a freshly created distribution")
	}
	if got := st.Attr("domain"); got != "d-1.cdn.test" {
		t.Errorf("domain attr = %q", got)
	}

	posts := fake.CallsTo(http.MethodPost, "/distribution")
	if len(posts) != 1 {
		t.Fatalf("got %d create calls, want 1", len(posts))
	}
	if !strings.Contains(posts[0].Body, "<CallerReference>site</CallerReference>") {
		t.Errorf("create body missing caller reference: %s", posts[0].Body)
	}
}

func TestCreateConflictAdoptsByReference(t *testing.T) {
	listBody := `<DistributionList><Items><DistributionSummary>` +
		`<Id>d-9</Id><ARN>arn:cdn::distribution/d-9</ARN><Status>Deployed</Status>` +
		`<DomainName>d-9.cdn.test</DomainName><CallerReference>site</CallerReference>` +
		`</DistributionSummary></Items></DistributionList>`
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodPost, Status: 409,
			Body: `<ErrorResponse><Error><Code>DistributionAlreadyExists</Code><Message>The caller reference is already in use</Message></Error></ErrorResponse>`},
		&signedtest.Rule{Method: http.MethodGet, URLPart: "/distribution", Body: listBody},
	)
	c := newCDN(t, fake)

	st := &reconcile.State{}
	if err := c.Create(context.Background(), testDef(), st); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if st.ID != "d-9" {
		t.Errorf("ID = %q, want %q", st.ID, "d-9")
	}
	if !st.Existing {
		t.Error("Existing = false after adoption")
	}
	if got := len(fake.CallsTo(http.MethodPost, "")); got != 1 {
		t.Errorf("got %d create attempts, want exactly 1", got)
	}
}

func TestUpdateUsesFreshToken(t *testing.T) {
	cfgBody := `<DistributionConfig><CallerReference>site</CallerReference><Enabled>true</Enabled>` +
		`<Origins><Quantity>1</Quantity><Items><Origin><Id>origin-0</Id><DomainName>app.example.com</DomainName></Origin></Items></Origins>` +
		`</DistributionConfig>`
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodGet, URLPart: "/config", Body: cfgBody, Header: etag("etag-1")},
		&signedtest.Rule{Method: http.MethodPut, URLPart: "/config",
			Body: distXML("d-1", "InProgress", true), Header: etag("etag-2")},
	)
	c := newCDN(t, fake)

	st := &reconcile.State{ID: "d-1", Token: "stale-token"}
	if err := c.Update(context.Background(), testDef(), st); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	puts := fake.CallsTo(http.MethodPut, "/config")
	if len(puts) != 1 {
		t.Fatalf("got %d config writes, want 1", len(puts))
	}
	// The write must carry the token from the read it just performed,
	// not whatever state happened to remember.
	if got := puts[0].Header.Get("If-Match"); got != "etag-1" {
		t.Errorf("If-Match = %q, want %q", got, "etag-1")
	}
	if st.Token != "etag-2" {
		t.Errorf("Token after update = %q, want %q", st.Token, "etag-2")
	}
}

func TestDeleteSequence(t *testing.T) {
	fake := signedtest.New(
		// Initial fetch: enabled and deployed.
		&signedtest.Rule{Method: http.MethodGet, Times: 1,
			Body: distXML("d-1", "Deployed", true), Header: etag("etag-a")},
		&signedtest.Rule{Method: http.MethodPut, URLPart: "/config", Status: 200},
		// Deployment wait: one in-progress poll, then stable.
		&signedtest.Rule{Method: http.MethodGet, Times: 1,
			Body: distXML("d-1", "InProgress", false), Header: etag("etag-x")},
		&signedtest.Rule{Method: http.MethodGet, Times: 1,
			Body: distXML("d-1", "Deployed", false), Header: etag("etag-x")},
		// Pre-delete re-fetch: the fresh token.
		&signedtest.Rule{Method: http.MethodGet, Times: 1,
			Body: distXML("d-1", "Deployed", false), Header: etag("etag-b")},
		&signedtest.Rule{Method: http.MethodDelete, Status: 204},
	)
	c := newCDN(t, fake)

	st := &reconcile.State{ID: "d-1", Token: "etag-a"}
	if err := c.Delete(context.Background(), st); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	disables := fake.CallsTo(http.MethodPut, "/config")
	if len(disables) != 1 {
		t.Fatalf("got %d disable calls, want 1", len(disables))
	}
	if got := disables[0].Header.Get("If-Match"); got != "etag-a" {
		t.Errorf("disable If-Match = %q, want %q", got, "etag-a")
	}
	if !strings.Contains(disables[0].Body, "<Enabled>false</Enabled>") {
		t.Errorf("disable body did not flip Enabled: %s", disables[0].Body)
	}

	deletes := fake.CallsTo(http.MethodDelete, "")
	if len(deletes) != 1 {
		t.Fatalf("got %d delete calls, want 1", len(deletes))
	}
	// The delete token must postdate the deployment wait; reusing etag-a
	// would be rejected by the vendor.
	if got := deletes[0].Header.Get("If-Match"); got != "etag-b" {
		t.Errorf("delete If-Match = %q, want %q", got, "etag-b")
	}

	if st.ID != "" || st.Token != "" {
		t.Errorf("identity not cleared: ID=%q Token=%q", st.ID, st.Token)
	}
}

func TestDeleteSkipsAdoptedDistribution(t *testing.T) {
	fake := signedtest.New()
	c := newCDN(t, fake)

	st := &reconcile.State{ID: "d-9", Existing: true}
	if err := c.Delete(context.Background(), st); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if got := len(fake.Calls()); got != 0 {
		t.Errorf("got %d vendor calls for an adopted distribution, want 0", got)
	}
	if st.ID != "" {
		t.Errorf("ID = %q, want cleared", st.ID)
	}
	if !st.Existing {
		t.Error("Existing flag lost during teardown skip")
	}
}

func TestCheckReadiness(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodGet,
			Body: distXML("d-1", "Deployed", true), Header: etag("etag-a")},
	)
	c := newCDN(t, fake)

	st := &reconcile.State{ID: "d-1"}
	ready, err := c.CheckReadiness(context.Background(), testDef(), st)
	if err != nil {
		t.Fatalf("CheckReadiness() error: %v", err)
	}
	if !ready {
		t.Error("ready = false for a deployed distribution")
	}
	if st.Status != "Deployed" {
		t.Errorf("Status = %q, want %q", st.Status, "Deployed")
	}
}

func TestCreateInvalidationAction(t *testing.T) {
	fake := signedtest.New(
		&signedtest.Rule{Method: http.MethodPost, URLPart: "/invalidation",
			Body: `<Invalidation><Id>inv-1</Id><Status>InProgress</Status></Invalidation>`},
		&signedtest.Rule{Method: http.MethodGet, URLPart: "/invalidation/inv-1", Times: 1,
			Body: `<Invalidation><Id>inv-1</Id><Status>InProgress</Status></Invalidation>`},
		&signedtest.Rule{Method: http.MethodGet, URLPart: "/invalidation/inv-1",
			Body: `<Invalidation><Id>inv-1</Id><Status>Completed</Status></Invalidation>`},
	)
	c := newCDN(t, fake)

	st := &reconcile.State{ID: "d-1"}
	out, err := c.Action(context.Background(), "create-invalidation", nil, testDef(), st)
	if err != nil {
		t.Fatalf("Action() error: %v", err)
	}

	if got := out["invalidation_id"]; got != "inv-1" {
		t.Errorf("invalidation_id = %v, want %q", got, "inv-1")
	}
	paths, _ := out["paths"].([]string)
	if len(paths) != 1 || paths[0] != "/*" {
		t.Errorf("paths = %v, want default [/*]", paths)
	}
	posts := fake.CallsTo(http.MethodPost, "/invalidation")
	if len(posts) != 1 {
		t.Fatalf("got %d invalidation submissions, want 1", len(posts))
	}
	if !strings.Contains(posts[0].Body, "<Path>/*</Path>") {
		t.Errorf("invalidation body missing path: %s", posts[0].Body)
	}
	if got := len(fake.CallsTo(http.MethodGet, "/invalidation/inv-1")); got != 2 {
		t.Errorf("got %d status polls, want 2", got)
	}
}

func TestUnknownAction(t *testing.T) {
	c := newCDN(t, signedtest.New())
	_, err := c.Action(context.Background(), "warm-cache", nil, testDef(), &reconcile.State{ID: "d-1"})
	if !reconcile.IsPrecondition(err) {
		t.Errorf("unknown action error = %v, want precondition", err)
	}
}

func TestConfigFromDefinitionValidation(t *testing.T) {
	tests := []struct {
		name string
		def  reconcile.Definition
	}{
		{"missing name", reconcile.Definition{"origins": []any{map[string]any{"domain": "a"}}}},
		{"no origins", reconcile.Definition{"name": "site"}},
		{"origin without domain", reconcile.Definition{"name": "site", "origins": []any{map[string]any{"id": "x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := configFromDefinition(tt.def); !reconcile.IsPrecondition(err) {
				t.Errorf("configFromDefinition() error = %v, want precondition", err)
			}
		})
	}
}
