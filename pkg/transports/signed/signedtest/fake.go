// Package signedtest provides a scripted fake Transport for integration
// tests.
package signedtest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/cloudmoor/cloudmoor/pkg/transports/signed"
)

// Call records one request the fake received.
type Call struct {
	Method string
	URL    string
	Header http.Header
	Body   string
}

// Rule matches requests by method and URL substring and yields a canned
// response. Rules fire in order; a rule with Times > 0 is consumed after
// that many matches.
type Rule struct {
	Method   string
	URLPart  string
	Status   int
	Body     string
	Header   http.Header
	Times    int
	consumed int
}

// Fake is a scripted signed.Transport. Safe for concurrent use.
type Fake struct {
	mu    sync.Mutex
	rules []*Rule
	calls []Call
}

// New creates a fake transport with the given rules.
func New(rules ...*Rule) *Fake {
	return &Fake{rules: rules}
}

// Stub appends a rule.
func (f *Fake) Stub(rule *Rule) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule)
	return f
}

// Do implements signed.Transport.
func (f *Fake) Do(ctx context.Context, req *signed.Request) (*signed.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{
		Method: req.Method,
		URL:    req.URL,
		Header: req.Header,
		Body:   string(req.Body),
	})

	for _, r := range f.rules {
		if r.Method != "" && r.Method != req.Method {
			continue
		}
		if r.URLPart != "" && !strings.Contains(req.URL, r.URLPart) {
			continue
		}
		if r.Times > 0 && r.consumed >= r.Times {
			continue
		}
		r.consumed++
		status := r.Status
		if status == 0 {
			status = http.StatusOK
		}
		header := r.Header
		if header == nil {
			header = http.Header{}
		}
		return &signed.Response{
			StatusCode: status,
			Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
			Header:     header,
			Body:       []byte(r.Body),
		}, nil
	}

	return nil, fmt.Errorf("signedtest: no rule matches %s %s", req.Method, req.URL)
}

// Calls returns the recorded requests.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns recorded requests matching the method and URL substring.
func (f *Fake) CallsTo(method, urlPart string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if method != "" && c.Method != method {
			continue
		}
		if urlPart != "" && !strings.Contains(c.URL, urlPart) {
			continue
		}
		out = append(out, c)
	}
	return out
}
