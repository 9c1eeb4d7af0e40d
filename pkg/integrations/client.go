package integrations

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/cloudmoor/cloudmoor/pkg/transports/signed"
)

// DoJSON performs a JSON vendor call: in (if non-nil) is marshaled into the
// request body, and on a 2xx response the body (if any) is unmarshaled into
// out (if non-nil). Non-2xx responses come back as classified vendor errors
// with the envelope decoded.
func DoJSON(ctx context.Context, t signed.Transport, op, method, url string, in, out any) (*signed.Response, error) {
	req := &signed.Request{Method: method, URL: url, Header: http.Header{}}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode request body: %w", op, err)
		}
		req.Body = body
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := signed.DecodeError(op, resp); err != nil {
		return nil, err
	}

	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, fmt.Errorf("%s: failed to decode response body: %w", op, err)
		}
	}
	return resp, nil
}

// DoXML is DoJSON's counterpart for XML-speaking vendors. header may carry
// concurrency tokens (If-Match) and is optional.
func DoXML(ctx context.Context, t signed.Transport, op, method, url string, header http.Header, in, out any) (*signed.Response, error) {
	req := &signed.Request{Method: method, URL: url, Header: header}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if in != nil {
		body, err := xml.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode request body: %w", op, err)
		}
		req.Body = append([]byte(xml.Header), body...)
		req.Header.Set("Content-Type", "application/xml")
	}

	resp, err := t.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := signed.DecodeError(op, resp); err != nil {
		return nil, err
	}

	if out != nil && len(resp.Body) > 0 {
		if err := xml.Unmarshal(resp.Body, out); err != nil {
			return nil, fmt.Errorf("%s: failed to decode response body: %w", op, err)
		}
	}
	return resp, nil
}
