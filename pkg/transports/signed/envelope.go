package signed

import (
	"encoding/json"
	"encoding/xml"
	"strings"

	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
)

// jsonEnvelope is the JSON-family vendor error body.
type jsonEnvelope struct {
	Message string `json:"message"`
	Type    string `json:"__type"`
}

// xmlEnvelope is the XML-family vendor error body.
type xmlEnvelope struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// xmlErrorResponse handles vendors that nest <Error> under <ErrorResponse>.
type xmlErrorResponse struct {
	XMLName xml.Name    `xml:"ErrorResponse"`
	Error   xmlEnvelope `xml:"Error"`
}

// DecodeError turns a non-2xx vendor response into a classified error
// carrying the operation name, status code, and vendor message verbatim.
// The envelope dialect is sniffed from the body, since several vendors lie
// about content types.
func DecodeError(op string, resp *Response) error {
	if resp.OK() {
		return nil
	}

	code, message := decodeEnvelope(resp.Body)
	if message == "" {
		message = strings.TrimSpace(resp.Status)
	}
	return reconcile.NewVendorError(op, resp.StatusCode, code, message)
}

// decodeEnvelope extracts (vendorCode, message) from either envelope
// dialect, returning zero values when the body matches neither.
func decodeEnvelope(body []byte) (string, string) {
	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var env jsonEnvelope
		if err := json.Unmarshal(body, &env); err == nil {
			return env.Type, env.Message
		}
	case strings.HasPrefix(trimmed, "<"):
		var wrapped xmlErrorResponse
		if err := xml.Unmarshal(body, &wrapped); err == nil && (wrapped.Error.Code != "" || wrapped.Error.Message != "") {
			return wrapped.Error.Code, wrapped.Error.Message
		}
		var env xmlEnvelope
		if err := xml.Unmarshal(body, &env); err == nil {
			return env.Code, env.Message
		}
	}
	return "", ""
}
