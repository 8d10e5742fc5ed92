package sigv4

import (
	"encoding/xml"
	"net/http"
	"strings"
)

// ErrorResponse is the XML error body S3-compatible services return.
type ErrorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId"`
}

// ParseError decodes an error body. When the body is empty or not XML the
// code is derived from the HTTP status.
func ParseError(status int, body []byte) ErrorResponse {
	var er ErrorResponse
	if len(body) > 0 && xml.Unmarshal(body, &er) == nil && er.Code != "" {
		return er
	}

	er = ErrorResponse{Code: codeForStatus(status), Message: http.StatusText(status)}
	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "<") {
		er.Message = text
	}

	return er
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusMovedPermanently:
		return "PermanentRedirect"
	case http.StatusBadRequest:
		return "BadRequest"
	case http.StatusForbidden:
		return "AccessDenied"
	case http.StatusNotFound:
		return "NotFound"
	case http.StatusMethodNotAllowed:
		return "MethodNotAllowed"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusPreconditionFailed:
		return "PreconditionFailed"
	case http.StatusTooManyRequests:
		return "SlowDown"
	case http.StatusServiceUnavailable:
		return "ServiceUnavailable"
	default:
		if status >= http.StatusInternalServerError {
			return "InternalError"
		}

		return http.StatusText(status)
	}
}
