package proxy

import (
	"fmt"
	"net/http"
)

// Error represents a proxy-specific error with a code and description
type Error struct {
	Code        string
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProxyError creates a new Error with the given code and description
func NewProxyError(code, description string, cause error) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Cause:       cause,
	}
}

// Proxy Error Codes
const (
	// Configuration and Initialization Errors (E1000-E1999)
	ErrCodeListenerCreateFailed = "E1001"
	ErrCodeInvalidConfig        = "E1002"
	ErrCodeCollectorInitFailed  = "E1003"

	// Connection and Network Errors (E2000-E2999)
	ErrCodeDialFailed            = "E2001"
	ErrCodeSendFailed            = "E2002"
	ErrCodeConnectionClosed      = "E2003"
	ErrCodeUpstreamConnectFailed = "E2004"
	ErrCodeTunnelFailed          = "E2005"

	// HTTP Processing Errors (E4000-E4999)
	ErrCodeRequestReadFailed    = "E4001"
	ErrCodeMalformedRequestLine = "E4002"
	ErrCodeResponseWriteFailed  = "E4003"

	// Access Control Errors (E7000-E7999)
	ErrCodeBlocklistMatch = "E7001"

	// Internal and System Errors (E9900-E9999)
	ErrCodeInternalError = "E9901"
)

// ErrorDescriptions maps error codes to human-readable descriptions.
var ErrorDescriptions = map[string]string{
	// Configuration and Initialization Errors
	ErrCodeListenerCreateFailed: "Failed to create network listener",
	ErrCodeInvalidConfig:        "Invalid proxy configuration",
	ErrCodeCollectorInitFailed:  "Failed to initialize statistics collector",

	// Connection and Network Errors
	ErrCodeDialFailed:            "Failed to dial origin server",
	ErrCodeSendFailed:            "Failed to send request to origin server",
	ErrCodeConnectionClosed:      "Connection closed unexpectedly",
	ErrCodeUpstreamConnectFailed: "Failed to connect to upstream server",
	ErrCodeTunnelFailed:          "Tunnel establishment failed",

	// HTTP Processing Errors
	ErrCodeRequestReadFailed:    "Failed to read HTTP request",
	ErrCodeMalformedRequestLine: "Malformed HTTP request line",
	ErrCodeResponseWriteFailed:  "Failed to write HTTP response",

	// Access Control Errors
	ErrCodeBlocklistMatch: "Target matches blocklist entry",

	// Internal and System Errors
	ErrCodeInternalError: "Internal proxy error",
}

// NewConnectionError creates a connection-related error
func NewConnectionError(code string, cause error) *Error {
	return NewProxyError(code, GetErrorDescription(code), cause)
}

// NewParseError creates a request-parsing error
func NewParseError(code string, cause error) *Error {
	return NewProxyError(code, GetErrorDescription(code), cause)
}

// NewInternalError creates an internal error
func NewInternalError(code, description string, cause error) *Error {
	return NewProxyError(code, description, cause)
}

// GetErrorDescription returns the description for a given error code
func GetErrorDescription(code string) string {
	if desc, exists := ErrorDescriptions[code]; exists {
		return desc
	}
	return "Unknown error code"
}

// IsConnectionError checks if the error is connection-related
func IsConnectionError(err error) bool {
	if proxyErr, ok := err.(*Error); ok {
		return proxyErr.Code >= "E2000" && proxyErr.Code < "E3000"
	}
	return false
}

// IsParseError checks if the error is a request-parsing error
func IsParseError(err error) bool {
	if proxyErr, ok := err.(*Error); ok {
		return proxyErr.Code >= "E4000" && proxyErr.Code < "E5000"
	}
	return false
}

// badGatewayResponse builds a raw HTTP 502 Bad Gateway response for an
// error code. Sent to the client when an origin fetch fails.
func badGatewayResponse(errorCode string) []byte {
	description := GetErrorDescription(errorCode)
	htmlBody := fmt.Sprintf(`<html><head><title>502 Bad Gateway</title></head>`+
		`<body><h1>502 Bad Gateway</h1>`+
		`<p>The proxy failed to reach the origin server.</p>`+
		`<p>Error Code: %s</p><p>Description: %s</p></body></html>`, errorCode, description)

	resp := fmt.Sprintf("HTTP/1.1 502 %s\r\n", http.StatusText(http.StatusBadGateway))
	resp += "Content-Type: text/html; charset=utf-8\r\n"
	resp += fmt.Sprintf("Content-Length: %d\r\n", len(htmlBody))
	resp += fmt.Sprintf("X-Proxy-Error: %s\r\n", errorCode)
	resp += "\r\n"
	resp += htmlBody
	return []byte(resp)
}
