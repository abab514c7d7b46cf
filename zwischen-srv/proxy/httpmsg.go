package proxy

import (
	"strings"
	"time"
)

// httpDateLayout matches the preferred HTTP-date format from RFC 7231.
const httpDateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// ExtractTarget returns the request-line target (the second
// whitespace-separated token of the first line). The target is taken
// verbatim; absolute-form URLs are not normalized.
func ExtractTarget(request string) (string, error) {
	line := request
	if idx := strings.Index(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	} else if idx := strings.Index(line, "\n"); idx >= 0 {
		line = line[:idx]
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", NewParseError(ErrCodeMalformedRequestLine, nil)
	}
	return fields[1], nil
}

// ExtractMethod returns the request method (the first token of the
// request line), or an empty string for an empty request.
func ExtractMethod(request string) string {
	fields := strings.Fields(request)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ExtractHost returns the value of the Host header with any trailing
// :port suffix stripped. When no Host header is present it falls back
// to "localhost" rather than failing.
func ExtractHost(request string) string {
	for _, line := range strings.Split(request, "\r\n") {
		if len(line) < 5 || !strings.EqualFold(line[:5], "Host:") {
			continue
		}
		host := strings.TrimSpace(line[5:])
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		return host
	}
	return "localhost"
}

// ExtractStatusCode returns the status code token from the first line
// of a raw HTTP response, or empty bytes when the response is empty or
// the status line is incomplete.
func ExtractStatusCode(response []byte) []byte {
	line := string(response)
	if idx := strings.Index(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return []byte{}
	}
	return []byte(fields[1])
}

// ExtractLastModified returns the Last-Modified header value from a raw
// HTTP response. A response without one is treated as modified now: the
// current time is returned in HTTP-date format, which sacrifices future
// revalidation savings for that entry but never stores an undefined
// marker.
func ExtractLastModified(response []byte) []byte {
	for _, line := range strings.Split(string(response), "\r\n") {
		if len(line) < 14 || !strings.EqualFold(line[:14], "Last-Modified:") {
			continue
		}
		return []byte(strings.TrimSpace(line[14:]))
	}
	return []byte(time.Now().UTC().Format(httpDateLayout))
}
