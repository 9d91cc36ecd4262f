package sseclient

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const dataPrefix = "data:"

// NormalizeSessionID returns the session id in canonical form.
// Some servers strip the dashes from UUIDs in URLs, a 32 character
// hex id is reformatted into 8-4-4-4-12 form, anything else is
// returned verbatim.
func NormalizeSessionID(raw string) string {
	if len(raw) != 32 || strings.Contains(raw, "-") {
		return raw
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return raw
	}
	return id.String()
}

// ParseEndpoint extracts the message endpoint and session id
// from the payload of an endpoint event.
func ParseEndpoint(data string) (endpoint, sessionID string) {
	endpoint = strings.TrimSpace(data)
	_, after, found := strings.Cut(endpoint, "session_id=")
	if !found {
		return endpoint, ""
	}
	raw, _, _ := strings.Cut(after, "&")
	return endpoint, NormalizeSessionID(raw)
}

// readLine returns the next line without the line terminator
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return string(bytes.TrimSpace(line)), nil
		}
		return "", err
	}
	return string(bytes.TrimSpace(line)), nil
}

// eventData returns the payload of a `data:` line
func eventData(line string) (string, bool) {
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(dataPrefix):]), true
}

// discoverEndpoint reads the stream until an event carries a path with marker
func discoverEndpoint(r *bufio.Reader, marker string) (endpoint, sessionID string, err error) {
	for {
		line, rerr := readLine(r)
		if rerr != nil {
			if rerr == io.EOF {
				return "", "", errors.New("no endpoint discovered")
			}
			return "", "", errors.Wrap(rerr, "no endpoint discovered")
		}
		data, ok := eventData(line)
		if !ok || !strings.Contains(data, marker) {
			continue
		}
		endpoint, sessionID = ParseEndpoint(data)
		return endpoint, sessionID, nil
	}
}
