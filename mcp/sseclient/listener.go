package sseclient

import (
	"bufio"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/mcp"
	"github.com/effective-security/xlog"
)

// listen consumes the event stream of one session until it ends.
// Only the listener of the current generation may change the session state.
func (c *Client) listen(r *bufio.Reader, generation uint64) {
	logger.KV(xlog.DEBUG, "status", "listener_started", "generation", generation)

	var err error
	for {
		var line string
		line, err = readLine(r)
		if err != nil {
			break
		}
		if line == "" {
			continue
		}
		data, ok := eventData(line)
		if !ok || data == "" {
			continue
		}
		c.dispatch(data)
	}

	c.lock.Lock()
	current := c.generation == generation
	if current {
		c.open = false
		c.endpoint = ""
		c.failPendingLocked(errors.Wrap(err, "event stream terminated"))
	}
	c.lock.Unlock()

	if current {
		logger.KV(xlog.WARNING,
			"status", "listener_stopped",
			"generation", generation,
			"err", err.Error(),
		)
	} else {
		logger.KV(xlog.DEBUG, "status", "listener_stopped", "generation", generation)
	}
}

// dispatch delivers a single event payload to its waiting caller
func (c *Client) dispatch(data string) {
	resp, isResponse, err := mcp.ParseResponse([]byte(data))
	if err != nil {
		logger.KV(xlog.DEBUG, "status", "non_json_event", "data", data)
		return
	}
	if !isResponse {
		return
	}
	if !c.resolve(*resp.ID, resp) {
		logger.KV(xlog.DEBUG, "status", "unmatched_response", "id", *resp.ID)
		return
	}
	logger.KV(xlog.DEBUG, "status", "response_received", "id", *resp.ID)
}
