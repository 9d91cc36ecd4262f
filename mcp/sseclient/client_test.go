package sseclient_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/cwagent/mcp"
	"github.com/effective-security/cwagent/mcp/sseclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawSessionID = "a1b2c3d4e5f67890abcdef1234567890"

type rpcRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

// fakeServer is a minimal MCP tool server speaking the SSE transport
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	events chan string
	drop   chan struct{}
	quit   chan struct{}

	streams    atomic.Int32
	handshakes atomic.Int32
	postStatus atomic.Int32

	lock     sync.Mutex
	requests []rpcRequest

	// onCall handles tools/call and tools/list, by default it echoes the arguments
	onCall func(s *fakeServer, req rpcRequest)
}

func newFakeServer(t *testing.T) *fakeServer {
	s := &fakeServer{
		t:      t,
		events: make(chan string, 256),
		drop:   make(chan struct{}),
		quit:   make(chan struct{}),
		onCall: func(s *fakeServer, req rpcRequest) {
			s.respondText(req.ID, req.Params.Arguments)
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handleStream)
	mux.HandleFunc("/messages/", s.handleMessage)
	s.srv = httptest.NewServer(mux)

	t.Cleanup(func() {
		close(s.quit)
		s.srv.Close()
	})
	return s
}

func (s *fakeServer) handleStream(w http.ResponseWriter, r *http.Request) {
	s.streams.Add(1)
	flusher := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: endpoint\ndata: /messages/?session_id=%s\n\n", rawSessionID)
	flusher.Flush()

	for {
		select {
		case ev := <-s.events:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", ev)
			flusher.Flush()
		case <-s.drop:
			return
		case <-s.quit:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *fakeServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Method == "initialize" {
		s.handshakes.Add(1)
		w.WriteHeader(http.StatusAccepted)
		s.respond(req.ID, map[string]any{
			"protocolVersion": mcp.ProtocolVersion,
			"serverInfo":      map[string]any{"name": "fake", "version": "0.1"},
			"capabilities":    map[string]any{},
		})
		return
	}

	s.lock.Lock()
	s.requests = append(s.requests, req)
	s.lock.Unlock()

	if status := s.postStatus.Load(); status != 0 {
		http.Error(w, "upstream unavailable", int(status))
		return
	}
	w.WriteHeader(http.StatusAccepted)
	s.onCall(s, req)
}

func (s *fakeServer) push(v any) {
	js, err := json.Marshal(v)
	require.NoError(s.t, err)
	s.events <- string(js)
}

func (s *fakeServer) respond(id int64, result any) {
	s.push(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (s *fakeServer) respondText(id int64, v any) {
	text, err := json.Marshal(v)
	require.NoError(s.t, err)
	s.respond(id, map[string]any{
		"content": []any{map[string]any{"type": "text", "text": string(text)}},
	})
}

func (s *fakeServer) respondError(id int64, code int, message string) {
	s.push(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

func (s *fakeServer) recorded() []rpcRequest {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]rpcRequest(nil), s.requests...)
}

func newClient(t *testing.T, url string, responseTimeout time.Duration) *sseclient.Client {
	c := sseclient.New(sseclient.Config{
		BaseURL:            url,
		RequestTimeout:     2 * time.Second,
		ResponseTimeout:    responseTimeout,
		HandshakeTimeout:   2 * time.Second,
		ListenerStartDelay: time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNormalizeSessionID(t *testing.T) {
	tcases := []struct {
		raw string
		exp string
	}{
		{rawSessionID, "a1b2c3d4-e5f6-7890-abcd-ef1234567890"},
		{"a1b2c3d4-e5f6-7890-abcd-ef1234567890", "a1b2c3d4-e5f6-7890-abcd-ef1234567890"},
		{"short", "short"},
		{"zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"},
		{"", ""},
	}
	for _, tc := range tcases {
		assert.Equal(t, tc.exp, sseclient.NormalizeSessionID(tc.raw), tc.raw)
	}
}

func TestParseEndpoint(t *testing.T) {
	ep, sid := sseclient.ParseEndpoint(" /messages/?session_id=" + rawSessionID + "&x=1 ")
	assert.Equal(t, "/messages/?session_id="+rawSessionID+"&x=1", ep)
	assert.Equal(t, "a1b2c3d4-e5f6-7890-abcd-ef1234567890", sid)

	ep, sid = sseclient.ParseEndpoint("/messages/")
	assert.Equal(t, "/messages/", ep)
	assert.Empty(t, sid)
}

func TestConnect(t *testing.T) {
	s := newFakeServer(t)
	c := newClient(t, s.srv.URL+"/", time.Second)
	ctx := context.Background()

	assert.False(t, c.IsConnected())
	assert.Equal(t, s.srv.URL, c.BaseURL())

	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
	assert.Equal(t, "a1b2c3d4-e5f6-7890-abcd-ef1234567890", c.SessionID())
	assert.Equal(t, "/messages/?session_id="+rawSessionID, c.Endpoint())

	// already connected
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, int32(1), s.streams.Load())
	assert.Equal(t, int32(1), s.handshakes.Load())

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
	assert.Empty(t, c.SessionID())
}

func TestConcurrentConnect(t *testing.T) {
	s := newFakeServer(t)
	c := newClient(t, s.srv.URL, time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Connect(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), s.streams.Load())
	assert.Equal(t, int32(1), s.handshakes.Load())
}

func TestConnectFailures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := newClient(t, srv.URL, time.Second)
		err := c.Connect(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, mcp.ErrConnect))
		assert.Contains(t, err.Error(), "503 - maintenance")
		assert.False(t, c.IsConnected())
	})

	t.Run("no endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: hello\n\n: ping\n\n")
		}))
		defer srv.Close()

		c := newClient(t, srv.URL, time.Second)
		err := c.Connect(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, mcp.ErrConnect))
		assert.Contains(t, err.Error(), "no endpoint discovered")
	})

	t.Run("refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := newClient(t, url, time.Second)
		err := c.Connect(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, mcp.ErrConnect))
		assert.True(t, mcp.IsRetriable(err))
	})
}

func TestInvoke(t *testing.T) {
	s := newFakeServer(t)
	s.onCall = func(s *fakeServer, req rpcRequest) {
		if req.Params.Name == "track_shipment" && req.Params.Arguments["identifier"] == "SHP-1" {
			s.respondText(req.ID, map[string]any{"status": "in_transit"})
			return
		}
		s.respondError(req.ID, -32000, "not found")
	}
	c := newClient(t, s.srv.URL, time.Second)
	ctx := context.Background()

	// connects lazily
	res, err := c.Invoke(ctx, "track_shipment", map[string]any{"identifier": "SHP-1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "in_transit"}, res)

	tr, err := c.CallTool(ctx, "track_shipment", map[string]any{"identifier": "SHP-1"})
	require.NoError(t, err)
	assert.Equal(t, mcp.ShapeContentJSON, tr.Shape)

	_, err = c.Invoke(ctx, "track_shipment", map[string]any{"identifier": "SHP-404"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrTool))
	assert.False(t, mcp.IsRetriable(err))
	var te *mcp.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, -32000, te.Code)
	assert.Equal(t, "not found", te.Message)

	assert.Equal(t, 0, c.PendingCount())
	assert.True(t, c.IsConnected())
}

func TestInvokeNilArgs(t *testing.T) {
	s := newFakeServer(t)
	c := newClient(t, s.srv.URL, time.Second)

	res, err := c.Invoke(context.Background(), "list_all", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, res)

	reqs := s.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "tools/call", reqs[0].Method)
	assert.NotNil(t, reqs[0].Params.Arguments)
}

func TestCorrelationOutOfOrder(t *testing.T) {
	const n = 10

	s := newFakeServer(t)
	var held []rpcRequest
	var heldLock sync.Mutex
	s.onCall = func(s *fakeServer, req rpcRequest) {
		heldLock.Lock()
		defer heldLock.Unlock()
		held = append(held, req)
		if len(held) < n {
			return
		}
		// answer in reverse order of arrival
		for i := len(held) - 1; i >= 0; i-- {
			s.respondText(held[i].ID, map[string]any{
				"identifier": held[i].Params.Arguments["identifier"],
			})
		}
	}
	c := newClient(t, s.srv.URL, 5*time.Second)
	require.NoError(t, c.Connect(context.Background()))

	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Invoke(context.Background(), "track_shipment", map[string]any{
				"identifier": fmt.Sprintf("SHP-%d", i),
			})
		}(i)
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, map[string]any{"identifier": fmt.Sprintf("SHP-%d", i)}, results[i])
	}
	assert.Equal(t, 0, c.PendingCount())

	// ids are unique and never reuse the handshake id
	reqs := s.recorded()
	require.Len(t, reqs, n)
	ids := make([]int, 0, n)
	for _, r := range reqs {
		ids = append(ids, int(r.ID))
	}
	sort.Ints(ids)
	for i, id := range ids {
		assert.Equal(t, i+1, id)
	}
}

func TestMessageIDsIncrease(t *testing.T) {
	s := newFakeServer(t)
	c := newClient(t, s.srv.URL, time.Second)
	ctx := context.Background()

	for range 3 {
		_, err := c.Invoke(ctx, "ping", nil)
		require.NoError(t, err)
	}
	// ids survive a reconnect
	require.NoError(t, c.Close())
	for range 2 {
		_, err := c.Invoke(ctx, "ping", nil)
		require.NoError(t, err)
	}

	reqs := s.recorded()
	require.Len(t, reqs, 5)
	for i, r := range reqs {
		assert.Equal(t, int64(i+1), r.ID)
	}
	assert.Equal(t, int32(2), s.handshakes.Load())
}

func TestTimeoutCleansUp(t *testing.T) {
	s := newFakeServer(t)
	var slowID atomic.Int64
	s.onCall = func(s *fakeServer, req rpcRequest) {
		if req.Params.Name == "slow" {
			slowID.Store(req.ID)
			return
		}
		s.respondText(req.ID, map[string]any{"tool": req.Params.Name})
	}
	c := newClient(t, s.srv.URL, 100*time.Millisecond)
	ctx := context.Background()

	_, err := c.Invoke(ctx, "slow", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrTimeout))
	assert.True(t, mcp.IsRetriable(err))

	var te *mcp.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, slowID.Load(), te.MessageID)
	assert.Equal(t, 100*time.Millisecond, te.Timeout)
	assert.Equal(t, 0, c.PendingCount())

	// the late response is dropped
	s.respondText(slowID.Load(), map[string]any{"tool": "slow"})

	res, err := c.Invoke(ctx, "fast", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tool": "fast"}, res)
	assert.Equal(t, 0, c.PendingCount())
}

func TestPostFailure(t *testing.T) {
	s := newFakeServer(t)
	c := newClient(t, s.srv.URL, time.Second)
	require.NoError(t, c.Connect(context.Background()))

	s.postStatus.Store(http.StatusInternalServerError)
	_, err := c.Invoke(context.Background(), "track_shipment", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrTransport))
	assert.Contains(t, err.Error(), "MCP request failed: 500")
	assert.Equal(t, 0, c.PendingCount())
}

func TestStreamLost(t *testing.T) {
	s := newFakeServer(t)
	received := make(chan struct{}, 1)
	s.onCall = func(s *fakeServer, req rpcRequest) {
		if req.Params.Name == "hang" {
			received <- struct{}{}
			return
		}
		s.respondText(req.ID, map[string]any{"ok": true})
	}
	c := newClient(t, s.srv.URL, 10*time.Second)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Invoke(ctx, "hang", nil)
		errCh <- err
	}()

	<-received
	s.drop <- struct{}{}

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, errors.Is(err, mcp.ErrConnectionLost))
		assert.True(t, mcp.IsRetriable(err))
	case <-time.After(5 * time.Second):
		t.Fatal("pending call was not failed when the stream ended")
	}

	assert.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.PendingCount())

	// next call reconnects
	res, err := c.Invoke(ctx, "again", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, res)
	assert.Equal(t, int32(2), s.streams.Load())
}

func TestCloseFailsPending(t *testing.T) {
	s := newFakeServer(t)
	received := make(chan struct{}, 1)
	s.onCall = func(*fakeServer, rpcRequest) {
		received <- struct{}{}
	}
	c := newClient(t, s.srv.URL, 10*time.Second)
	require.NoError(t, c.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Invoke(context.Background(), "hang", nil)
		errCh <- err
	}()
	<-received
	require.NoError(t, c.Close())

	err := <-errCh
	assert.True(t, errors.Is(err, mcp.ErrConnectionLost))
	assert.Contains(t, err.Error(), "client closed")
}

func TestMalformedEventsIgnored(t *testing.T) {
	s := newFakeServer(t)
	s.onCall = func(s *fakeServer, req rpcRequest) {
		s.events <- "{not json"
		s.events <- `{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`
		s.events <- `{"jsonrpc":"2.0","id":9999,"result":{}}`
		s.respondText(req.ID, map[string]any{"status": "delivered"})
	}
	c := newClient(t, s.srv.URL, time.Second)

	res, err := c.Invoke(context.Background(), "track_shipment", map[string]any{"identifier": "SHP-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "delivered"}, res)
	assert.True(t, c.IsConnected())
}

func TestSendMessageWithoutWait(t *testing.T) {
	s := newFakeServer(t)
	s.onCall = func(*fakeServer, rpcRequest) {}
	c := newClient(t, s.srv.URL, time.Second)
	ctx := context.Background()

	_, err := c.SendMessage(ctx, "notifications/initialized", nil, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrTransport))
	assert.Contains(t, err.Error(), "not connected")

	require.NoError(t, c.Connect(ctx))
	resp, err := c.SendMessage(ctx, "notifications/initialized", nil, false)
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Equal(t, 0, c.PendingCount())
}

func TestContextCancelled(t *testing.T) {
	s := newFakeServer(t)
	s.onCall = func(*fakeServer, rpcRequest) {}
	c := newClient(t, s.srv.URL, 10*time.Second)
	require.NoError(t, c.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Invoke(ctx, "hang", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, c.PendingCount())

	// the session outlives the caller context
	assert.True(t, c.IsConnected())
}

func TestListTools(t *testing.T) {
	s := newFakeServer(t)
	s.onCall = func(s *fakeServer, req rpcRequest) {
		if req.Method != "tools/list" {
			s.respondError(req.ID, -32601, "method not found")
			return
		}
		s.respond(req.ID, map[string]any{
			"tools": []any{
				map[string]any{"name": "track_shipment", "description": "Track a shipment"},
				map[string]any{"name": "calculate_route", "inputSchema": map[string]any{"type": "object"}},
			},
		})
	}
	c := newClient(t, s.srv.URL, time.Second)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "track_shipment", tools[0].Name)
	assert.Equal(t, "Track a shipment", tools[0].Description)
	assert.Equal(t, "calculate_route", tools[1].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(tools[1].InputSchema))
	assert.True(t, strings.HasPrefix(c.SessionID(), "a1b2c3d4-"))
}
