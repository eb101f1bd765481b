package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudorandom/visor/pkg/anomaly"
	"github.com/sudorandom/visor/pkg/capture"
	"github.com/sudorandom/visor/pkg/geo"
	"github.com/sudorandom/visor/pkg/visor"
)

func floatp(f float64) *float64 { return &f }
func intp(i int) *int           { return &i }

// locator knows a couple of public addresses.
var locator = geo.LocatorFunc(func(_ context.Context, ip string) (geo.Location, error) {
	switch ip {
	case "93.184.216.34":
		return geo.Location{Lat: floatp(37.8), Lon: floatp(-122.4), Country: "United States", CountryCode: "US"}, nil
	case "203.0.113.7":
		return geo.Location{Lat: floatp(52.5), Lon: floatp(13.4), Country: "Germany", CountryCode: "DE"}, nil
	}
	return geo.Location{}, geo.ErrNoLocation
})

type fixture struct {
	capture *capture.Capture
	feed    *Feed
	server  *Server
	http    *httptest.Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	f := &fixture{capture: capture.New(100, nil), feed: NewFeed(0)}
	f.capture.OnPacket = f.feed.Hook(anomaly.NewDetector(), nil)
	enricher := NewEnricher(locator)
	enricher.SetServerLocation(visor.ServerLocation{Lat: floatp(52.5), Lon: floatp(13.4)})
	f.server = New(opts, f.capture, f.feed, enricher, nil, nil)
	f.http = httptest.NewServer(f.server.Router())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (map[string]json.RawMessage, visor.Message) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	var msg visor.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return raw, msg
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)

	raw, msg := readFrame(t, conn)
	assert.JSONEq(t, `[]`, string(raw["packets"]), "packets must be an array, not null")
	assert.JSONEq(t, `[]`, string(raw["anomalies"]))
	require.NotNil(t, msg.ServerLocation)
	assert.Equal(t, 52.5, *msg.ServerLocation.Lat)

	f.capture.Append(capture.Packet{Src: "10.0.0.5", Dst: "93.184.216.34", SrcPort: intp(5000), DstPort: intp(443), Proto: "TCP"})
	f.capture.Append(capture.Packet{Src: "1.1.1.1", Dst: "2.2.2.2", Proto: "47"})

	// The two packets may be split across polls.
	var anomalies []string
	var packets []visor.Event
	for len(packets) < 2 {
		raw, msg = readFrame(t, conn)
		_, hasLocation := raw["server_location"]
		assert.False(t, hasLocation, "server location is only sent once")
		packets = append(packets, msg.Packets...)
		anomalies = append(anomalies, msg.Anomalies...)
	}
	require.Len(t, packets, 2)

	out := packets[0]
	assert.Equal(t, visor.ConnLocalPublic, out.Type)
	assert.Equal(t, 5000, *out.SrcPort)
	assert.Equal(t, 52.5, *out.SrcLat, "local source drawn at the server")
	assert.Equal(t, 37.8, *out.DstLat)
	assert.Equal(t, "US", out.DstCountryCode)
	assert.True(t, out.HasCoords())

	other := packets[1]
	assert.Equal(t, visor.ConnPublicPublic, other.Type)
	assert.Equal(t, visor.Proto("47"), other.Proto)
	assert.Nil(t, other.SrcLat)
	assert.Equal(t, []string{"Unusual protocol 47 from 1.1.1.1 to 2.2.2.2"}, anomalies)
}

func TestWebSocketClientsHaveOwnCursor(t *testing.T) {
	f := newFixture(t, Options{})
	f.capture.Append(capture.Packet{Src: "1.1.1.1", Dst: "2.2.2.2", Proto: "TCP"})

	first := f.dial(t)
	_, msg := readFrame(t, first)
	assert.Len(t, msg.Packets, 1, "buffered packets are sent to new clients")

	second := f.dial(t)
	_, msg = readFrame(t, second)
	assert.Len(t, msg.Packets, 1)
	assert.NotNil(t, msg.ServerLocation)
}

func TestPacketsEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	resp, err := http.Get(f.http.URL + "/packets")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	f.capture.Append(capture.Packet{Src: "1.1.1.1", Dst: "2.2.2.2", DstPort: intp(53), Proto: "UDP"})
	resp, err = http.Get(f.http.URL + "/packets")
	require.NoError(t, err)
	defer resp.Body.Close()
	var packets []capture.Packet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&packets))
	require.Len(t, packets, 1)
	assert.Equal(t, 53, *packets[0].DstPort)
}

func TestIndexAndStatic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>visor</h1>"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "static", "app.js"), []byte("draw()"), 0o644))

	f := newFixture(t, Options{IndexFile: filepath.Join(dir, "index.html"), StaticDir: filepath.Join(dir, "static")})
	for path, want := range map[string]string{"/": "<h1>visor</h1>", "/static/app.js": "draw()"} {
		resp, err := http.Get(f.http.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, want, string(body), path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t)
	readFrame(t, conn)

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "visor_websocket_clients 1")
}

func TestConnectionType(t *testing.T) {
	tests := []struct{ src, dst, want string }{
		{"10.0.0.1", "192.168.1.1", visor.ConnLocalLocal},
		{"10.0.0.1", "8.8.8.8", visor.ConnLocalPublic},
		{"8.8.8.8", "127.0.0.1", visor.ConnPublicLocal},
		{"8.8.8.8", "1.1.1.1", visor.ConnPublicPublic},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConnectionType(tt.src, tt.dst), "%s -> %s", tt.src, tt.dst)
	}
}

func TestEnrichWithoutServerLocation(t *testing.T) {
	e := NewEnricher(locator)
	ev := e.Enrich(context.Background(), capture.Packet{Src: "10.0.0.5", Dst: "93.184.216.34", Proto: "TCP"})
	assert.Nil(t, ev.SrcLat, "local addresses stay unlocated until the server is")
	assert.False(t, ev.HasCoords())
}

func TestFeed(t *testing.T) {
	f := NewFeed(3)
	items, next := f.Since(0)
	assert.Empty(t, items)
	assert.Equal(t, uint64(0), next)

	f.Add("a", "b")
	f.Add()
	f.Add("c", "d")
	items, next = f.Since(0)
	assert.Equal(t, []string{"b", "c", "d"}, items)
	assert.Equal(t, uint64(4), next)

	items, next = f.Since(3)
	assert.Equal(t, []string{"d"}, items)
	items, _ = f.Since(next)
	assert.Empty(t, items)
}

func TestResolveServerLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ip":"203.0.113.7"}`)
	}))
	defer srv.Close()

	loc, err := ResolveServerLocation(context.Background(), srv.Client(), srv.URL, locator)
	require.NoError(t, err)
	require.True(t, loc.Known())
	assert.Equal(t, 52.5, *loc.Lat)

	_, err = ResolveServerLocation(context.Background(), srv.Client(), srv.URL, geo.LocatorFunc(
		func(context.Context, string) (geo.Location, error) { return geo.Location{CountryCode: "DE"}, nil },
	))
	assert.ErrorIs(t, err, geo.ErrNoLocation)
}

type recordingPublisher struct {
	mu     sync.Mutex
	msgs   []visor.Message
	closed bool
	fail   bool
}

func (p *recordingPublisher) Publish(msg visor.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func TestListenAndServePublishes(t *testing.T) {
	store := capture.New(10, nil)
	pub := &recordingPublisher{}
	s := New(Options{Addr: "127.0.0.1:0", PollInterval: 5 * time.Millisecond}, store, nil, NewEnricher(nil), nil, pub)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()

	store.Append(capture.Packet{Src: "1.1.1.1", Dst: "2.2.2.2", Proto: "TCP"})
	assert.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.msgs) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}

	assert.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return pub.closed
	}, 5*time.Second, 5*time.Millisecond, "publisher is closed on shutdown")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.msgs, 1, "empty batches are not published")
	assert.Nil(t, pub.msgs[0].ServerLocation)
}
