package shard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/gateway/internal/payload"
	"github.com/rickgao/gateway/internal/ratelimit"
	"github.com/rickgao/gateway/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// mockGateway runs a minimal gateway: hello on connect, ack heartbeats,
// answer identifies with READY. Identified shard ids are recorded in
// order.
type mockGateway struct {
	srv *httptest.Server

	mu           sync.Mutex
	identified   []int
	identifiedAt map[int]time.Time
}

func newMockGateway(t *testing.T) *mockGateway {
	g := &mockGateway{identifiedAt: make(map[int]time.Time)}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		g.serve(conn)
	}))
	return g
}

func (g *mockGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *mockGateway) identifyOrder() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.identified...)
}

func (g *mockGateway) identifyTime(id int) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.identifiedAt[id]
}

func (g *mockGateway) serve(conn *websocket.Conn) {
	write := func(v any) {
		data, _ := json.Marshal(v)
		conn.WriteMessage(websocket.TextMessage, data)
	}
	write(map[string]any{"op": 10, "d": map[string]any{"heartbeat_interval": 60000}})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd struct {
			Op int             `json:"op"`
			D  json.RawMessage `json:"d"`
		}
		if err := json.Unmarshal(data, &cmd); err != nil {
			return
		}
		switch cmd.Op {
		case 1:
			write(map[string]any{"op": 11})
		case 2:
			var d payload.IdentifyData
			json.Unmarshal(cmd.D, &d)
			g.mu.Lock()
			g.identified = append(g.identified, d.Shard[0])
			g.identifiedAt[d.Shard[0]] = time.Now()
			g.mu.Unlock()
			write(map[string]any{
				"op": 0, "t": "READY", "s": 1,
				"d": map[string]any{
					"session_id":         "sess",
					"resume_gateway_url": "",
					"guilds":             []map[string]string{{"id": "20971520"}},
				},
			})
		}
	}
}

func testOptions(url string) Options {
	return Options{
		Token:      "token",
		GatewayURL: url,
		ShardCount: 2,
		SpawnDelay: 20 * time.Millisecond,
		RateLimit: ratelimit.Config{
			IdentifyInterval: 10 * time.Millisecond,
		},
		ReconnectBaseDelay: 20 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	}
}

func TestManager_SpawnFleet(t *testing.T) {
	gw := newMockGateway(t)
	defer gw.srv.Close()

	m, err := NewManager(testOptions(gw.url()), nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Destroy()

	if err := m.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	// Both shards reach connected within the handshake window.
	deadline := time.Now().Add(3 * time.Second)
	for {
		if m.Stats().Connected == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("fleet never connected: %+v", m.Stats())
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Both shards identified exactly once. They share an identify bucket
	// so the governor decides the order, not the spawner.
	order := gw.identifyOrder()
	seen0, seen1 := false, false
	for _, id := range order {
		seen0 = seen0 || id == 0
		seen1 = seen1 || id == 1
	}
	if len(order) != 2 || !seen0 || !seen1 {
		t.Errorf("identified shards = %v, want 0 and 1 once each", order)
	}

	// Every shard funnels into the shared dispatch buffer.
	seen := map[int]bool{}
	for len(seen) < 2 {
		d, ok := m.Dispatches().Receive()
		if !ok {
			t.Fatal("dispatch buffer closed early")
		}
		if d.Event == "READY" {
			seen[d.ShardID] = true
		}
	}

	if err := m.Spawn(context.Background()); err != ErrAlreadySpawned {
		t.Errorf("second Spawn error = %v, want ErrAlreadySpawned", err)
	}

	stats := m.Stats()
	if stats.ShardCount != 2 || stats.Guilds != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestManager_SpawnBucketDelay(t *testing.T) {
	gw := newMockGateway(t)
	defer gw.srv.Close()

	// Four shards with max concurrency 2 split into buckets {0, 2} and
	// {1, 3}. The second bucket must wait out the spawn delay.
	opts := testOptions(gw.url())
	opts.ShardCount = 4
	opts.MaxConcurrency = 2
	opts.SpawnDelay = 250 * time.Millisecond

	m, err := NewManager(opts, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Destroy()

	if err := m.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(gw.identifyOrder()) < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("fleet never identified: %v", gw.identifyOrder())
		}
		time.Sleep(20 * time.Millisecond)
	}

	order := gw.identifyOrder()
	for _, id := range order[:2] {
		if id != 0 && id != 2 {
			t.Fatalf("identify order = %v, want bucket {0, 2} first", order)
		}
	}

	firstBucket := gw.identifyTime(0)
	if t2 := gw.identifyTime(2); t2.Before(firstBucket) {
		firstBucket = t2
	}
	for _, id := range []int{1, 3} {
		gap := gw.identifyTime(id).Sub(firstBucket)
		if gap < 200*time.Millisecond {
			t.Errorf("shard %d identified %s after bucket 0, want the spawn delay between buckets", id, gap)
		}
	}
}

func TestManager_ShardLookup(t *testing.T) {
	gw := newMockGateway(t)
	defer gw.srv.Close()

	m, err := NewManager(testOptions(gw.url()), nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Destroy()

	if err := m.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	// 20971520 = 5<<22, placement 5%2 = shard 1.
	sess, err := m.ShardForGuild("20971520")
	if err != nil {
		t.Fatalf("ShardForGuild failed: %v", err)
	}
	if sess.Info().ShardID != 1 {
		t.Errorf("ShardID = %d, want 1", sess.Info().ShardID)
	}

	if _, err := m.Shard(9); err == nil {
		t.Error("expected unknown shard error")
	}

	// Round robin cycles through both shards.
	first, _ := m.NextShard()
	second, _ := m.NextShard()
	third, _ := m.NextShard()
	if first.Info().ShardID == second.Info().ShardID {
		t.Error("round robin repeated a shard")
	}
	if first.Info().ShardID != third.Info().ShardID {
		t.Error("round robin did not wrap")
	}
}

func TestManager_RespawnShard(t *testing.T) {
	gw := newMockGateway(t)
	defer gw.srv.Close()

	opts := testOptions(gw.url())
	opts.ShardCount = 1
	m, err := NewManager(opts, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Destroy()

	if err := m.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	old, err := m.Shard(0)
	if err != nil {
		t.Fatalf("Shard failed: %v", err)
	}

	if err := m.RespawnShard(context.Background(), 0); err != nil {
		t.Fatalf("RespawnShard failed: %v", err)
	}

	next, err := m.Shard(0)
	if err != nil {
		t.Fatalf("Shard failed: %v", err)
	}
	if next == old {
		t.Error("respawn kept the old session")
	}
	if st := old.Status(); st != session.StatusDestroyed {
		t.Errorf("old session status = %q, want destroyed", st)
	}
	if st := next.Status(); st != session.StatusConnected {
		t.Errorf("new session status = %q, want connected", st)
	}

	if err := m.RespawnShard(context.Background(), 7); err == nil {
		t.Error("expected unknown shard error")
	}
}

func TestManager_DestroyClosesDispatches(t *testing.T) {
	gw := newMockGateway(t)
	defer gw.srv.Close()

	m, err := NewManager(testOptions(gw.url()), nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := m.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	m.Destroy()
	m.Destroy() // idempotent

	// Drain whatever was buffered; the closed signal must follow.
	for {
		if _, ok := m.Dispatches().Receive(); !ok {
			return
		}
	}
}
