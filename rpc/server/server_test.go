package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/health"
	"github.com/ValentinKolb/dPersist/lib/mapstore"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/serializer"
	"github.com/ValentinKolb/dPersist/rpc/transport"
	"github.com/ValentinKolb/dPersist/rpc/transport/unix"
)

const (
	usersShard  = uint64(100)
	ordersShard = uint64(200)
)

type testServer struct {
	server *Server
	client transport.IRPCClientTransport
	ser    serializer.IRPCSerializer
	done   chan error
	once   sync.Once
}

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer l.Close()
	return "127.0.0.1:" + strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
}

func testConfig(t *testing.T) common.ServerConfig {
	return common.ServerConfig{
		Shards: []common.ServerShard{
			{ShardID: usersShard, MapName: "users"},
			{ShardID: ordersShard, MapName: "orders"},
		},
		Backend:       common.BackendMemory,
		Properties:    mapstore.Properties{mapstore.PropPrefixDate: "true"},
		TimeoutSecond: 5,
		Transport: common.ServerTransportConfig{
			Endpoint:       filepath.Join(t.TempDir(), "dpersist.sock"),
			WorkersPerConn: 4,
		},
	}
}

// startServer serves config over a unix socket and connects a raw transport client
func startServer(t *testing.T, config common.ServerConfig) *testServer {
	ts := &testServer{
		server: NewRPCServer(config, unix.NewUnixServerTransport(), serializer.NewBinarySerializer()),
		client: unix.NewUnixClientTransport(),
		ser:    serializer.NewBinarySerializer(),
		done:   make(chan error, 1),
	}
	go func() { ts.done <- ts.server.Serve() }()

	select {
	case <-ts.server.Ready():
	case err := <-ts.done:
		t.Fatalf("Serve failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not become ready")
	}

	clientConfig := common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:  []string{config.Transport.Endpoint},
			RetryCount: 3,
		},
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := ts.client.Connect(clientConfig)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Failed to connect: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Cleanup(func() {
		_ = ts.client.Close()
		ts.stop(t)
	})
	return ts
}

// stop shuts the server down and waits for Serve to return
func (ts *testServer) stop(t *testing.T) {
	ts.once.Do(func() {
		_ = ts.server.Shutdown()
		select {
		case <-ts.done:
		case <-time.After(15 * time.Second):
			t.Fatal("Serve did not return after Shutdown")
		}
	})
}

func (ts *testServer) call(t *testing.T, shardId uint64, req *common.Message) common.Message {
	t.Helper()
	data, err := ts.ser.Serialize(*req)
	if err != nil {
		t.Fatalf("Failed to serialize request: %v", err)
	}
	raw, err := ts.client.Send(shardId, data)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	var resp common.Message
	if err := ts.ser.Deserialize(raw, &resp); err != nil {
		t.Fatalf("Failed to deserialize response: %v", err)
	}
	return resp
}

func TestServerMapOperations(t *testing.T) {
	ts := startServer(t, testConfig(t))

	resp := ts.call(t, usersShard, common.NewStoreRequest("1", `{"name":"ada"}`))
	if res := resp.Result(); res.Code != mapstore.RetCSuccess || res.Succeeded != 1 {
		t.Fatalf("Store failed: %+v", res)
	}

	resp = ts.call(t, usersShard, common.NewLoadRequest("1"))
	if !resp.Ok || resp.Value != `{"name":"ada"}` {
		t.Errorf("Load returned %q (found=%v)", resp.Value, resp.Ok)
	}

	resp = ts.call(t, usersShard, common.NewStoreAllRequest(map[string]string{"2": "b", "3": "c", "x": "bad"}))
	if res := resp.Result(); res.Code != mapstore.RetCSuccess || res.Attempted != 3 || res.Succeeded != 2 || res.BadKeys != 1 {
		t.Errorf("StoreAll result: %+v", res)
	}

	resp = ts.call(t, usersShard, common.NewLoadAllRequest([]string{"1", "2", "3", "4"}))
	entries := resp.Entries()
	if len(entries) != 3 || entries["2"] != "b" {
		t.Errorf("LoadAll returned %v", entries)
	}

	resp = ts.call(t, usersShard, common.NewLoadAllKeysRequest())
	if len(resp.Keys) != 3 {
		t.Errorf("LoadAllKeys returned %v", resp.Keys)
	}

	resp = ts.call(t, usersShard, common.NewDeleteAllRequest([]string{"1", "2"}))
	if res := resp.Result(); res.Succeeded != 2 {
		t.Errorf("DeleteAll result: %+v", res)
	}

	resp = ts.call(t, usersShard, common.NewDeleteRequest("3"))
	if res := resp.Result(); res.Code != mapstore.RetCSuccess {
		t.Errorf("Delete result: %+v", res)
	}

	resp = ts.call(t, usersShard, common.NewLoadRequest("3"))
	if resp.Ok {
		t.Error("Expected key 3 to be deleted")
	}
}

func TestServerMapsAreIsolated(t *testing.T) {
	ts := startServer(t, testConfig(t))

	ts.call(t, usersShard, common.NewStoreRequest("1", "user"))
	ts.call(t, ordersShard, common.NewStoreRequest("1", "order"))

	if resp := ts.call(t, usersShard, common.NewLoadRequest("1")); resp.Value != "user" {
		t.Errorf("users/1 = %q", resp.Value)
	}
	if resp := ts.call(t, ordersShard, common.NewLoadRequest("1")); resp.Value != "order" {
		t.Errorf("orders/1 = %q", resp.Value)
	}
}

func TestServerErrors(t *testing.T) {
	ts := startServer(t, testConfig(t))

	t.Run("UnknownShard", func(t *testing.T) {
		resp := ts.call(t, 999, common.NewLoadRequest("1"))
		if resp.MsgType != common.MsgTError || !strings.Contains(resp.Err, "not found") {
			t.Errorf("Expected shard not found error, got %+v", resp)
		}
		if resp.Result().Code != mapstore.RetCIOFailure {
			t.Errorf("Expected IOFailure code, got %s", resp.Result().Code)
		}
	})

	t.Run("GarbageRequest", func(t *testing.T) {
		raw, err := ts.client.Send(usersShard, []byte{1})
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		var resp common.Message
		if err := ts.ser.Deserialize(raw, &resp); err != nil {
			t.Fatalf("Failed to deserialize: %v", err)
		}
		if resp.MsgType != common.MsgTError {
			t.Errorf("Expected error response, got %+v", resp)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		resp := ts.call(t, usersShard, common.NewCustomRequest([]byte("x")))
		if resp.MsgType != common.MsgTError {
			t.Errorf("Expected error response, got %+v", resp)
		}
	})

	t.Run("MalformedKey", func(t *testing.T) {
		resp := ts.call(t, usersShard, common.NewStoreRequest("not-a-number", "v"))
		if resp.Result().Code != mapstore.RetCMalformedKey {
			t.Errorf("Expected MalformedKey, got %s", resp.Result().Code)
		}
	})
}

func TestServerHealth(t *testing.T) {
	ts := startServer(t, testConfig(t))

	resp := ts.call(t, usersShard, common.NewHealthRequest())
	if !resp.Ok || resp.Value != health.StateUnset.String() {
		t.Errorf("Expected unset healthy state, got ok=%v state=%q", resp.Ok, resp.Value)
	}

	ts.call(t, usersShard, common.NewStoreRequest("1", "v"))
	resp = ts.call(t, usersShard, common.NewHealthRequest())
	if !resp.Ok || resp.Value != health.StateHealthy.String() {
		t.Errorf("Expected healthy state, got ok=%v state=%q", resp.Ok, resp.Value)
	}
}

func TestServerObservability(t *testing.T) {
	config := testConfig(t)
	config.ObservabilityEndpoint = freeAddr(t)
	ts := startServer(t, config)

	ts.call(t, usersShard, common.NewStoreAllRequest(map[string]string{"1": "a", "2": "b"}))
	base := "http://" + config.ObservabilityEndpoint

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/metrics")
	if code != http.StatusOK || !strings.Contains(body, `map="users"`) {
		t.Errorf("Unexpected /metrics response (%d): %s", code, body)
	}

	code, body = get("/health/100")
	if code != http.StatusOK {
		t.Errorf("Expected 200 for /health/100, got %d", code)
	}
	var status health.Status
	if err := json.Unmarshal([]byte(body), &status); err != nil || !status.Healthy {
		t.Errorf("Unexpected health body %q (%v)", body, err)
	}

	code, body = get("/health")
	if code != http.StatusOK || !strings.Contains(body, "orders") {
		t.Errorf("Unexpected /health response (%d): %s", code, body)
	}

	if code, _ = get("/health/12345"); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown shard, got %d", code)
	}
	if code, _ = get("/health/abc"); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid shard, got %d", code)
	}
}

func TestServerSnapshotSurvivesRestart(t *testing.T) {
	config := testConfig(t)
	config.DataDir = t.TempDir()

	first := startServer(t, config)
	first.call(t, usersShard, common.NewStoreRequest("7", "persisted"))
	_ = first.client.Close()
	first.stop(t)

	second := startServer(t, config)
	resp := second.call(t, usersShard, common.NewLoadRequest("7"))
	if !resp.Ok || resp.Value != "persisted" {
		t.Errorf("Expected value to survive restart, got %q (found=%v)", resp.Value, resp.Ok)
	}
}

func TestServerInitFailures(t *testing.T) {
	cases := []struct {
		name   string
		modify func(c *common.ServerConfig)
	}{
		{"NoMaps", func(c *common.ServerConfig) { c.Shards = nil }},
		{"UnknownBackend", func(c *common.ServerConfig) { c.Backend = "hbase" }},
		{"DuplicateShard", func(c *common.ServerConfig) {
			c.Shards = append(c.Shards, common.ServerShard{ShardID: usersShard, MapName: "again"})
		}},
		{"InvalidProperty", func(c *common.ServerConfig) {
			c.Properties = mapstore.Properties{mapstore.PropPoolSize: "many"}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := testConfig(t)
			tc.modify(&config)
			s := NewRPCServer(config, unix.NewUnixServerTransport(), serializer.NewBinarySerializer())

			done := make(chan error, 1)
			go func() { done <- s.Serve() }()
			select {
			case err := <-done:
				if err == nil {
					t.Error("Expected Serve to fail")
				}
			case <-time.After(5 * time.Second):
				_ = s.Shutdown()
				t.Fatal("Serve did not fail")
			}
		})
	}
}

func TestBackendProperties(t *testing.T) {
	props := mapstore.Properties{
		"dynamodb.region":            "eu-central-1",
		"dynamodb.endpoint":          "http://localhost:8000",
		"dynamodb.consistent.read":   "true",
		"dynamodb.operation.timeout": "3s",
		"redis.url":                  "redis://localhost:6379/0",
		"redis.max.conns":            "32",
		"mapstore.pool.size":         "4",
	}

	dyn, err := dynamoConfig(props.WithPrefix(common.BackendDynamoDB))
	if err != nil {
		t.Fatalf("dynamoConfig failed: %v", err)
	}
	if dyn.Region != "eu-central-1" || dyn.Endpoint != "http://localhost:8000" || !dyn.ConsistentRead || dyn.OperationTimeout != 3*time.Second {
		t.Errorf("Unexpected dynamodb config: %+v", dyn)
	}

	red, err := redisConfig(props.WithPrefix(common.BackendRedis))
	if err != nil {
		t.Fatalf("redisConfig failed: %v", err)
	}
	if red.URL != "redis://localhost:6379/0" || red.MaxConns != 32 {
		t.Errorf("Unexpected redis config: %+v", red)
	}

	if _, err := redisConfig(mapstore.Properties{"max.conns": "lots"}); err == nil {
		t.Error("Expected an error for an invalid redis.max.conns")
	}
	if _, err := dynamoConfig(mapstore.Properties{"operation.timeout": "soon"}); err == nil {
		t.Error("Expected an error for an invalid dynamodb.operation.timeout")
	}

	// missing required settings fail before any connection attempt
	if _, err := NewBackend(common.ServerConfig{Backend: common.BackendRedis}); err == nil {
		t.Error("Expected redis backend without url to fail")
	}
	if _, err := NewBackend(common.ServerConfig{Backend: common.BackendDynamoDB}); err == nil {
		t.Error("Expected dynamodb backend without region to fail")
	}
}
