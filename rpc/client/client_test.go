package client_test

import (
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/mapstore"
	mapstoretesting "github.com/ValentinKolb/dPersist/lib/mapstore/testing"
	"github.com/ValentinKolb/dPersist/rpc/client"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/serializer"
	"github.com/ValentinKolb/dPersist/rpc/server"
	"github.com/ValentinKolb/dPersist/rpc/transport"
	"github.com/ValentinKolb/dPersist/rpc/transport/tcp"
	"github.com/ValentinKolb/dPersist/rpc/transport/unix"
)

const shardId = uint64(1)

type setup struct {
	server     func() transport.IRPCServerTransport
	client     func() transport.IRPCClientTransport
	serializer func() serializer.IRPCSerializer
	endpoint   func(t *testing.T) string
}

func unixEndpoint(t *testing.T) string {
	return filepath.Join(t.TempDir(), "dpersist.sock")
}

func tcpEndpoint(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer l.Close()
	return "127.0.0.1:" + strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
}

var setups = map[string]setup{
	"unix-binary": {unix.NewUnixServerTransport, unix.NewUnixClientTransport, serializer.NewBinarySerializer, unixEndpoint},
	"unix-json":   {unix.NewUnixServerTransport, unix.NewUnixClientTransport, serializer.NewJSONSerializer, unixEndpoint},
	"tcp-gob":     {tcp.NewTCPServerTransport, tcp.NewTCPClientTransport, serializer.NewGOBSerializer, tcpEndpoint},
}

// serve starts a server hosting the conformance map and returns a connected client
func serve(t *testing.T, s setup, props mapstore.Properties) client.IRPCMapStore {
	endpoint := s.endpoint(t)
	srv := server.NewRPCServer(common.ServerConfig{
		Shards:        []common.ServerShard{{ShardID: shardId, MapName: mapstoretesting.MapName}},
		Backend:       common.BackendMemory,
		Properties:    props,
		TimeoutSecond: 5,
		Transport: common.ServerTransportConfig{
			Endpoint:       endpoint,
			WorkersPerConn: 8,
		},
	}, s.server(), s.serializer())

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("Serve failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not become ready")
	}

	config := common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{endpoint},
			RetryCount:             3,
			ConnectionsPerEndpoint: 2,
		},
	}

	var store client.IRPCMapStore
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for {
		store, err = client.NewRPCMapStore(shardId, config, s.client(), s.serializer())
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Failed to connect: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Cleanup(func() {
		_ = store.Close()
		_ = srv.Shutdown()
		<-done
	})
	return store
}

func TestRPCMapStoreConformance(t *testing.T) {
	for name, s := range setups {
		mapstoretesting.RunMapStoreTests(t, name, func(t *testing.T, props mapstore.Properties) mapstore.IMapStore {
			return serve(t, s, props)
		})
	}
}

func TestRPCMapStoreHealth(t *testing.T) {
	store := serve(t, setups["unix-binary"], nil)

	healthy, state, err := store.Health()
	if err != nil || !healthy || state != "unset" {
		t.Errorf("Expected healthy unset state, got %v %q %v", healthy, state, err)
	}

	if res := store.Store("k", "v"); !res.OK() {
		t.Fatalf("Store failed: %+v", res)
	}
	healthy, state, err = store.Health()
	if err != nil || !healthy || state != "healthy" {
		t.Errorf("Expected healthy state, got %v %q %v", healthy, state, err)
	}
}

func TestRPCMapStoreTransportFailure(t *testing.T) {
	store := serve(t, setups["unix-binary"], nil)

	// after the transport is closed every call is an I/O failure
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, found, res := store.Load("k"); found || res.Code != mapstore.RetCIOFailure || res.Err() == nil {
		t.Errorf("Expected IOFailure on load, got %+v", res)
	}
	if m, res := store.LoadAll([]string{"a", "b"}); m != nil || res.Code != mapstore.RetCIOFailure || res.Attempted != 2 {
		t.Errorf("Expected IOFailure on loadAll, got %v %+v", m, res)
	}
	if keys, res := store.LoadAllKeys(); keys != nil || res.Code != mapstore.RetCIOFailure {
		t.Errorf("Expected IOFailure on loadAllKeys, got %v %+v", keys, res)
	}
	if res := store.StoreAll(map[string]string{"a": "1"}); res.Code != mapstore.RetCIOFailure || res.Succeeded != 0 {
		t.Errorf("Expected IOFailure on storeAll, got %+v", res)
	}
	if res := store.DeleteAll([]string{"a"}); res.Code != mapstore.RetCIOFailure {
		t.Errorf("Expected IOFailure on deleteAll, got %+v", res)
	}
	if _, _, err := store.Health(); err == nil {
		t.Error("Expected health to fail on a closed transport")
	}
}

func TestRPCMapStoreUnknownShard(t *testing.T) {
	endpoint := unixEndpoint(t)
	srv := server.NewRPCServer(common.ServerConfig{
		Shards:    []common.ServerShard{{ShardID: shardId, MapName: "users"}},
		Backend:   common.BackendMemory,
		Transport: common.ServerTransportConfig{Endpoint: endpoint},
	}, unix.NewUnixServerTransport(), serializer.NewBinarySerializer())

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	<-srv.Ready()
	defer func() {
		_ = srv.Shutdown()
		<-done
	}()

	store, err := client.NewRPCMapStore(99, common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{endpoint}},
	}, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer store.Close()

	if res := store.Store("1", "v"); res.Code != mapstore.RetCIOFailure {
		t.Errorf("Expected IOFailure for an unknown shard, got %+v", res)
	}
}
