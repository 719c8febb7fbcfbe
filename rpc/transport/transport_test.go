package transport_test

import (
	"bytes"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/transport"
	"github.com/ValentinKolb/dPersist/rpc/transport/http"
	"github.com/ValentinKolb/dPersist/rpc/transport/tcp"
	"github.com/ValentinKolb/dPersist/rpc/transport/unix"
)

type transportCase struct {
	name     string
	server   func() transport.IRPCServerTransport
	client   func() transport.IRPCClientTransport
	endpoint func(t *testing.T) (listen string, dial string)
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

var transportCases = []transportCase{
	{
		name:   "tcp",
		server: tcp.NewTCPServerTransport,
		client: tcp.NewTCPClientTransport,
		endpoint: func(t *testing.T) (string, string) {
			addr := "127.0.0.1:" + strconv.Itoa(freePort(t))
			return addr, addr
		},
	},
	{
		name:   "unix",
		server: unix.NewUnixServerTransport,
		client: unix.NewUnixClientTransport,
		endpoint: func(t *testing.T) (string, string) {
			path := filepath.Join(t.TempDir(), "rpc.sock")
			return path, path
		},
	},
	{
		name:   "http",
		server: http.NewHttpServerTransport,
		client: http.NewHttpClientTransport,
		endpoint: func(t *testing.T) (string, string) {
			addr := "127.0.0.1:" + strconv.Itoa(freePort(t))
			return addr, "http://" + addr
		},
	},
}

// echo answers with "<shard>:<request>"
func echo(shardId uint64, req []byte) []byte {
	return append([]byte(fmt.Sprintf("%d:", shardId)), req...)
}

// startServer starts the server and returns a connected client. Both are closed on cleanup.
func startServer(t *testing.T, tc transportCase) (transport.IRPCServerTransport, transport.IRPCClientTransport, <-chan error) {
	listen, dial := tc.endpoint(t)

	server := tc.server()
	server.RegisterHandler(echo)

	done := make(chan error, 1)
	go func() {
		done <- server.Listen(common.ServerConfig{
			TimeoutSecond: 5,
			Transport: common.ServerTransportConfig{
				Endpoint:       listen,
				WorkersPerConn: 4,
				SocketConf:     common.SocketConf{TCPNoDelay: true},
			},
		})
	}()

	client := tc.client()
	clientConfig := common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{dial},
			RetryCount:             3,
			ConnectionsPerEndpoint: 2,
			SocketConf:             common.SocketConf{TCPNoDelay: true},
		},
	}

	// wait until the server accepts requests
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := client.Connect(clientConfig)
		if err == nil {
			if _, err = client.Send(0, []byte("ping")); err == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("Server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client, done
}

func TestTransportRoundTrip(t *testing.T) {
	for _, tc := range transportCases {
		t.Run(tc.name, func(t *testing.T) {
			_, client, _ := startServer(t, tc)

			resp, err := client.Send(42, []byte("hello"))
			if err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			if !bytes.Equal(resp, []byte("42:hello")) {
				t.Errorf("Expected '42:hello', got '%s'", resp)
			}

			// empty payloads are valid frames
			resp, err = client.Send(7, nil)
			if err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			if string(resp) != "7:" {
				t.Errorf("Expected '7:', got '%s'", resp)
			}
		})
	}
}

func TestTransportConcurrentRequests(t *testing.T) {
	for _, tc := range transportCases {
		t.Run(tc.name, func(t *testing.T) {
			_, client, _ := startServer(t, tc)

			const workers = 8
			const requests = 50

			var wg sync.WaitGroup
			errs := make(chan error, workers*requests)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < requests; i++ {
						payload := fmt.Sprintf("w%d-r%d", w, i)
						resp, err := client.Send(uint64(w), []byte(payload))
						if err != nil {
							errs <- err
							continue
						}
						if want := fmt.Sprintf("%d:%s", w, payload); string(resp) != want {
							errs <- fmt.Errorf("expected %q, got %q", want, resp)
						}
					}
				}(w)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				t.Error(err)
			}
		})
	}
}

func TestTransportLargePayload(t *testing.T) {
	for _, tc := range transportCases {
		t.Run(tc.name, func(t *testing.T) {
			_, client, _ := startServer(t, tc)

			// larger than the default server buffers
			payload := bytes.Repeat([]byte("x"), 1024*1024)
			resp, err := client.Send(1, payload)
			if err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			if len(resp) != len(payload)+2 {
				t.Errorf("Expected %d bytes, got %d", len(payload)+2, len(resp))
			}
		})
	}
}

func TestTransportClose(t *testing.T) {
	for _, tc := range transportCases {
		t.Run(tc.name, func(t *testing.T) {
			server, _, done := startServer(t, tc)

			if err := server.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Listen returned an error after Close: %v", err)
				}
			case <-time.After(15 * time.Second):
				t.Fatal("Listen did not return after Close")
			}

			// a second close is a no-op
			if err := server.Close(); err != nil {
				t.Errorf("Second Close failed: %v", err)
			}
		})
	}
}

func TestClientWithoutEndpoints(t *testing.T) {
	for _, tc := range transportCases {
		t.Run(tc.name, func(t *testing.T) {
			client := tc.client()
			if err := client.Connect(common.ClientConfig{}); err == nil {
				t.Error("Expected an error when connecting without endpoints")
			}
		})
	}
}
