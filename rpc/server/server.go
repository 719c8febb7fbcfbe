package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dPersist/lib/health"
	"github.com/ValentinKolb/dPersist/lib/mapstore"
	"github.com/ValentinKolb/dPersist/lib/metrics"
	"github.com/ValentinKolb/dPersist/lib/table"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/serializer"
	"github.com/ValentinKolb/dPersist/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the map the shard persists, the map store it encapsulates
// and the adapter that handles requests for the store
type serverShard struct {
	MapName string
	Store   mapstore.IManagedMapStore
	Health  *health.Tracker
	Adapter IRPCServerAdapter
}

// Server hosts one map store per shard and serves them over a transport
type Server struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	sink       *metrics.VMSink

	backend       table.IBackend
	observability *http.Server
	ready         chan struct{}
	shutdownOnce  sync.Once
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	// Create the RPC server
	return &Server{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
		sink:       metrics.NewVMSink(),
		ready:      make(chan struct{}),
	}
}

// Sink returns the metrics sink shared by all maps of the server
func (s *Server) Sink() *metrics.VMSink {
	return s.sink
}

// Ready is closed once all maps are initialized and the transport is about to listen
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Get appropriate shard
		shard, ok := s.shards.Load(shardId)

		// Case shard does not exist -> error
		if !ok {
			respMsg = common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			// Let the adapter handle the request
			respMsg = shard.Adapter.Handle(&msg, shard.Store)
		}

		// Return result
		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response for shard %d: %v", shardId, err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(
				fmt.Sprintf("failed to serialize response: %s", err),
			))
		}
		return val
	})
}

func (s *Server) init() error {
	if len(s.config.Shards) == 0 {
		return fmt.Errorf("no maps configured")
	}

	// Create the durable store backend shared by all maps
	backend, err := NewBackend(s.config)
	if err != nil {
		return fmt.Errorf("failed to create %s backend: %w", s.config.Backend, err)
	}
	s.backend = backend

	// CREATE SHARDS

	/*
		Note: Every shard persists exactly one map. All maps share the backend,
		each map gets its own adapter (and with that its own connection pool
		and health tracker).
	*/

	for _, shardConfig := range s.config.Shards {
		if _, exists := s.shards.Load(shardConfig.ShardID); exists {
			s.destroyShards()
			return fmt.Errorf("duplicate shard id %d", shardConfig.ShardID)
		}

		adapter := mapstore.NewAdapter(backend, s.sink)
		if err := adapter.Init(s.config.Properties, shardConfig.MapName); err != nil {
			s.destroyShards()
			return fmt.Errorf("failed to init map %q (shard %d): %w", shardConfig.MapName, shardConfig.ShardID, err)
		}

		s.shards.Store(shardConfig.ShardID, serverShard{
			MapName: shardConfig.MapName,
			Store:   adapter,
			Health:  adapter.Health(),
			Adapter: NewIMapStoreServerAdapter(),
		})
		Logger.Infof("created map store %q for shard %d (table %s)", shardConfig.MapName, shardConfig.ShardID, adapter.Config().Table)
	}

	Logger.Infof("dPersist setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer.
// It blocks until Shutdown is called or the transport fails, the maps are destroyed before it returns.
func (s *Server) Serve() error {
	if err := s.init(); err != nil {
		if s.backend != nil {
			_ = s.backend.Close()
		}
		return err
	}

	if err := s.startObservability(); err != nil {
		s.teardown()
		return err
	}

	close(s.ready)
	err := s.transport.Listen(s.config)
	s.teardown()
	return err
}

// Shutdown stops the transport, Serve returns once the maps are destroyed
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		Logger.Infof("shutting down RPC server")
		err = s.transport.Close()
	})
	return err
}

// startObservability serves /metrics and /health if an endpoint is configured
func (s *Server) startObservability() error {
	if s.config.ObservabilityEndpoint == "" {
		return nil
	}

	listener, err := net.Listen("tcp", s.config.ObservabilityEndpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on observability endpoint: %w", err)
	}

	s.observability = &http.Server{
		Handler:           s.observabilityHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		Logger.Infof("Serving metrics and health on %s", listener.Addr())
		if err := s.observability.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("observability endpoint failed: %v", err)
		}
	}()
	return nil
}

// teardown destroys all maps, persists the memory backend and closes the backend
func (s *Server) teardown() {
	if s.observability != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.observability.Shutdown(ctx)
		cancel()
	}

	s.destroyShards()

	if err := saveSnapshot(s.backend, s.config.DataDir); err != nil {
		Logger.Errorf("%v", err)
	}
	if err := s.backend.Close(); err != nil {
		Logger.Warningf("failed to close backend: %v", err)
	}
	Logger.Infof("RPC server stopped")
}

func (s *Server) destroyShards() {
	s.shards.Range(func(id uint64, shard serverShard) bool {
		shard.Store.Destroy()
		Logger.Infof("destroyed map store %q (shard %d)", shard.MapName, id)
		return true
	})
	s.shards.Clear()
}
