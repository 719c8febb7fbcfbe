package client

import (
	"github.com/ValentinKolb/dPersist/lib/mapstore"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/serializer"
	"github.com/ValentinKolb/dPersist/rpc/transport"
)

// IRPCMapStore is a map store served by a remote dPersist server
type IRPCMapStore interface {
	mapstore.IMapStore

	// Health returns the liveness of the remote map store
	Health() (healthy bool, state string, err error)

	// Close closes the underlying transport
	Close() error
}

// NewRPCMapStore creates a new RPC map store
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns an IRPCMapStore and an error
func NewRPCMapStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (IRPCMapStore, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	// Create a new RPC map store
	s := rpcMapStore{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}

	// Return the RPC map store
	return &s, nil
}

type rpcMapStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see mapstore.IMapStore)
// --------------------------------------------------------------------------

func (i *rpcMapStore) Load(key string) (string, bool, mapstore.Result) {
	resp, err := i.invoke(common.NewLoadRequest(key))
	if err != nil {
		return "", false, failed(1, err)
	}
	return resp.Value, resp.Ok, resp.Result()
}

func (i *rpcMapStore) LoadAll(keys []string) (map[string]string, mapstore.Result) {
	resp, err := i.invoke(common.NewLoadAllRequest(keys))
	if err != nil {
		return nil, failed(len(keys), err)
	}

	res := resp.Result()
	entries := resp.Entries()
	// empty lists do not survive every serializer
	if entries == nil && res.Code == mapstore.RetCSuccess {
		entries = map[string]string{}
	}
	return entries, res
}

func (i *rpcMapStore) LoadAllKeys() ([]string, mapstore.Result) {
	resp, err := i.invoke(common.NewLoadAllKeysRequest())
	if err != nil {
		return nil, failed(0, err)
	}

	res := resp.Result()
	keys := resp.Keys
	if keys == nil && res.Code == mapstore.RetCSuccess {
		keys = []string{}
	}
	return keys, res
}

func (i *rpcMapStore) Delete(key string) mapstore.Result {
	resp, err := i.invoke(common.NewDeleteRequest(key))
	if err != nil {
		return failed(1, err)
	}
	return resp.Result()
}

func (i *rpcMapStore) DeleteAll(keys []string) mapstore.Result {
	resp, err := i.invoke(common.NewDeleteAllRequest(keys))
	if err != nil {
		return failed(len(keys), err)
	}
	return resp.Result()
}

func (i *rpcMapStore) Store(key, value string) mapstore.Result {
	resp, err := i.invoke(common.NewStoreRequest(key, value))
	if err != nil {
		return failed(1, err)
	}
	return resp.Result()
}

func (i *rpcMapStore) StoreAll(entries map[string]string) mapstore.Result {
	resp, err := i.invoke(common.NewStoreAllRequest(entries))
	if err != nil {
		return failed(len(entries), err)
	}
	return resp.Result()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see client.IRPCMapStore)
// --------------------------------------------------------------------------

func (i *rpcMapStore) Health() (bool, string, error) {
	resp, err := i.invoke(common.NewHealthRequest())
	if err != nil {
		return false, "", err
	}
	return resp.Ok, resp.Value, nil
}

func (i *rpcMapStore) Close() error {
	return i.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (i *rpcMapStore) invoke(req *common.Message) (*common.Message, error) {
	resp, err := invokeRPCRequest(i.shardId, req, i.transport, i.serializer)
	if err != nil {
		Logger.Debugf("shard %d: %s request failed: %v", i.shardId, req.MsgType, err)
	}
	return resp, err
}

// failed turns a transport or protocol error into an I/O failure result
func failed(attempted int, err error) mapstore.Result {
	return mapstore.NewResult(attempted, 0, 0, mapstore.NewError(mapstore.RetCIOFailure, err.Error()))
}
