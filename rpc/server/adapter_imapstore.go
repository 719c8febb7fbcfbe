package server

import (
	"fmt"

	"github.com/ValentinKolb/dPersist/lib/health"
	"github.com/ValentinKolb/dPersist/lib/mapstore"
	"github.com/ValentinKolb/dPersist/rpc/common"
)

// healthReporter is implemented by map stores that track their liveness
type healthReporter interface {
	Health() *health.Tracker
}

func NewIMapStoreServerAdapter() IRPCServerAdapter {
	return &iMapStoreServerAdapterImpl{}
}

type iMapStoreServerAdapterImpl struct{}

func (adapter *iMapStoreServerAdapterImpl) Handle(req *common.Message, store mapstore.IMapStore) *common.Message {
	// Check for nil store
	if store == nil {
		return common.NewErrorResponse("handler: map store is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTMSLoad:
		val, found, res := store.Load(req.Key)
		return common.NewLoadResponse(val, found, res)
	case common.MsgTMSLoadAll:
		entries, res := store.LoadAll(req.Keys)
		return common.NewLoadAllResponse(entries, res)
	case common.MsgTMSLoadAllKeys:
		keys, res := store.LoadAllKeys()
		return common.NewLoadAllKeysResponse(keys, res)
	case common.MsgTMSDelete:
		return common.NewDeleteResponse(store.Delete(req.Key))
	case common.MsgTMSDeleteAll:
		return common.NewDeleteAllResponse(store.DeleteAll(req.Keys))
	case common.MsgTMSStore:
		return common.NewStoreResponse(store.Store(req.Key, req.Value))
	case common.MsgTMSStoreAll:
		return common.NewStoreAllResponse(store.StoreAll(req.Entries()))
	case common.MsgTMSHealth:
		reporter, ok := store.(healthReporter)
		if !ok {
			return common.NewHealthResponse(true, health.StateUnset.String())
		}
		tracker := reporter.Health()
		return common.NewHealthResponse(tracker.IsHealthy(), tracker.State().String())
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IMapStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
