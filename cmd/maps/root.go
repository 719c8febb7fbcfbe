package maps

import (
	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcMapStore client.IRPCMapStore

	// MapCommands represents the map command group
	MapCommands = &cobra.Command{
		Use:                "map",
		Short:              "Perform map store operations on a remote map",
		PersistentPreRunE:  setupMapClient,
		PersistentPostRunE: closeMapClient,
	}
)

func init() {
	// Add common RPC flags to the map command
	util.SetupRPCClientFlags(MapCommands)

	MapCommands.PersistentFlags().Int("shard", 100, util.WrapString("ID of the shard (map) to connect to"))

	// Add subcommands
	MapCommands.AddCommand(loadCmd)
	MapCommands.AddCommand(loadAllCmd)
	MapCommands.AddCommand(loadAllKeysCmd)
	MapCommands.AddCommand(storeCmd)
	MapCommands.AddCommand(storeAllCmd)
	MapCommands.AddCommand(deleteCmd)
	MapCommands.AddCommand(deleteAllCmd)
	MapCommands.AddCommand(healthCmd)
	MapCommands.AddCommand(perfTestCmd)
}

// setupMapClient initializes the RPC map store client
func setupMapClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()
	shardId := util.GetShardID()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the map store client
	rpcMapStore, err = client.NewRPCMapStore(
		shardId,
		*config,
		t,
		s,
	)

	return err
}

func closeMapClient(_ *cobra.Command, _ []string) error {
	if rpcMapStore == nil {
		return nil
	}
	return rpcMapStore.Close()
}
