package maps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/dPersist/lib/mapstore"
	"github.com/spf13/cobra"
)

var (
	loadCmd = &cobra.Command{
		Use:   "load [key]",
		Short: "Loads the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, found, res := rpcMapStore.Load(key)
			fmt.Printf("key=%s, found=%v, value=%s\n", key, found, value)
			return printResult(res)
		},
	}
	loadAllCmd = &cobra.Command{
		Use:   "load-all [key...]",
		Short: "Loads the values of multiple keys in one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, res := rpcMapStore.LoadAll(args)
			keys := make([]string, 0, len(entries))
			for k := range entries {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s=%s\n", k, entries[k])
			}
			return printResult(res)
		},
	}
	loadAllKeysCmd = &cobra.Command{
		Use:   "load-all-keys",
		Short: "Lists the keys of all stored entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, res := rpcMapStore.LoadAllKeys()
			for _, k := range keys {
				fmt.Println(k)
			}
			return printResult(res)
		},
	}
	storeCmd = &cobra.Command{
		Use:   "store [key] [value]",
		Short: "Stores the value of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(rpcMapStore.Store(args[0], args[1]))
		},
	}
	storeAllCmd = &cobra.Command{
		Use:   "store-all [key=value...]",
		Short: "Stores multiple entries in one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := make(map[string]string, len(args))
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("invalid entry %q (expected key=value)", arg)
				}
				entries[key] = value
			}
			return printResult(rpcMapStore.StoreAll(entries))
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [key]",
		Short: "Deletes the entry of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(rpcMapStore.Delete(args[0]))
		},
	}
	deleteAllCmd = &cobra.Command{
		Use:   "delete-all [key...]",
		Short: "Deletes multiple entries in one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(rpcMapStore.DeleteAll(args))
		},
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Shows the health of the map store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			healthy, state, err := rpcMapStore.Health()
			if err != nil {
				return err
			}
			fmt.Printf("healthy=%t, state=%s\n", healthy, state)
			if !healthy {
				return fmt.Errorf("map store is unhealthy")
			}
			return nil
		},
	}
)

// printResult prints the result and returns its error
func printResult(res mapstore.Result) error {
	fmt.Printf("code=%s, attempted=%d, succeeded=%d, badKeys=%d\n", res.Code, res.Attempted, res.Succeeded, res.BadKeys)
	return res.Err()
}
