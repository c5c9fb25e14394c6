package main

import (
	"fmt"
	"strings"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/poolconfig"
	"github.com/spf13/cobra"
)

var poolsCmd = &cobra.Command{
	Use:   "pools",
	Short: "Inspect pool configuration",
}

var poolsShowCmd = &cobra.Command{
	Use:   "show PATH",
	Short: "Load and print a pool configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := poolconfig.Load(args[0])
		if err != nil {
			return fmt.Errorf("load %s: %w", args[0], err)
		}

		fmt.Printf("%-16s %-10s %-10s %-8s %s\n", "NAME", "TYPE", "DURATION", "MAXSIZE", "DEFAULT")
		fmt.Println(strings.Repeat("-", 60))
		for _, p := range cfg.Pools {
			def := ""
			if p.Name == cfg.DefaultPool {
				def = "*"
			}
			fmt.Printf("%-16s %-10s %-10s %-8d %s\n", p.Name, p.Type, p.Duration, p.MaxSize, def)
		}
		return nil
	},
}

var poolsStatusCmd = &cobra.Command{
	Use:   "status --data-dir DIR",
	Short: "Read back the pool configuration a running flockd has persisted",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		store, err := coordstore.New(dataDir)
		if err != nil {
			return fmt.Errorf("open coordination store: %w", err)
		}
		defer func() { _ = store.Close() }()

		poolsPath, _ := cmd.Flags().GetString("pools")
		cfg, err := poolconfig.Load(poolsPath)
		if err != nil {
			return fmt.Errorf("load %s: %w", poolsPath, err)
		}

		fmt.Printf("%-16s %-10s %-10s %s\n", "NAME", "TYPE", "DURATION", "MAXSIZE")
		fmt.Println(strings.Repeat("-", 50))
		for _, p := range cfg.Pools {
			fields, err := store.HGetAll(coordstore.PoolConfigKey(p.Name))
			if err != nil {
				fmt.Printf("%-16s <error: %v>\n", p.Name, err)
				continue
			}
			if len(fields) == 0 {
				fmt.Printf("%-16s <not yet started>\n", p.Name)
				continue
			}
			fmt.Printf("%-16s %-10s %-10s %s\n", p.Name, fields["type"], fields["duration"], fields["max_size"])
		}
		return nil
	},
}

func init() {
	poolsCmd.AddCommand(poolsShowCmd)
	poolsCmd.AddCommand(poolsStatusCmd)

	poolsStatusCmd.Flags().String("data-dir", "./data", "durable coordination-store data directory")
	poolsStatusCmd.Flags().String("pools", "./pools.yaml", "pool configuration file")
}
