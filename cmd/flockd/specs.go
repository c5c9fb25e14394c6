package main

import (
	"fmt"
	"strings"

	"github.com/cuemby/flockd/pkg/specstore"
	"github.com/spf13/cobra"
)

var specsCmd = &cobra.Command{
	Use:   "specs",
	Short: "Inspect flock spec definitions",
}

var specsValidateCmd = &cobra.Command{
	Use:   "validate PATH",
	Short: "Load and validate a flock spec file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := specstore.New(args[0])
		if err != nil {
			return fmt.Errorf("validate %s: %w", args[0], err)
		}
		fmt.Println("OK")
		return nil
	},
}

var specsListCmd = &cobra.Command{
	Use:   "list PATH",
	Short: "List the flocks defined in a spec file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := specstore.New(args[0])
		if err != nil {
			return fmt.Errorf("load %s: %w", args[0], err)
		}

		specs := store.List()
		if len(specs) == 0 {
			fmt.Println("No flocks found")
			return nil
		}

		fmt.Printf("%-24s %-10s %s\n", "NAME", "CONTAINERS", "VOLUMES")
		fmt.Println(strings.Repeat("-", 70))
		for _, spec := range specs {
			names := make([]string, 0, len(spec.Containers))
			for _, c := range spec.Containers {
				names = append(names, c.Name)
			}
			fmt.Printf("%-24s %-10s %d\n", spec.Name, strings.Join(names, ","), len(spec.Volumes))
		}
		return nil
	},
}

func init() {
	specsCmd.AddCommand(specsValidateCmd)
	specsCmd.AddCommand(specsListCmd)
}
