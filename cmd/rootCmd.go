package cmd

import (
	"fmt"
	"os"

	"Netgen/api"
	"Netgen/pkg"
	"Netgen/pkg/node"
	"Netgen/pkg/topo"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var rootCmd = &cobra.Command{
	Use:   "netgen",
	Short: "Topology emulation CLI",
	Long:  "A command-line tool for emulating router/link topologies with network namespaces.",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("root", node.DefaultRoot,
		"Directory holding namespace bindings and run state")
	rootCmd.PersistentFlags().Int("workers", 4,
		"Max concurrent provisioning operations")
}

func newEngine(cmd *cobra.Command) *pkg.Engine {
	root, _ := cmd.Flags().GetString("root")
	workers, _ := cmd.Flags().GetInt("workers")
	return pkg.NewEngine(pkg.Config{Root: root, Workers: workers})
}

func loadTopology(filepath string) (*topo.Topology, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}

	var doc api.TopoConfig
	if err = yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error unmarshaling YAML file: %w", err)
	}
	return topo.Build(&doc)
}
