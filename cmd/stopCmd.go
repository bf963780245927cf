package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop Topology",
	Long: `Stop Topology: destroy every recorded link and namespace of a prior start.
Stopping a topology that is not running is a no-op.`,
	Run: func(cmd *cobra.Command, args []string) {
		identity, err := resolveIdentity(cmd)
		if err != nil {
			logrus.Fatal(err.Error())
			return
		}
		if err := newEngine(cmd).Stop(context.Background(), identity); err != nil {
			logrus.Fatal(err.Error())
			return
		}
	},
}

// resolveIdentity accepts either the topology file the start used or the
// identity directly.
func resolveIdentity(cmd *cobra.Command) (string, error) {
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		return name, nil
	}
	filepath, _ := cmd.Flags().GetString("topo")
	t, err := loadTopology(filepath)
	if err != nil {
		return "", err
	}
	return t.Identity(), nil
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().StringP("topo", "t", "", "Path to the topology configuration file")
	stopCmd.Flags().String("name", "", "Topology identity recorded by start")
	stopCmd.MarkFlagsOneRequired("topo", "name")
}
