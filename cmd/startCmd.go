package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start Topology",
	Long: `Start Topology: create one namespace per device, provision every link,
and record the created resources so a later stop can destroy them.`,
	Run: func(cmd *cobra.Command, args []string) {
		filepath, _ := cmd.Flags().GetString("topo")
		t, err := loadTopology(filepath)
		if err != nil {
			logrus.Fatal(err.Error())
			return
		}
		if err := newEngine(cmd).Start(context.Background(), t); err != nil {
			logrus.Fatal(err.Error())
			return
		}
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringP("topo", "t", "", "Path to the topology configuration file")
	startCmd.MarkFlagRequired("topo")
}
