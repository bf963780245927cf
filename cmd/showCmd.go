package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show Resources",
	Long:  `Show the live resources recorded for a running topology.`,
	Run: func(cmd *cobra.Command, args []string) {
		identity, err := resolveIdentity(cmd)
		if err != nil {
			logrus.Fatal(err.Error())
			return
		}
		rec, err := newEngine(cmd).Store().Load(identity)
		if err != nil {
			logrus.Fatal(err.Error())
			return
		}
		if rec == nil {
			fmt.Printf("Topology %s is not running\n", identity)
			return
		}

		class := cmd.Flag("class").Value.String()
		switch class {
		case "devices":
			for _, d := range rec.Devices {
				fmt.Printf("Device: %s, Kind: %s, NsPath: %s\n", d.Name, d.Kind, d.NsPath)
			}
		case "links":
			for _, l := range rec.Links {
				fmt.Printf("Link: Src: %s:%s, Dst: %s:%s\n",
					l.Ends[0].Device, l.Ends[0].Iface, l.Ends[1].Device, l.Ends[1].Iface)
			}
		default:
			fmt.Println("Invalid class")
		}
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringP("topo", "t", "", "Path to the topology configuration file")
	showCmd.Flags().String("name", "", "Topology identity recorded by start")
	showCmd.Flags().String("class", "devices", "Class of the element to show")
	showCmd.MarkFlagsOneRequired("topo", "name")
}
