package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pianocapture/midi"
)

func init() {
	rootCmd.AddCommand(portsCmd)
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI input ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ins, err := midi.InPorts()
		if err != nil {
			return err
		}
		if len(ins) == 0 {
			fmt.Println("no MIDI input ports")
			return nil
		}
		for i, p := range ins {
			mark := " "
			if midi.IsKeyboard(p.String(), cfg.Keyboard.PortName) {
				mark = "*"
			}
			fmt.Printf("%s %d: %s\n", mark, i, p.String())
		}
		fmt.Println("\n* used as a keyboard")
		return nil
	},
}
