package main

import (
	"github.com/spf13/cobra"

	"pianocapture/config"
	"pianocapture/debug"
)

var (
	configPath string
	debugLog   bool
)

var rootCmd = &cobra.Command{
	Use:   "pianocapture",
	Short: "Capture piano performances and practice along with a guide",
	Long: `pianocapture records what you play on a MIDI keyboard, ending a take
after a stretch of silence, and keeps a sample-accurate metronome. A loaded
piece can be played back as a guide that waits at each chord until you
press the right keys.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debugLog {
			return debug.Enable()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		debug.Disable()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (.json or .yaml), default ~/.config/pianocapture/config.json")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "write a debug log to ~/.config/pianocapture/debug.log")
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Load()
	}
	return config.LoadFile(configPath)
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
