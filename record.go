package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"pianocapture/clock"
	"pianocapture/midi"
	"pianocapture/session"
)

var recordDir string

func init() {
	recordCmd.Flags().StringVar(&recordDir, "dir", "", "save takes here, default from config")
	rootCmd.AddCommand(recordCmd)
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record takes without the interface",
	Long: `Runs the recorder headless, printing each take as it is saved. Useful
as a background capture daemon.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if recordDir != "" {
			cfg.Recorder.SaveDir = recordDir
		}
		if cfg.Recorder.SaveDir == "" {
			return fmt.Errorf("no save directory: set recorder.saveDir or pass --dir")
		}

		s, err := session.New(session.Options{
			Config:     cfg,
			ConfigPath: configPath,
			Clock:      clock.NewWall(),
			OnRecording: func(r session.Recording) {
				if r.Err != nil {
					fmt.Fprintf(os.Stderr, "take %s not saved: %v\n", r.Sequence.ID, r.Err)
					return
				}
				fmt.Printf("%d notes, %.1fs -> %s\n", len(r.Sequence.Notes), r.Sequence.TotalTime, r.MIDIPath)
			},
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		deviceMgr := midi.NewDeviceManager(cfg.Keyboard.PortName)
		go deviceMgr.Run(ctx)
		go s.WatchDevices(ctx, deviceMgr)

		fmt.Printf("recording to %s, ctrl+c to stop\n", cfg.Recorder.SaveDir)
		return s.Run(ctx)
	},
}
