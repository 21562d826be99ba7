package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"pianocapture/audio"
	"pianocapture/clock"
	"pianocapture/metronome"
	"pianocapture/notes"
)

var (
	clickBPM      float64
	clickMeter    string
	clickDuration time.Duration
)

func init() {
	metronomeCmd.Flags().Float64Var(&clickBPM, "bpm", 0, "tempo, default from config")
	metronomeCmd.Flags().StringVar(&clickMeter, "ts", "", "time signature such as 3/4, default from config")
	metronomeCmd.Flags().DurationVar(&clickDuration, "duration", 0, "stop after this long, default until interrupted")
	rootCmd.AddCommand(metronomeCmd)
}

var metronomeCmd = &cobra.Command{
	Use:   "metronome",
	Short: "Play a click track without the interface",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mc, err := cfg.MetronomeConfig()
		if err != nil {
			return err
		}
		if clickBPM != 0 {
			mc.BPM = clickBPM
		}
		if clickMeter != "" {
			if mc.TimeSignature, err = notes.ParseTimeSignature(clickMeter); err != nil {
				return err
			}
		}

		engine, err := audio.Open(audio.DefaultSampleRate)
		if err != nil {
			return err
		}
		engine.SetVolume(cfg.Metronome.Volume)

		ac := clock.Acquire(engine)
		s, err := metronome.New(ac, engine, mc)
		defer ac.Release()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if clickDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, clickDuration)
			defer cancel()
		}

		if err := s.Start(); err != nil {
			return err
		}
		fmt.Printf("%.0f bpm %s, ctrl+c to stop\n", mc.BPM, mc.TimeSignature)
		go s.Run(ctx)

		for {
			select {
			case <-ctx.Done():
				s.Stop()
				fmt.Println()
				return nil
			case beat := <-s.Beats():
				if beat == 0 {
					fmt.Print("\n|")
				}
				fmt.Print(" ", beat+1)
			}
		}
	},
}
