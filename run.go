package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"pianocapture/audio"
	"pianocapture/clock"
	"pianocapture/debug"
	"pianocapture/metronome"
	"pianocapture/midi"
	"pianocapture/session"
	"pianocapture/theme"
	"pianocapture/tui"
)

var (
	guidePath   string
	guideHand   string
	palettePath string
)

func init() {
	runCmd.Flags().StringVar(&guidePath, "guide", "", "piece to practice (.mid or .json)")
	runCmd.Flags().StringVar(&guideHand, "hand", "", "guide one hand only: left or right")
	runCmd.Flags().StringVar(&palettePath, "palette", "", "GIMP .gpl palette for the interface")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the recorder interface",
	Long: `Opens the terminal interface. Keyboards are picked up as they are
plugged in. Finished takes are written to the configured save directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession()
	},
}

// openClock prefers the audio device. Without one the recorder and guide
// still work from the wall clock but the metronome stays silent.
func openClock() (clock.Backend, metronome.Sink) {
	engine, err := audio.Open(audio.DefaultSampleRate)
	if err != nil {
		debug.Warn("main", "no audio output, metronome disabled: %v", err)
		return clock.NewWall(), nil
	}
	return engine, engine
}

func runSession() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	palette := theme.Default()
	if palettePath != "" {
		if palette, err = theme.LoadGPL(palettePath); err != nil {
			return err
		}
	}
	th := theme.New(palette)

	backend, sink := openClock()
	s, err := session.New(session.Options{
		Config:     cfg,
		ConfigPath: configPath,
		Clock:      backend,
		Sink:       sink,
	})
	if err != nil {
		return err
	}

	if guidePath != "" {
		seq, err := session.LoadSequence(guidePath)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.Base(guidePath), filepath.Ext(guidePath))
		if err := s.LoadGuide(name, seq, session.Hand(guideHand)); err != nil {
			return err
		}
	}

	deviceMgr := midi.NewDeviceManager(cfg.Keyboard.PortName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go deviceMgr.Run(ctx)

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	m := tui.NewModel(s, deviceMgr, th)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, uiErr := p.Run()

	cancel()
	if err := <-done; err != nil {
		return err
	}
	if uiErr != nil {
		return fmt.Errorf("interface: %w", uiErr)
	}
	return nil
}
