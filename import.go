package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pianocapture/notes"
	"pianocapture/session"
)

var (
	importGhost  float64
	importHand   string
	importOutput string
)

func init() {
	importCmd.Flags().Float64Var(&importGhost, "ghost", 0, "drop notes shorter than this many seconds")
	importCmd.Flags().StringVar(&importHand, "hand", "", "keep one hand only: left or right")
	importCmd.Flags().StringVarP(&importOutput, "output", "o", "", "write JSON here instead of stdout")
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Convert a MIDI file into a JSON note sequence",
	Long: `Reads a standard MIDI file (or a JSON sequence) and writes the note
sequence as JSON, optionally cleaned of ghost notes and split by hand.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := session.LoadSequence(args[0])
		if err != nil {
			return err
		}

		if importGhost > 0 {
			n := notes.RemoveGhostNotes(seq, importGhost)
			fmt.Fprintf(os.Stderr, "removed %d ghost notes\n", n)
		}

		switch session.Hand(importHand) {
		case session.BothHands:
		case session.RightHand, session.LeftHand:
			right, left := notes.SplitHands(seq)
			part := right
			if session.Hand(importHand) == session.LeftHand {
				part = left
			}
			if part == nil {
				return fmt.Errorf("%s hand has no notes", importHand)
			}
			part.ID = seq.ID
			seq = part
		default:
			return fmt.Errorf("unknown hand %q, want left or right", importHand)
		}

		data, err := json.MarshalIndent(seq, "", "  ")
		if err != nil {
			return err
		}
		if importOutput == "" {
			_, err = fmt.Println(string(data))
			return err
		}
		if err := os.WriteFile(importOutput, data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%d notes, %.2fs -> %s\n", len(seq.Notes), seq.TotalTime, importOutput)
		return nil
	},
}
