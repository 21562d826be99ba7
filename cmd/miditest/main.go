package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"pianocapture/midi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "detect":
		detectKeyboard()
	case "monitor":
		monitor()
	case "poll":
		pollDevices()
	default:
		usage()
	}
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list    - List all MIDI input ports")
	fmt.Println("  detect  - Show which ports count as keyboards")
	fmt.Println("  monitor - Print note on/off from the first keyboard")
	fmt.Println("  poll    - Poll for device changes")
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	ins, err := midi.InPorts()
	if err != nil {
		fmt.Printf("\n%v\n", err)
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
		return
	}
	for i, p := range ins {
		fmt.Printf("  %d: %s\n", i, p.String())
	}
}

func filter() string {
	if len(os.Args) > 2 {
		return os.Args[2]
	}
	return ""
}

func detectKeyboard() {
	ins, err := midi.InPorts()
	if err != nil {
		fmt.Println(err)
		return
	}
	found := false
	for i, p := range ins {
		if midi.IsKeyboard(p.String(), filter()) {
			fmt.Printf("Keyboard: %d: %s\n", i, p.String())
			found = true
		}
	}
	if !found {
		fmt.Println("No keyboard found")
	}
}

func firstKeyboard() drivers.In {
	ins, err := midi.InPorts()
	if err != nil {
		fmt.Println(err)
		return nil
	}
	for _, p := range ins {
		if midi.IsKeyboard(p.String(), filter()) {
			return p
		}
	}
	fmt.Println("No keyboard found")
	return nil
}

func monitor() {
	in := firstKeyboard()
	if in == nil {
		return
	}
	fmt.Printf("Listening on %s. Ctrl+C to exit.\n", in.String())

	start := time.Now()
	stop, err := gomidi.ListenTo(in, func(msg gomidi.Message, timestampms int32) {
		evt, ok := midi.Decode(msg)
		if !ok {
			fmt.Printf("%8.3f  %s\n", time.Since(start).Seconds(), msg)
			return
		}
		state := "up  "
		if evt.On {
			state = "down"
		}
		fmt.Printf("%8.3f  %s %-4s vel %3d  ch %d\n", time.Since(start).Seconds(), state, evt.Key(), evt.Velocity, evt.Channel)
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer stop()
	select {}
}

func pollDevices() {
	fmt.Println("Polling for device changes every 2 seconds...")
	fmt.Println("Connect/disconnect a keyboard to test. Ctrl+C to exit.")

	last := ""
	for {
		ins, err := midi.InPorts()
		if err != nil {
			fmt.Println(err)
			time.Sleep(2 * time.Second)
			continue
		}

		var names []string
		for _, p := range ins {
			names = append(names, p.String())
		}

		current := strings.Join(names, ",")
		if current != last {
			fmt.Printf("\n[%s] Device change detected!\n", time.Now().Format("15:04:05"))
			fmt.Printf("  Inputs: %v\n", names)
			for _, name := range names {
				if midi.IsKeyboard(name, filter()) {
					fmt.Printf("  -> keyboard: %s\n", name)
				}
			}
			last = current
		}

		time.Sleep(2 * time.Second)
	}
}
