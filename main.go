package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/schollz/duovox/internal/engine"
)

func midiPortNames() (ins, outs []string) {
	for _, p := range midi.InPorts() {
		ins = append(ins, p.String())
	}
	for _, p := range midi.OutPorts() {
		outs = append(outs, p.String())
	}
	return
}

var (
	presetDir   string
	debugLog    string
	dawHost     string
	dawPort     int
	kbdPort     string
	seqPort     string
	extPort     string
	outPort     string
	refTempoWAV string
)

func main() {
	root := &cobra.Command{
		Use:   "duovoxd",
		Short: "duovoxd is the dual-layer hybrid synth control engine daemon",
	}
	root.PersistentFlags().StringVar(&presetDir, "preset-dir", "presets", "directory holding config/blacklist/preset files")
	root.PersistentFlags().StringVar(&debugLog, "debug", "", "if set, write debug logs to this file; empty disables logging")

	root.AddCommand(runCmd(), presetCmd(), devicesCmd())

	if err := root.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func setupLogging() {
	if debugLog != "" {
		f, err := tea.LogToFile(debugLog, "debug")
		if err != nil {
			log.Printf("could not open debug log: %v", err)
			return
		}
		log.SetOutput(f)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		return
	}
	log.SetOutput(io.Discard)
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the instrument: MIDI, sequencer, arpeggiator, DAW/GUI bridges",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			e, err := engine.New(engine.Config{
				PresetDir:         presetDir,
				KeyboardPortName:  kbdPort,
				SequencerPortName: seqPort,
				ExternalPortName:  extPort,
				OutPortName:       outPort,
				DawHost:           dawHost,
				DawPort:           dawPort,
				ReferenceTempoWAV: refTempoWAV,
			})
			if err != nil {
				return fmt.Errorf("construct engine: %w", err)
			}
			if err := e.Start(); err != nil {
				return fmt.Errorf("start engine: %w", err)
			}
			defer e.Stop()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

			p := tea.NewProgram(e.Term, tea.WithAltScreen())
			go func() {
				<-sig
				p.Quit()
			}()
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&kbdPort, "kbd-port", "", "MIDI port name for the keyboard ingress path")
	cmd.Flags().StringVar(&seqPort, "seq-port", "", "MIDI port name for the sequencer/USB ingress path")
	cmd.Flags().StringVar(&extPort, "ext-port", "", "MIDI port name for the external DIN ingress path")
	cmd.Flags().StringVar(&outPort, "out-port", "", "MIDI port name to mirror outgoing/echo traffic to")
	cmd.Flags().StringVar(&dawHost, "daw-host", "127.0.0.1", "host the DAW/DSP engine's OSC server listens on")
	cmd.Flags().IntVar(&dawPort, "daw-port", 57120, "port the DAW/DSP engine's OSC server listens on")
	cmd.Flags().StringVar(&refTempoWAV, "reference-tempo-wav", "", "WAV file whose duration seeds the default tempo on a from-factory boot")
	return cmd
}

func presetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "inspect or mutate the preset store without starting the instrument",
	}
	cmd.AddCommand(presetInitCmd())
	return cmd
}

func presetInitCmd() *cobra.Command {
	var d0, d1 string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "reset the working preset to the embedded factory default",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.New(engine.Config{PresetDir: presetDir})
			if err != nil {
				return err
			}
			if err := e.Preset.Startup(); err != nil {
				return err
			}
			return e.Preset.InitPreset([2]string{d0, d1})
		},
	}
	cmd.Flags().StringVar(&d0, "d0-name", "D0", "patch name for layer D0")
	cmd.Flags().StringVar(&d1, "d1-name", "D1", "patch name for layer D1")
	return cmd
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "list available MIDI ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ins, outs := midiPortNames()
			fmt.Println("inputs:")
			for _, n := range ins {
				fmt.Printf("  %s\n", n)
			}
			fmt.Println("outputs:")
			for _, n := range outs {
				fmt.Printf("  %s\n", n)
			}
			return nil
		},
	}
}
