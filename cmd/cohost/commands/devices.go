package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/cohost/pkg/cohost/playback/portaudio"
)

// newDevicesCmd creates the `cohost devices` command that lists audio
// outputs for tts.device_index.
func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio output devices",
		Long: `List the audio devices seen by PortAudio. Use the index with
tts.device_index (or TTS_DEVICE_INDEX) to pick the speech output.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			backend, err := portaudio.Open()
			if err != nil {
				return err
			}
			defer backend.Close()

			devices, err := backend.Devices()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tOUTPUTS\tRATE\tDEFAULT")
			for _, d := range devices {
				if d.MaxOutputChannels < 1 {
					continue
				}
				def := ""
				if d.IsDefault {
					def = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%.0f\t%s\n", d.Index, d.Name, d.MaxOutputChannels, d.DefaultSampleRate, def)
			}
			return w.Flush()
		},
	}
}
