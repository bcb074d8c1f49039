// Command cortexmotion drives a VRM/glTF avatar: it retargets clips onto
// the skeleton, mixes facial expressions and lip-syncs to audio.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	version = "dev"

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "cortexmotion",
		Short:   "Animation retargeting and expression blending for humanoid avatars",
		Version: version,
		Long: titleStyle.Render("cortexmotion") + `

Retargets skeletal clips onto a VRM/glTF avatar, crossfades between them,
and mixes blink, mood and audio-driven lip-sync on the face.

` + dimStyle.Render("Use 'cortexmotion [command] --help' for more information."),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default ~/.cortexmotion/config.yaml)")

	rootCmd.AddCommand(newRunCmd(), newInspectCmd(), newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
