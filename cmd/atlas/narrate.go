// cmd/atlas/narrate.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Corphon/ChronoAtlas/internal/app"
)

var (
	narrateEra int
	narrateOut string
)

var narrateCmd = &cobra.Command{
	Use:   "narrate [place]",
	Short: "Generate spoken narration for one era of a place",
	Long: `Fetches the timeline for the place, then synthesizes a narration of the
selected era (1-based) and writes it as a WAV file.

Example:
  atlas narrate Rome --era 2 --out rome-era2.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: runNarrate,
}

func init() {
	rootCmd.AddCommand(narrateCmd)
	narrateCmd.Flags().IntVar(&narrateEra, "era", 1, "Era number (1-based)")
	narrateCmd.Flags().StringVarP(&narrateOut, "out", "o", "narration.wav", "Output WAV file")
}

func runNarrate(cmd *cobra.Command, args []string) error {
	place := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, statusStyle.Render("Retrieving historical timeline data..."))
	timeline := application.Atlas.FetchHistoricalTimeline(ctx, place)

	if narrateEra < 1 || narrateEra > len(timeline.Eras) {
		return fmt.Errorf("era must be between 1 and %d", len(timeline.Eras))
	}
	era := timeline.Eras[narrateEra-1]

	fmt.Fprintln(out, statusStyle.Render(fmt.Sprintf("Narrating %s (%s)...", era.EraName, era.YearRange)))
	audio, err := application.Narration.GenerateEraSpeech(ctx, timeline.Location, era)
	if err != nil {
		return err
	}

	if err := os.WriteFile(narrateOut, audio, 0644); err != nil {
		return fmt.Errorf("写入音频文件失败: %w", err)
	}
	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ Wrote %s (%d bytes)", narrateOut, len(audio))))
	return nil
}
