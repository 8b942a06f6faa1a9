// cmd/atlas/search.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Corphon/ChronoAtlas/internal/app"
	"github.com/Corphon/ChronoAtlas/internal/models"
	"github.com/Corphon/ChronoAtlas/internal/services"
)

var (
	searchJSON      bool
	searchSkipVideo bool
)

var searchCmd = &cobra.Command{
	Use:   "search [place]",
	Short: "Reconstruct the history of a place",
	Long: `Runs the full pipeline in-process: timeline, landmarks, archival images,
era illustrations and (unless --skip-video) the cross-era video.

Generated media is written to media_dir. Any stage that fails is replaced
by demo data, so the command always prints a result.

Examples:
  atlas search Kyoto
  atlas search "Constantinople" --skip-video
  atlas search Paris --json > paris.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print the result as JSON")
	searchCmd.Flags().BoolVar(&searchSkipVideo, "skip-video", false, "Skip the video stage")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if searchSkipVideo {
		cfg.Video.Enabled = false
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// JSON 模式下状态信息写到 stderr，保证 stdout 可直接解析
	statusOut := cmd.OutOrStdout()
	if searchJSON {
		statusOut = cmd.ErrOrStderr()
	}
	if _, state := application.LLM.GetProviderStatus(); state != "" {
		fmt.Fprintln(statusOut, mutedStyle.Render("Provider: "+application.LLM.GetProviderName()+" ("+state+")"))
	}

	observer := services.PipelineObserverFuncs{
		StatusFunc: func(progress int, message string) {
			fmt.Fprintf(statusOut, "%s %s\n", mutedStyle.Render(fmt.Sprintf("[%3d%%]", progress)), statusStyle.Render(message))
		},
	}

	result, err := application.Atlas.Run(ctx, query, observer)
	if err != nil {
		return err
	}

	if searchJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	printTimeline(cmd.OutOrStdout(), result)
	return nil
}

// printTimeline 输出时代摘要表
func printTimeline(w io.Writer, data *models.TimelineData) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("ChronoAtlas: "+data.Location))
	fmt.Fprintln(w)

	rows := make([][]string, 0, len(data.Eras))
	for i, era := range data.Eras {
		image := ""
		if url := data.EraImages[era.EraName]; url != nil {
			image = *url
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			era.EraName,
			era.YearRange,
			strconv.Itoa(len(era.People)),
			strconv.Itoa(len(era.Events)),
			strconv.Itoa(len(era.Locations)),
			image,
		})
	}
	fmt.Fprintln(w, renderTable([]string{"#", "Era", "Years", "People", "Events", "Places", "Image"}, rows, terminalWidth()))

	if data.HistoricalSites != nil && len(data.HistoricalSites.Links) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Historical sites"))
		for _, site := range data.HistoricalSites.Links {
			coords := ""
			if site.Lat != nil && site.Lng != nil {
				coords = fmt.Sprintf(" (%.4f, %.4f)", *site.Lat, *site.Lng)
			}
			fmt.Fprintf(w, "  • %s%s\n", site.Title, mutedStyle.Render(coords))
		}
	}

	if data.GlobalVideoURL != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Video: ")+*data.GlobalVideoURL)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("✓ Reconstruction complete"))
}

// terminalWidth 读取 $COLUMNS，默认 120
func terminalWidth() int {
	if columns, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && columns > 40 {
		return columns
	}
	return 120
}
