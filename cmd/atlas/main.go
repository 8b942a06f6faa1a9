// cmd/atlas/main.go
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Corphon/ChronoAtlas/internal/config"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

var (
	configPath string
	verbose    bool
)

// 终端样式
var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#D4B483")).Bold(true)
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")).Italic(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
)

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "ChronoAtlas - multi-era historical atlas generator",
	Long: `ChronoAtlas reconstructs the history of a place: a five-era timeline,
mapped landmarks, archival images, era illustrations, a cinematic video and
spoken narration, generated by an AI provider with demo data as fallback.

Environment variables:
  LLM_PROVIDER     google (default), openai or offline
  GEMINI_API_KEY   key for the google provider
  OPENAI_API_KEY   key for the openai provider
  CONFIG_FILE      optional YAML configuration`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults to $CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline details to stderr")
}

// loadConfig 加载配置并初始化日志；命令行默认只输出错误日志
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := "error"
	if verbose {
		level = "debug"
	}
	if _, err := utils.InitLogger(level, cfg.LogFile, false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	// .env 是可选的
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}
