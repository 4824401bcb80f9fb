package whisperq

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "whisperq",
	Short: "Serialized long-form audio transcription service",
	Long: `whisperq transcribes long audio and video files with whisper models.
Uploads are queued and processed strictly one at a time; long recordings
are split into overlapping windows whose transcripts are merged back
into one document.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLog()
	},
	Run: func(cmd *cobra.Command, args []string) {
		serveCmd.Run(cmd, args)
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append logs to this file instead of stderr")
}

func initLog() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if logLevel != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(logLevel)); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
			if f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				log.Logger = log.Output(f)
				return
			}
		}
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
