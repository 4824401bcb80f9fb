package whisperq

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/whisperq/whisperq/internal/whisperq"
	"github.com/whisperq/whisperq/internal/whisperq/conf"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transcription service",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := conf.Load(configFile)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
		if logLevel == "" && cfg.LogLevel != "" {
			logLevel = cfg.LogLevel
			initLog()
		}

		app, err := whisperq.New(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize service")
		}
		if err := app.Run(); err != nil {
			log.Fatal().Err(err).Msg("service exited with error")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
