/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"github.com/spf13/cobra"

	"github.com/complianceguardian/guardian/internal/app"
	"github.com/complianceguardian/guardian/internal/buildinfo"
	"github.com/complianceguardian/guardian/log"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server that rate limits requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(flags.configPath)
			if err != nil {
				return err
			}
			logger, closeLogger := log.NewLogger(cfg.Log)
			defer closeLogger()

			logger.Info("starting guardian", log.String("version", buildinfo.GetVersion()),
				log.String("algorithm", string(cfg.RateLimit.Algorithm)),
				log.String("storage", string(cfg.RateLimit.Storage.Type)),
				log.Int("max_requests", cfg.RateLimit.Policy.MaxRequests),
				log.Int64("window_ms", cfg.RateLimit.Policy.WindowMillis()))

			a, err := app.New(cmd.Context(), cfg, logger, app.Opts{})
			if err != nil {
				logger.Error("cannot create guardian", log.Error(err))
				return err
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					logger.Error("cannot close rate limit storage", log.Error(closeErr))
				}
			}()
			return a.Run(cmd.Context())
		},
	}
}
