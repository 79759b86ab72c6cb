package observability

import (
	"log/slog"
	"os"

	"github.com/optimus-run/optimus/internal/config"
)

// SetupLogger builds the process-wide JSON logger shared by the API
// server and the worker. Dev environments log at debug, everything else
// at info. Every line carries the service name and environment so both
// roles' logs interleave cleanly in one aggregator; workers additionally
// tag lines with job_id/language at the call sites.
func SetupLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
