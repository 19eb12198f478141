package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sentilens/sentilens/internal/observability"
)

func TestLoggers(t *testing.T) {
	t.Run("CLI logger creation", func(t *testing.T) {
		observability.InitCLILogger("sentilens-test", true)
		require.NotNil(t, observability.CLILogger)

		observability.CLILogger.Debug("debug message", zap.String("mode", "verbose"))
	})

	t.Run("Logger prefers the server logger", func(t *testing.T) {
		previous := observability.ServerLogger
		t.Cleanup(func() { observability.ServerLogger = previous })

		observability.InitServerLogger("sentilens-test", "warn", "sentilens")
		require.NotNil(t, observability.ServerLogger)
		require.Same(t, observability.ServerLogger, observability.Logger())

		observability.Logger().Info("structured message",
			zap.String("component", "test"),
			zap.Int("items", 3))
	})

	t.Run("Logger falls back when nothing is initialized", func(t *testing.T) {
		cli, srv := observability.CLILogger, observability.ServerLogger
		t.Cleanup(func() {
			observability.CLILogger, observability.ServerLogger = cli, srv
		})
		observability.CLILogger, observability.ServerLogger = nil, nil

		require.NotNil(t, observability.Logger())
	})
}

func TestCrucibleVersion(t *testing.T) {
	version := crucible.GetVersion()
	require.NotEmpty(t, version.Gofulmen)
	require.NotEmpty(t, version.Crucible)
}
