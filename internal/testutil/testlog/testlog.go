package testlog

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/fieldbus/pvgate/internal/logging"
)

// Start configures the test log profile and returns a logger routed
// through t.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	return zerolog.New(zerolog.NewTestWriter(t)).With().Str("test", t.Name()).Logger()
}
