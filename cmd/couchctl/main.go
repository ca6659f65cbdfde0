// couchctl is a small command line tool for poking at a CouchDB server with
// the client library: listing and managing databases, document CRUD, bulk
// loading and view queries.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/eladkehat/JZBoy/internal/shutdown"
	"github.com/eladkehat/JZBoy/pkg/logging"
)

func main() {
	// Load .env file if present (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	logging.Setup("couchctl", os.Getenv("ELASTICSEARCH_URL"))

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
