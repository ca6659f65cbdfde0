// Package logging configures the global zerolog logger for tools built on the
// CouchDB client: pretty console output, optionally mirrored to Elasticsearch
// in ECS format.
package logging

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.elastic.co/ecszerolog"
)

var setupOnce sync.Once

// ElasticsearchWriter sends each log line to an Elasticsearch index.
type ElasticsearchWriter struct {
	URL string
}

func (ew ElasticsearchWriter) Write(p []byte) (n int, err error) {
	resp, err := http.Post(ew.URL+"/_doc", "application/json", bytes.NewBuffer(p))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("elasticsearch returned %d", resp.StatusCode)
	}
	return len(p), nil
}

// Setup installs the global logger. app tags every event; elasticsearchURL
// may be empty for console-only output. The level comes from the LOG_LEVEL
// environment variable, defaulting to info.
func Setup(app, elasticsearchURL string) {
	setupOnce.Do(func() {
		level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
		if err != nil || level == zerolog.NoLevel {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)

		console := zerolog.ConsoleWriter{Out: os.Stdout}
		if elasticsearchURL == "" {
			log.Logger = zerolog.New(console).With().Str("app", app).
				Timestamp().Logger()
			return
		}

		ecsWriter := ecszerolog.New(&ElasticsearchWriter{
			URL: elasticsearchURL + "/" + app,
		})
		multi := zerolog.MultiLevelWriter(ecsWriter, console)
		log.Logger = zerolog.New(multi).With().Str("app", app).
			Timestamp().Logger()
	})
}
