package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/eladkehat/JZBoy/internal/metrics"
	"github.com/eladkehat/JZBoy/pkg/couchdb"
)

var (
	flagDatabase    string
	flagBatch       bool
	flagMetricsAddr string

	rootCmd = &cobra.Command{
		Use:   "couchctl",
		Short: "CouchDB command line client",
		Long: `couchctl talks to a CouchDB server over its HTTP API.

The server location comes from the COUCHDB_HOST and COUCHDB_PORT environment
variables (default 127.0.0.1:5984), loadable from a .env file.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagMetricsAddr != "" {
				startMetricsServer(cmd.Context(), flagMetricsAddr)
			}
		},
	}

	dbsCmd = &cobra.Command{
		Use:   "dbs",
		Short: "List all databases on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := newServer()
			if err != nil {
				return err
			}
			names, err := server.AllDBs(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	createDBCmd = &cobra.Command{
		Use:   "create-db [name]",
		Short: "Create a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := newDatabase(args[0])
			if err != nil {
				return err
			}
			if err := db.CreateIfNotExists(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("created %s\n", args[0])
			return nil
		},
	}

	deleteDBCmd = &cobra.Command{
		Use:   "delete-db [name]",
		Short: "Delete a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := newDatabase(args[0])
			if err != nil {
				return err
			}
			if err := db.Delete(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}

	infoCmd = &cobra.Command{
		Use:   "info [name]",
		Short: "Show database information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := newDatabase(args[0])
			if err != nil {
				return err
			}
			info, err := db.Info(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [id]",
		Short: "Get a document by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := newDatabase(flagDatabase)
			if err != nil {
				return err
			}
			doc, err := db.GetDocumentOrNil(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("document %q not found", args[0])
			}
			fmt.Printf("id: %s\nrev: %s\n", doc.ID, doc.Rev)
			return printJSON(doc.Content)
		},
	}

	putCmd = &cobra.Command{
		Use:   "put [id] [json]",
		Short: "Create or update a document",
		Long: `Create a document with the given id and JSON content. When the document
already exists its current revision is fetched first and the write becomes an
update.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, body := args[0], args[1]
			db, err := newDatabase(flagDatabase)
			if err != nil {
				return err
			}
			var content map[string]any
			if err := json.Unmarshal([]byte(body), &content); err != nil {
				return fmt.Errorf("content must be a JSON object: %w", err)
			}

			existing, err := db.GetDocumentOrNil(cmd.Context(), id)
			if err != nil {
				return err
			}
			doc := couchdb.NewDocumentWithID(id, content)
			var result *couchdb.Document
			if existing != nil {
				doc.Rev = existing.Rev
				result, err = db.UpdateDocument(cmd.Context(), doc)
			} else {
				result, err = db.CreateDocument(cmd.Context(), doc, flagBatch)
			}
			if err != nil {
				return err
			}
			fmt.Printf("id: %s\nrev: %s\n", result.ID, result.Rev)
			return nil
		},
	}

	deleteDocCmd = &cobra.Command{
		Use:   "delete-doc [id]",
		Short: "Delete a document by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := newDatabase(flagDatabase)
			if err != nil {
				return err
			}
			doc, err := db.GetDocumentOrNil(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("document %q not found", args[0])
			}
			rev, err := db.DeleteDocument(cmd.Context(), doc)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %s (stub rev %s)\n", args[0], rev)
			return nil
		},
	}

	bulkLoadCmd = &cobra.Command{
		Use:   "bulk-load [file]",
		Short: "Bulk-load newline-delimited JSON documents",
		Long: `Read one JSON object per line from the file (or stdin when the file is "-")
and save them through the bulk update buffer. Objects without an _id field get
a client-generated one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := newDatabase(flagDatabase)
			if err != nil {
				return err
			}
			in := os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			loaded := 0
			scanner := bufio.NewScanner(in)
			scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
			for scanner.Scan() {
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}
				var content map[string]any
				if err := json.Unmarshal(line, &content); err != nil {
					return fmt.Errorf("line %d: %w", loaded+1, err)
				}
				id, _ := content["_id"].(string)
				if id == "" {
					id = uuid.NewString()
				} else {
					delete(content, "_id")
				}
				if err := db.SaveInBulk(cmd.Context(), couchdb.NewDocumentWithID(id, content)); err != nil {
					return err
				}
				loaded++
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			report, err := db.FlushBulk(cmd.Context(), false, true)
			if err != nil {
				return err
			}
			for _, row := range report {
				if row.Failed() {
					log.Warn().
						Str("id", row.ID).
						Str("error", row.Error).
						Str("reason", row.Reason).
						Msg("Document rejected")
				}
			}
			fmt.Printf("loaded %d documents\n", loaded)
			return report.Err()
		},
	}

	viewCmd = &cobra.Command{
		Use:   "view [design-doc] [view]",
		Short: "Query a view",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := newDatabase(flagDatabase)
			if err != nil {
				return err
			}
			params := url.Values{}
			if startkey, _ := cmd.Flags().GetString("startkey"); startkey != "" {
				params.Set("startkey", startkey)
			}
			if endkey, _ := cmd.Flags().GetString("endkey"); endkey != "" {
				params.Set("endkey", endkey)
			}
			docs, err := db.QueryView(cmd.Context(), args[0], args[1], params)
			if err != nil {
				return err
			}
			for _, doc := range docs {
				fmt.Printf("%s\t%s\t", doc.ID, doc.Key)
				if err := printJSON(doc.Content); err != nil {
					return err
				}
			}
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address while the command runs")
	for _, cmd := range []*cobra.Command{getCmd, putCmd, deleteDocCmd, bulkLoadCmd, viewCmd} {
		cmd.Flags().StringVarP(&flagDatabase, "database", "d", "", "database name (required)")
		cmd.MarkFlagRequired("database")
	}
	putCmd.Flags().BoolVar(&flagBatch, "batch", false, "write in deferred batch mode")
	viewCmd.Flags().String("startkey", "", "view range start key")
	viewCmd.Flags().String("endkey", "", "view range end key")

	rootCmd.AddCommand(dbsCmd, createDBCmd, deleteDBCmd, infoCmd,
		getCmd, putCmd, deleteDocCmd, bulkLoadCmd, viewCmd)
}

func newServer() (*couchdb.Server, error) {
	host := getEnvOrDefault("COUCHDB_HOST", couchdb.DefaultHost)
	port, err := strconv.Atoi(getEnvOrDefault("COUCHDB_PORT", strconv.Itoa(couchdb.DefaultPort)))
	if err != nil {
		return nil, fmt.Errorf("COUCHDB_PORT must be a number: %w", err)
	}
	return couchdb.NewServer(host, port)
}

func newDatabase(name string) (*couchdb.Database, error) {
	server, err := newServer()
	if err != nil {
		return nil, err
	}
	return couchdb.NewDatabase(server, name)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// startMetricsServer exposes client and system metrics for the duration of
// the command.
func startMetricsServer(ctx context.Context, addr string) {
	metrics.StartSystemCollector(ctx, 5*time.Second)
	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(addr, router); err != nil {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")
}
