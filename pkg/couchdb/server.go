package couchdb

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

const (
	// DefaultHost is the CouchDB host used by DefaultServer.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the CouchDB port used by DefaultServer.
	DefaultPort = 5984
)

// Server wraps the CouchDB server-level API. It owns the shared HTTP client,
// which is safe to reuse by every Database built on top of it.
//
// See http://wiki.apache.org/couchdb/API_Cheatsheet#CouchDB_Server_Level
type Server struct {
	host   string
	port   int
	client *Client
}

// NewServer creates a Server for the given host and port. Malformed inputs
// yield a construction error.
func NewServer(host string, port int, opts ...Option) (*Server, error) {
	if err := validateEndpointInputs(host, port); err != nil {
		return nil, newConstructionError(err)
	}
	return &Server{host: host, port: port, client: NewClient(opts...)}, nil
}

// DefaultServer creates a Server pointing at the default local CouchDB
// location, localhost on port 5984.
func DefaultServer(opts ...Option) *Server {
	return &Server{host: DefaultHost, port: DefaultPort, client: NewClient(opts...)}
}

// Host returns the server's host name.
func (s *Server) Host() string { return s.host }

// Port returns the server's port number.
func (s *Server) Port() int { return s.port }

// Client returns the HTTP client maintained by this server. It is safe to
// reuse it from other objects that access CouchDB.
func (s *Server) Client() *Client { return s.client }

// Version returns the server's version number. Useful for determining
// whether the server is accessible; the welcome message that comes along is
// discarded.
func (s *Server) Version(ctx context.Context) (string, error) {
	uri, err := versionURI(s.host, s.port)
	if err != nil {
		return "", err
	}
	body, err := s.client.Get(ctx, uri)
	if err != nil {
		return "", err
	}
	obj, _ := body.(map[string]any)
	version, _ := obj["version"].(string)
	return version, nil
}

// AllDBs returns the names of all databases on this server.
func (s *Server) AllDBs(ctx context.Context) ([]string, error) {
	uri, err := allDbsURI(s.host, s.port)
	if err != nil {
		return nil, err
	}
	body, err := s.client.Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	items, ok := body.([]any)
	if !ok {
		return nil, fmt.Errorf("_all_dbs did not return an array")
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if name, ok := item.(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Config returns the server's configuration data as a JSON value.
func (s *Server) Config(ctx context.Context) (any, error) {
	uri, err := configURI(s.host, s.port)
	if err != nil {
		return nil, err
	}
	return s.client.Get(ctx, uri)
}

// Stats returns the server's statistics as a JSON value.
func (s *Server) Stats(ctx context.Context) (any, error) {
	uri, err := statsURI(s.host, s.port)
	if err != nil {
		return nil, err
	}
	return s.client.Get(ctx, uri)
}

// NextUUIDs returns count UUIDs that can be used as ids for new documents.
func (s *Server) NextUUIDs(ctx context.Context, count int) ([]string, error) {
	uri, err := uuidsURI(s.host, s.port, count)
	if err != nil {
		return nil, err
	}
	body, err := s.client.Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	obj, _ := body.(map[string]any)
	items, ok := obj["uuids"].([]any)
	if !ok {
		return nil, fmt.Errorf("_uuids did not return a uuids array")
	}
	uuids := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := item.(string); ok {
			uuids = append(uuids, id)
		}
	}
	return uuids, nil
}

// NextUUID returns a single server-generated UUID.
func (s *Server) NextUUID(ctx context.Context) (string, error) {
	uuids, err := s.NextUUIDs(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(uuids) == 0 {
		return "", fmt.Errorf("_uuids returned an empty list")
	}
	return uuids[0], nil
}

// ActiveTasks returns the tasks currently running on the server, each as a
// JSON value.
func (s *Server) ActiveTasks(ctx context.Context) ([]any, error) {
	uri, err := activeTasksURI(s.host, s.port)
	if err != nil {
		return nil, err
	}
	body, err := s.client.Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	tasks, ok := body.([]any)
	if !ok {
		return nil, fmt.Errorf("_active_tasks did not return an array")
	}
	return tasks, nil
}

// Replicate triggers a replication between two databases. The source and
// target strings are copied as-is into the JSON posted to CouchDB; see the
// CouchDB replication docs for how to name local and remote databases.
func (s *Server) Replicate(ctx context.Context, source, target string, continuous bool) (any, error) {
	uri, err := replicateURI(s.host, s.port)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"source": source, "target": target}
	if continuous {
		payload["continuous"] = true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return s.client.Post(ctx, uri, string(data))
}

func (s *Server) String() string {
	return fmt.Sprintf("CouchDB @http://%s:%d/", s.host, s.port)
}
