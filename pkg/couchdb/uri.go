package couchdb

import (
	"fmt"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Endpoint construction for the CouchDB REST API.
//
// All builders are pure: they map host, port, path segments and an optional
// raw query string to a fully encoded URL. Path segments are taken as raw
// identifiers and percent-encoded exactly once by url.URL, so identifiers
// that contain reserved characters survive the round trip and identifiers
// containing slashes (e.g. "_design/foo") keep their structure.
//
// See http://wiki.apache.org/couchdb/URI_templates

func validateEndpointInputs(host string, port int) error {
	return validation.Errors{
		"host": validation.Validate(host, validation.Required),
		"port": validation.Validate(port, validation.Required, validation.Min(1), validation.Max(65535)),
	}.Filter()
}

// buildURI assembles an http URL from raw (unencoded) path and query parts.
// Malformed host/port inputs yield a construction error rather than a bogus
// endpoint.
func buildURI(host string, port int, path, query string) (*url.URL, error) {
	if err := validateEndpointInputs(host, port); err != nil {
		return nil, newConstructionError(err)
	}
	return &url.URL{
		Scheme:   "http",
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     path,
		RawQuery: query,
	}, nil
}

// versionURI is the server root; it reports the welcome message and version.
func versionURI(host string, port int) (*url.URL, error) {
	return buildURI(host, port, "", "")
}

func allDbsURI(host string, port int) (*url.URL, error) {
	return buildURI(host, port, "_all_dbs", "")
}

func configURI(host string, port int) (*url.URL, error) {
	return buildURI(host, port, "_config", "")
}

func statsURI(host string, port int) (*url.URL, error) {
	return buildURI(host, port, "_stats", "")
}

func activeTasksURI(host string, port int) (*url.URL, error) {
	return buildURI(host, port, "_active_tasks", "")
}

func replicateURI(host string, port int) (*url.URL, error) {
	return buildURI(host, port, "_replicate", "")
}

func uuidsURI(host string, port, count int) (*url.URL, error) {
	query := ""
	if count > 0 {
		query = fmt.Sprintf("count=%d", count)
	}
	return buildURI(host, port, "_uuids", query)
}

func databaseURI(host string, port int, dbName string) (*url.URL, error) {
	if err := validation.Validate(dbName, validation.Required); err != nil {
		return nil, newConstructionError(fmt.Errorf("database name: %w", err))
	}
	return buildURI(host, port, dbName, "")
}

func allDocsURI(host string, port int, dbName, query string) (*url.URL, error) {
	return buildURI(host, port, dbName+"/_all_docs", query)
}

func bulkDocsURI(host string, port int, dbName string) (*url.URL, error) {
	return buildURI(host, port, dbName+"/_bulk_docs", "")
}

func dbChangesURI(host string, port int, dbName, query string) (*url.URL, error) {
	return buildURI(host, port, dbName+"/_changes", query)
}

func revsLimitURI(host string, port int, dbName string) (*url.URL, error) {
	return buildURI(host, port, dbName+"/_revs_limit", "")
}

func compactURI(host string, port int, dbName string) (*url.URL, error) {
	return buildURI(host, port, dbName+"/_compact", "")
}

func compactViewURI(host string, port int, dbName, designDocName string) (*url.URL, error) {
	return buildURI(host, port, fmt.Sprintf("%s/_compact/%s", dbName, designDocName), "")
}

func cleanupViewsURI(host string, port int, dbName string) (*url.URL, error) {
	return buildURI(host, port, dbName+"/_view_cleanup", "")
}

// documentURI addresses a single document. An empty docID yields the database
// root, used to POST new documents with a server-generated id. When batch is
// true the write is deferred server-side and no revision is returned.
func documentURI(host string, port int, dbName, docID string, batch bool) (*url.URL, error) {
	path := dbName
	if docID != "" {
		path = fmt.Sprintf("%s/%s", dbName, docID)
	}
	query := ""
	if batch {
		query = "batch=ok"
	}
	return buildURI(host, port, path, query)
}

// deleteDocumentURI addresses a document at a specific revision.
func deleteDocumentURI(host string, port int, dbName, docID, rev string) (*url.URL, error) {
	return buildURI(host, port,
		fmt.Sprintf("%s/%s", dbName, docID),
		"rev="+url.QueryEscape(rev))
}

// attachmentURI addresses a file attachment of a document. rev may be empty.
func attachmentURI(host string, port int, dbName, docID, fileName, rev string) (*url.URL, error) {
	query := ""
	if rev != "" {
		query = "rev=" + url.QueryEscape(rev)
	}
	return buildURI(host, port, fmt.Sprintf("%s/%s/%s", dbName, docID, fileName), query)
}

func designDocURI(host string, port int, dbName, designDocName string) (*url.URL, error) {
	return buildURI(host, port, fmt.Sprintf("%s/_design/%s", dbName, designDocName), "")
}

func designDocInfoURI(host string, port int, dbName, designDocName string) (*url.URL, error) {
	return buildURI(host, port, fmt.Sprintf("%s/_design/%s/_info", dbName, designDocName), "")
}

func queryViewURI(host string, port int, dbName, designDocName, viewName, query string) (*url.URL, error) {
	return buildURI(host, port,
		fmt.Sprintf("%s/_design/%s/_view/%s", dbName, designDocName, viewName), query)
}

func tempViewURI(host string, port int, dbName string) (*url.URL, error) {
	return buildURI(host, port, dbName+"/_temp_view", "")
}

// formatDocURI runs a document through a "show" template.
func formatDocURI(host string, port int, dbName, designDocName, showName, docID string) (*url.URL, error) {
	return buildURI(host, port,
		fmt.Sprintf("%s/_design/%s/_show/%s/%s", dbName, designDocName, showName, docID), "")
}

// formatViewURI runs a view through a "list" template.
func formatViewURI(host string, port int, dbName, designDocName, listName, viewName, query string) (*url.URL, error) {
	return buildURI(host, port,
		fmt.Sprintf("%s/_design/%s/_list/%s/%s", dbName, designDocName, listName, viewName), query)
}
