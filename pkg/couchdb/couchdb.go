// Package couchdb is a thin client for the CouchDB HTTP/JSON API.
//
// A Server holds the connection details and the shared HTTP transport. A
// Database wraps the database-level API, including document CRUD, view
// queries, attachments and a buffered bulk-update mode. Documents are carried
// as opaque JSON values rather than mapped onto application structs.
package couchdb
