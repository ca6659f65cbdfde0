package couchdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Database wraps the CouchDB database-level API: document CRUD, views,
// attachments, maintenance calls and a buffered bulk-update mode.
//
// A Database owns exactly one bulk-update buffer whose lifetime equals the
// handle's; see bulk.go. All remote calls are blocking.
type Database struct {
	server *Server
	name   string

	// Guards the bulk buffer. add/flush/clear/size all serialize through it
	// so a flush triggered by one goroutine's save cannot interleave with
	// another's.
	bulkMu    sync.Mutex
	bulkDocs  []*Document
	bulkLimit int
}

// NewDatabase creates a handle for the named database on server.
func NewDatabase(server *Server, name string) (*Database, error) {
	if _, err := databaseURI(server.Host(), server.Port(), name); err != nil {
		return nil, err
	}
	return &Database{server: server, name: name, bulkLimit: DefaultBulkLimit}, nil
}

// OpenDatabase creates a handle along with its encapsulated Server.
func OpenDatabase(host string, port int, name string, opts ...Option) (*Database, error) {
	server, err := NewServer(host, port, opts...)
	if err != nil {
		return nil, err
	}
	return NewDatabase(server, name)
}

// Name returns the database name.
func (db *Database) Name() string { return db.name }

// Server returns the server this database lives on.
func (db *Database) Server() *Server { return db.server }

func (db *Database) uri() (*url.URL, error) {
	return databaseURI(db.server.Host(), db.server.Port(), db.name)
}

func (db *Database) client() *Client { return db.server.Client() }

// Info returns information about the database as a JSON value.
func (db *Database) Info(ctx context.Context) (any, error) {
	uri, err := db.uri()
	if err != nil {
		return nil, err
	}
	return db.client().Get(ctx, uri)
}

// InfoAsMap returns the database information with every value rendered as a
// string.
func (db *Database) InfoAsMap(ctx context.Context) (map[string]string, error) {
	body, err := db.Info(ctx)
	if err != nil {
		return nil, err
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("database info is not a JSON object")
	}
	info := make(map[string]string, len(obj))
	for k, v := range obj {
		info[k] = fmt.Sprintf("%v", v)
	}
	return info, nil
}

// Exists checks whether this database exists on the server. A 200 means yes
// and a 404 means no; any other status is surfaced as a protocol error. This
// avoids the overhead of calling Info and unwrapping the error.
func (db *Database) Exists(ctx context.Context) (bool, error) {
	uri, err := db.uri()
	if err != nil {
		return false, err
	}
	res, err := db.client().GetResponse(ctx, uri)
	if err != nil {
		return false, err
	}
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, newProtocolError(res.StatusCode, res.Body)
	}
}

// Create creates this database on the server.
func (db *Database) Create(ctx context.Context) error {
	uri, err := db.uri()
	if err != nil {
		return err
	}
	_, err = db.client().Put(ctx, uri, "")
	return err
}

// CreateIfNotExists creates this database unless it already exists.
func (db *Database) CreateIfNotExists(ctx context.Context) error {
	exists, err := db.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return db.Create(ctx)
	}
	return nil
}

// Delete deletes this database. Deletion occasionally fails server-side with
// a 500, so such responses are retried a few times before the error is
// surfaced.
func (db *Database) Delete(ctx context.Context) error {
	uri, err := db.uri()
	if err != nil {
		return err
	}
	_, err = db.client().DeleteWithBusyRetry(ctx, uri)
	return err
}

// RevsLimit returns the upper bound of document revisions the server keeps
// track of for this database.
func (db *Database) RevsLimit(ctx context.Context) (int, error) {
	uri, err := revsLimitURI(db.server.Host(), db.server.Port(), db.name)
	if err != nil {
		return 0, err
	}
	body, err := db.client().GetBody(ctx, uri)
	if err != nil {
		return 0, err
	}
	// the result is followed by a newline, which must be trimmed or Atoi fails
	return strconv.Atoi(strings.TrimSpace(body))
}

// SetRevsLimit sets the upper bound of document revisions the server keeps
// track of for this database.
func (db *Database) SetRevsLimit(ctx context.Context, limit int) error {
	uri, err := revsLimitURI(db.server.Host(), db.server.Port(), db.name)
	if err != nil {
		return err
	}
	_, err = db.client().Put(ctx, uri, strconv.Itoa(limit))
	return err
}

// Changes returns the list of changes made to documents in the database,
// filtered by the given query parameters (since, limit and so on).
// Continuous feeds are not supported by this method.
func (db *Database) Changes(ctx context.Context, params url.Values) ([]any, error) {
	if params.Get("continuous") == "true" {
		return nil, newValidationError("'continuous' feeds are not supported by this method")
	}
	uri, err := dbChangesURI(db.server.Host(), db.server.Port(), db.name, params.Encode())
	if err != nil {
		return nil, err
	}
	body, err := db.client().Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	obj, _ := body.(map[string]any)
	rows, ok := obj["results"].([]any)
	if !ok {
		return nil, fmt.Errorf("_changes did not return a results array")
	}
	return rows, nil
}

// Compact triggers compaction of this database.
func (db *Database) Compact(ctx context.Context) error {
	uri, err := compactURI(db.server.Host(), db.server.Port(), db.name)
	if err != nil {
		return err
	}
	_, err = db.client().Post(ctx, uri, "")
	return err
}

// CompactViews compacts the views in the named design document. The name
// excludes the "_design/" prefix.
func (db *Database) CompactViews(ctx context.Context, designDocName string) error {
	uri, err := compactViewURI(db.server.Host(), db.server.Port(), db.name, designDocName)
	if err != nil {
		return err
	}
	_, err = db.client().Post(ctx, uri, "")
	return err
}

// CleanupViews removes outdated view indexes that remain on disk.
func (db *Database) CleanupViews(ctx context.Context) error {
	uri, err := cleanupViewsURI(db.server.Host(), db.server.Port(), db.name)
	if err != nil {
		return err
	}
	_, err = db.client().Post(ctx, uri, "")
	return err
}

// GetDocument retrieves a document by id. A missing document surfaces as a
// protocol error with a 404 status.
func (db *Database) GetDocument(ctx context.Context, id string) (*Document, error) {
	uri, err := documentURI(db.server.Host(), db.server.Port(), db.name, id, false)
	if err != nil {
		return nil, err
	}
	body, err := db.client().Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	return buildDocumentFromJSONResponse(body)
}

// GetDocumentOrNil retrieves a document by id, returning nil rather than an
// error when it is missing. Any error code other than 404 is still surfaced.
func (db *Database) GetDocumentOrNil(ctx context.Context, id string) (*Document, error) {
	uri, err := documentURI(db.server.Host(), db.server.Port(), db.name, id, false)
	if err != nil {
		return nil, err
	}
	res, err := db.client().GetResponse(ctx, uri)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded() {
		if res.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, newProtocolError(res.StatusCode, res.Body)
	}
	body, err := res.JSON()
	if err != nil {
		return nil, err
	}
	return buildDocumentFromJSONResponse(body)
}

// GetDocuments retrieves multiple documents by id with a single request.
// Ids that were not found are omitted, so the result may be shorter than the
// input. Pass include_docs=true in params to get full content; otherwise each
// returned Document carries an id and revision only.
func (db *Database) GetDocuments(ctx context.Context, ids []string, params url.Values) ([]*Document, error) {
	payload, err := json.Marshal(map[string]any{"keys": ids})
	if err != nil {
		return nil, err
	}
	uri, err := allDocsURI(db.server.Host(), db.server.Port(), db.name, params.Encode())
	if err != nil {
		return nil, err
	}
	body, err := db.client().Post(ctx, uri, string(payload))
	if err != nil {
		return nil, err
	}
	return parseDocuments(body)
}

// GetDocumentsWithContent is a convenience wrapper around GetDocuments with
// include_docs=true.
func (db *Database) GetDocumentsWithContent(ctx context.Context, ids []string) ([]*Document, error) {
	return db.GetDocuments(ctx, ids, includeDocsParams(true))
}

// AllDocuments retrieves the database's documents, optionally filtered by
// view query parameters.
func (db *Database) AllDocuments(ctx context.Context, params url.Values) ([]*Document, error) {
	uri, err := allDocsURI(db.server.Host(), db.server.Port(), db.name, params.Encode())
	if err != nil {
		return nil, err
	}
	body, err := db.client().Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	return parseDocuments(body)
}

// AllDocumentsWithContent is a convenience wrapper around AllDocuments with
// include_docs=true.
func (db *Database) AllDocumentsWithContent(ctx context.Context) ([]*Document, error) {
	return db.AllDocuments(ctx, includeDocsParams(true))
}

func includeDocsParams(includeDocs bool) url.Values {
	params := url.Values{}
	if includeDocs {
		params.Set("include_docs", "true")
	}
	return params
}

// CreateDocument creates a new document. When doc carries an id the document
// is stored under it, otherwise the server generates one. When batch is true
// the server acknowledges receipt without returning a revision and applies
// the write asynchronously.
//
// The returned Document holds the new id and revision plus the server's
// response body; it does not repeat the submitted content.
func (db *Database) CreateDocument(ctx context.Context, doc *Document, batch bool) (*Document, error) {
	if !doc.HasContent() {
		return nil, newValidationError("cannot create a document without content")
	}
	if _, err := doc.contentObject(); err != nil {
		return nil, err
	}
	content, err := doc.contentJSON()
	if err != nil {
		return nil, err
	}
	uri, err := documentURI(db.server.Host(), db.server.Port(), db.name, doc.ID, batch)
	if err != nil {
		return nil, err
	}
	var body any
	if doc.HasID() {
		body, err = db.client().Put(ctx, uri, content)
	} else {
		// POST rather than PUT has the server generate an id for us
		body, err = db.client().Post(ctx, uri, content)
	}
	if err != nil {
		return nil, err
	}
	return parseDocumentResult(body)
}

// UpdateDocument updates an existing document. doc must carry its id, its
// current revision and the entire document content, not just the changed
// parts. If the revision is stale the server answers with a 409 conflict.
func (db *Database) UpdateDocument(ctx context.Context, doc *Document) (*Document, error) {
	// CouchDB will not update a doc without a revision, so catch it before
	// going on the wire
	if !doc.HasRev() {
		return nil, newValidationError(
			fmt.Sprintf("cannot update %q - missing a current revision", doc.ID))
	}
	obj, err := doc.contentObject()
	if err != nil {
		return nil, err
	}
	obj["_rev"] = doc.Rev
	content, err := doc.contentJSON()
	if err != nil {
		return nil, err
	}
	uri, err := documentURI(db.server.Host(), db.server.Port(), db.name, doc.ID, false)
	if err != nil {
		return nil, err
	}
	// connection resets are quite common with updates, so retry a few times
	body, err := db.client().PutWithRetry(ctx, uri, content, DefaultUpdateRetries)
	if err != nil {
		return nil, err
	}
	return parseDocumentResult(body)
}

// DeleteDocument deletes a document. doc must carry an id and revision; its
// content is ignored. The revision of the deletion stub is returned.
func (db *Database) DeleteDocument(ctx context.Context, doc *Document) (string, error) {
	if !doc.HasRev() {
		return "", newValidationError(
			fmt.Sprintf("cannot delete %q - missing a current revision", doc.ID))
	}
	uri, err := deleteDocumentURI(db.server.Host(), db.server.Port(), db.name, doc.ID, doc.Rev)
	if err != nil {
		return "", err
	}
	body, err := db.client().Delete(ctx, uri)
	if err != nil {
		return "", err
	}
	obj, _ := body.(map[string]any)
	rev, _ := obj["rev"].(string)
	return rev, nil
}

// GetAttachment returns a document attachment as a byte slice.
func (db *Database) GetAttachment(ctx context.Context, docID, fileName string) ([]byte, error) {
	uri, err := attachmentURI(db.server.Host(), db.server.Port(), db.name, docID, fileName, "")
	if err != nil {
		return nil, err
	}
	res, err := db.client().GetRaw(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		io.Copy(io.Discard, res.Body) // release the underlying connection
		return nil, newProtocolError(res.StatusCode, reasonPhrase(res))
	}
	return io.ReadAll(res.Body)
}

// GetAttachmentRaw returns the raw http.Response for an attachment. Use it
// for low-level access, e.g. to stream the payload or read its content-type
// header. The caller must drain and close the body.
func (db *Database) GetAttachmentRaw(ctx context.Context, docID, fileName string) (*http.Response, error) {
	uri, err := attachmentURI(db.server.Host(), db.server.Port(), db.name, docID, fileName, "")
	if err != nil {
		return nil, err
	}
	return db.client().GetRaw(ctx, uri)
}

// SaveAttachment creates or updates a document attachment. When doc carries
// no revision a new document is created along with the attachment. The
// content type is transmitted as supplied.
func (db *Database) SaveAttachment(ctx context.Context, doc *Document, fileName string, data []byte, contentType string) (*Document, error) {
	uri, err := attachmentURI(db.server.Host(), db.server.Port(), db.name, doc.ID, fileName, doc.Rev)
	if err != nil {
		return nil, err
	}
	body, err := db.client().PutBytes(ctx, uri, data, contentType)
	if err != nil {
		return nil, err
	}
	return parseDocumentResult(body)
}

// DeleteAttachment deletes a document attachment. doc must carry both an id
// and a revision. The returned Document holds the updated revision.
func (db *Database) DeleteAttachment(ctx context.Context, doc *Document, fileName string) (*Document, error) {
	if !doc.HasRev() {
		return nil, newValidationError(
			fmt.Sprintf("cannot delete attachment of %q - missing a current revision", doc.ID))
	}
	uri, err := attachmentURI(db.server.Host(), db.server.Port(), db.name, doc.ID, fileName, doc.Rev)
	if err != nil {
		return nil, err
	}
	body, err := db.client().Delete(ctx, uri)
	if err != nil {
		return nil, err
	}
	return parseDocumentResult(body)
}

// GetDesignDocument retrieves a design document by name. The name excludes
// the "_design/" prefix.
func (db *Database) GetDesignDocument(ctx context.Context, designDocName string) (any, error) {
	uri, err := designDocURI(db.server.Host(), db.server.Port(), db.name, designDocName)
	if err != nil {
		return nil, err
	}
	return db.client().Get(ctx, uri)
}

// DesignDocumentInfo retrieves information about a design document, e.g. its
// index sizes and update sequence.
func (db *Database) DesignDocumentInfo(ctx context.Context, designDocName string) (any, error) {
	uri, err := designDocInfoURI(db.server.Host(), db.server.Port(), db.name, designDocName)
	if err != nil {
		return nil, err
	}
	return db.client().Get(ctx, uri)
}

// QueryView retrieves documents from a view, filtered by query parameters
// such as startkey, endkey and limit.
func (db *Database) QueryView(ctx context.Context, designDocName, viewName string, params url.Values) ([]*Document, error) {
	body, err := db.QueryViewRaw(ctx, designDocName, viewName, params)
	if err != nil {
		return nil, err
	}
	return parseDocuments(body)
}

// QueryViewRaw queries a view and returns the raw JSON, including metadata
// like total_rows. Use it to process the rows yourself, e.g. with limit=0 to
// fetch only the row count.
func (db *Database) QueryViewRaw(ctx context.Context, designDocName, viewName string, params url.Values) (any, error) {
	uri, err := queryViewURI(db.server.Host(), db.server.Port(), db.name,
		designDocName, viewName, params.Encode())
	if err != nil {
		return nil, err
	}
	return db.client().Get(ctx, uri)
}

// GetFromView retrieves the view rows whose keys match the given keys. If
// keys is ordered the results match that order.
func (db *Database) GetFromView(ctx context.Context, designDocName, viewName string, keys []string, params url.Values) ([]*Document, error) {
	payload, err := json.Marshal(map[string]any{"keys": keys})
	if err != nil {
		return nil, err
	}
	uri, err := queryViewURI(db.server.Host(), db.server.Port(), db.name,
		designDocName, viewName, params.Encode())
	if err != nil {
		return nil, err
	}
	body, err := db.client().Post(ctx, uri, string(payload))
	if err != nil {
		return nil, err
	}
	return parseDocuments(body)
}

// TempView runs an ad-hoc view. view is the view code, e.g.
// {"map": "function(doc) { ... }"}.
func (db *Database) TempView(ctx context.Context, view any) ([]*Document, error) {
	payload, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	uri, err := tempViewURI(db.server.Host(), db.server.Port(), db.name)
	if err != nil {
		return nil, err
	}
	body, err := db.client().Post(ctx, uri, string(payload))
	if err != nil {
		return nil, err
	}
	return parseDocuments(body)
}

// FormatDocument renders a document through a "show" template and returns the
// formatted body.
func (db *Database) FormatDocument(ctx context.Context, designDocName, showName, docID string) (string, error) {
	uri, err := formatDocURI(db.server.Host(), db.server.Port(), db.name, designDocName, showName, docID)
	if err != nil {
		return "", err
	}
	return db.client().GetBody(ctx, uri)
}

// FormatView renders a view through a "list" template and returns the
// formatted body.
func (db *Database) FormatView(ctx context.Context, designDocName, listName, viewName string, params url.Values) (string, error) {
	uri, err := formatViewURI(db.server.Host(), db.server.Port(), db.name,
		designDocName, listName, viewName, params.Encode())
	if err != nil {
		return "", err
	}
	return db.client().GetBody(ctx, uri)
}

func (db *Database) String() string {
	return db.server.String() + db.name
}
