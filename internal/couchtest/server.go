// Package couchtest provides an in-memory fake CouchDB server for tests. It
// implements enough of the HTTP API for the client's full request path to be
// exercised without a live CouchDB: database lifecycle, document CRUD with
// revision checking, bulk updates, _all_docs, changes and canned view
// results.
package couchtest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type storedDoc struct {
	gen  int
	rev  string
	body map[string]any
}

type database struct {
	docs      map[string]*storedDoc
	updateSeq int
	changes   []map[string]any
}

// Server is a fake CouchDB instance backed by an httptest.Server.
type Server struct {
	mu             sync.Mutex
	dbs            map[string]*database
	deleteFailures map[string]int
	viewResults    map[string]string

	httpServer *httptest.Server
	host       string
	port       int
}

// New starts a fake CouchDB server. Call Close when done.
func New() *Server {
	s := &Server{
		dbs:            make(map[string]*database),
		deleteFailures: make(map[string]int),
		viewResults:    make(map[string]string),
	}
	s.httpServer = httptest.NewServer(s.router())

	u, err := url.Parse(s.httpServer.URL)
	if err != nil {
		panic(err)
	}
	s.host = u.Hostname()
	s.port, err = strconv.Atoi(u.Port())
	if err != nil {
		panic(err)
	}
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// Host returns the listen host.
func (s *Server) Host() string { return s.host }

// Port returns the listen port.
func (s *Server) Port() int { return s.port }

// URL returns the server's base URL.
func (s *Server) URL() string { return s.httpServer.URL }

// FailDeletes makes the next n DELETE requests for the named database answer
// with a 500, mimicking the eaccess failures seen on some platforms.
func (s *Server) FailDeletes(db string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteFailures[db] = n
}

// SetViewResult installs a canned JSON body for a view query.
func (s *Server) SetViewResult(db, designDoc, view, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewResults[db+"/"+designDoc+"/"+view] = body
}

// RevOf returns the current revision of a document, or "" if absent.
func (s *Server) RevOf(db, id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dbs[db]; ok {
		if doc, ok := d.docs[id]; ok {
			return doc.rev
		}
	}
	return ""
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/_all_dbs", s.handleAllDbs).Methods(http.MethodGet)
	r.HandleFunc("/_uuids", s.handleUUIDs).Methods(http.MethodGet)
	r.HandleFunc("/_config", writeEmptyObject).Methods(http.MethodGet)
	r.HandleFunc("/_stats", writeEmptyObject).Methods(http.MethodGet)
	r.HandleFunc("/_active_tasks", writeEmptyArray).Methods(http.MethodGet)

	r.HandleFunc("/{db}/_all_docs", s.handleAllDocs).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/{db}/_bulk_docs", s.handleBulkDocs).Methods(http.MethodPost)
	r.HandleFunc("/{db}/_changes", s.handleChanges).Methods(http.MethodGet)
	r.HandleFunc("/{db}/_revs_limit", s.handleRevsLimit).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/{db}/_compact", s.handleAccepted).Methods(http.MethodPost)
	r.HandleFunc("/{db}/_view_cleanup", s.handleAccepted).Methods(http.MethodPost)
	r.HandleFunc("/{db}/_design/{ddoc}/_view/{view}", s.handleView).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/{db}/{docid}", s.handleDocument).
		Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	r.HandleFunc("/{db}", s.handleDatabase).
		Methods(http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPost)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, errName, reason string) {
	writeJSON(w, status, map[string]any{"error": errName, "reason": reason})
}

func writeEmptyObject(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{})
}

func writeEmptyArray(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, []any{})
}

func newRev(gen int) string {
	return fmt.Sprintf("%d-%s", gen, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"couchdb": "Welcome", "version": "1.1.2"})
}

func (s *Server) handleAllDbs(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleUUIDs(w http.ResponseWriter, r *http.Request) {
	count := 1
	if c := r.URL.Query().Get("count"); c != "" {
		if n, err := strconv.Atoi(c); err == nil {
			count = n
		}
	}
	uuids := make([]string, count)
	for i := range uuids {
		uuids[i] = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	writeJSON(w, http.StatusOK, map[string]any{"uuids": uuids})
}

func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["db"]
	switch r.Method {
	case http.MethodPut:
		s.mu.Lock()
		_, exists := s.dbs[name]
		if !exists {
			s.dbs[name] = &database{docs: make(map[string]*storedDoc)}
		}
		s.mu.Unlock()
		if exists {
			writeError(w, http.StatusPreconditionFailed, "file_exists",
				"The database could not be created, the file already exists.")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})

	case http.MethodDelete:
		s.mu.Lock()
		if s.deleteFailures[name] > 0 {
			s.deleteFailures[name]--
			s.mu.Unlock()
			writeError(w, http.StatusInternalServerError, "unknown_error", "eacces")
			return
		}
		_, exists := s.dbs[name]
		delete(s.dbs, name)
		s.mu.Unlock()
		if !exists {
			writeError(w, http.StatusNotFound, "not_found", "missing")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case http.MethodGet:
		s.mu.Lock()
		db, exists := s.dbs[name]
		var count, seq int
		if exists {
			count = len(db.docs)
			seq = db.updateSeq
		}
		s.mu.Unlock()
		if !exists {
			writeError(w, http.StatusNotFound, "not_found", "no_db_file")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"db_name":    name,
			"doc_count":  count,
			"update_seq": seq,
		})

	case http.MethodPost:
		// create a document with a server-generated id
		s.putDocument(w, r, name, strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dbName, docID := vars["db"], vars["docid"]

	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		defer s.mu.Unlock()
		db, ok := s.dbs[dbName]
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "no_db_file")
			return
		}
		doc, ok := db.docs[docID]
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "missing")
			return
		}
		body := make(map[string]any, len(doc.body)+2)
		for k, v := range doc.body {
			body[k] = v
		}
		body["_id"] = docID
		body["_rev"] = doc.rev
		writeJSON(w, http.StatusOK, body)

	case http.MethodPut:
		s.putDocument(w, r, dbName, docID)

	case http.MethodDelete:
		s.mu.Lock()
		defer s.mu.Unlock()
		db, ok := s.dbs[dbName]
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "no_db_file")
			return
		}
		doc, ok := db.docs[docID]
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "missing")
			return
		}
		if r.URL.Query().Get("rev") != doc.rev {
			writeError(w, http.StatusConflict, "conflict", "Document update conflict.")
			return
		}
		rev := newRev(doc.gen + 1)
		delete(db.docs, docID)
		db.updateSeq++
		db.changes = append(db.changes, map[string]any{
			"seq": db.updateSeq, "id": docID, "deleted": true,
			"changes": []any{map[string]any{"rev": rev}},
		})
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": docID, "rev": rev})
	}
}

func (s *Server) putDocument(w http.ResponseWriter, r *http.Request, dbName, docID string) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid UTF-8 JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no_db_file")
		return
	}

	rev, _ := body["_rev"].(string)
	delete(body, "_rev")
	delete(body, "_id")

	existing := db.docs[docID]
	if existing != nil && rev != existing.rev {
		writeError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	}
	if existing == nil && rev != "" {
		writeError(w, http.StatusConflict, "conflict", "Document update conflict.")
		return
	}

	gen := 1
	if existing != nil {
		gen = existing.gen + 1
	}
	doc := &storedDoc{gen: gen, rev: newRev(gen), body: body}
	db.docs[docID] = doc
	db.updateSeq++
	db.changes = append(db.changes, map[string]any{
		"seq": db.updateSeq, "id": docID,
		"changes": []any{map[string]any{"rev": doc.rev}},
	})

	if r.URL.Query().Get("batch") == "ok" {
		// deferred write: acknowledge without a revision
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "id": docID})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": docID, "rev": doc.rev})
}

func (s *Server) handleBulkDocs(w http.ResponseWriter, r *http.Request) {
	dbName := mux.Vars(r)["db"]
	var payload struct {
		Docs []map[string]any `json:"docs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no_db_file")
		return
	}

	rows := make([]any, 0, len(payload.Docs))
	for _, body := range payload.Docs {
		id, _ := body["_id"].(string)
		if id == "" {
			id = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		rev, _ := body["_rev"].(string)
		deleted, _ := body["_deleted"].(bool)
		delete(body, "_id")
		delete(body, "_rev")

		existing := db.docs[id]
		if (existing != nil && rev != existing.rev) || (existing == nil && rev != "") {
			rows = append(rows, map[string]any{
				"id": id, "error": "conflict", "reason": "Document update conflict.",
			})
			continue
		}
		gen := 1
		if existing != nil {
			gen = existing.gen + 1
		}
		newRevStr := newRev(gen)
		if deleted {
			delete(db.docs, id)
		} else {
			db.docs[id] = &storedDoc{gen: gen, rev: newRevStr, body: body}
		}
		db.updateSeq++
		rows = append(rows, map[string]any{"id": id, "rev": newRevStr})
	}
	writeJSON(w, http.StatusCreated, rows)
}

func (s *Server) handleAllDocs(w http.ResponseWriter, r *http.Request) {
	dbName := mux.Vars(r)["db"]
	includeDocs := r.URL.Query().Get("include_docs") == "true"

	var keys []string
	if r.Method == http.MethodPost {
		var payload struct {
			Keys []string `json:"keys"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		keys = payload.Keys
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no_db_file")
		return
	}

	if keys == nil {
		keys = make([]string, 0, len(db.docs))
		for id := range db.docs {
			keys = append(keys, id)
		}
		sort.Strings(keys)
	}

	rows := make([]any, 0, len(keys))
	for _, id := range keys {
		doc, ok := db.docs[id]
		if !ok {
			rows = append(rows, map[string]any{"key": id, "error": "not_found"})
			continue
		}
		row := map[string]any{
			"id": id, "key": id,
			"value": map[string]any{"rev": doc.rev},
		}
		if includeDocs {
			full := make(map[string]any, len(doc.body)+2)
			for k, v := range doc.body {
				full[k] = v
			}
			full["_id"] = id
			full["_rev"] = doc.rev
			row["doc"] = full
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_rows": len(db.docs),
		"offset":     0,
		"rows":       rows,
	})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	dbName := mux.Vars(r)["db"]
	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			since = n
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no_db_file")
		return
	}
	results := make([]any, 0, len(db.changes))
	for _, change := range db.changes {
		if seq, ok := change["seq"].(int); ok && seq <= since {
			continue
		}
		results = append(results, change)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":  results,
		"last_seq": db.updateSeq,
	})
}

func (s *Server) handleRevsLimit(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	// CouchDB returns the bare number followed by a newline
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "1000")
}

func (s *Server) handleAccepted(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["db"] + "/" + vars["ddoc"] + "/" + vars["view"]
	s.mu.Lock()
	body, ok := s.viewResults[key]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "missing_named_view")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}
