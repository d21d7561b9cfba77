// Package handler exposes a document table over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stevemurr/docstore/codec"
	"github.com/stevemurr/docstore/docerr"
	"github.com/stevemurr/docstore/query"
	"github.com/stevemurr/docstore/schema"
	"github.com/stevemurr/docstore/state"
	"github.com/stevemurr/docstore/store"
)

// ChangeTokenKey is the document key compared with the If-Match header.
const ChangeTokenKey = "changeToken"

// Handler holds the server dependencies and registers routes.
type Handler struct {
	repo *store.Repository
	mux  *http.ServeMux
	log  *slog.Logger
}

// New creates a Handler and wires up all routes. When gatherer is not nil
// its metrics are served on /metrics.
func New(repo *store.Repository, gatherer prometheus.Gatherer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{repo: repo, mux: http.NewServeMux(), log: log}
	h.routes(gatherer)
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes(gatherer prometheus.Gatherer) {
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /layout", h.layout)

	h.mux.HandleFunc("GET /documents", h.listDocuments)
	h.mux.HandleFunc("POST /documents", h.createDocument)
	h.mux.HandleFunc("GET /documents/{id}", h.getDocument)
	h.mux.HandleFunc("PATCH /documents/{id}", h.updateDocument)
	h.mux.HandleFunc("DELETE /documents/{id}", h.deleteDocument)

	if gatherer != nil {
		h.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRaw writes JSON text produced by the codec.
func writeRaw(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, text)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// fail maps err onto a status code.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, docerr.ErrMalformedEncoding),
		errors.Is(err, docerr.ErrInvalidCharacter),
		errors.Is(err, docerr.ErrUnsupportedValue):
		status = http.StatusBadRequest
	case errors.Is(err, docerr.ErrTypeMismatch),
		errors.Is(err, docerr.ErrUnknownPath),
		errors.Is(err, docerr.ErrUnsupportedField),
		errors.Is(err, docerr.ErrUnsupportedDiffShape),
		errors.Is(err, docerr.ErrUnsupportedOperator):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, docerr.ErrConcurrentUpdate):
		status = http.StatusConflict
	default:
		h.log.Error("request failed", "err", err)
	}
	writeError(w, status, err.Error())
}

func readBody(r *http.Request) (string, error) {
	defer r.Body.Close()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeList(docs []*state.State) (string, error) {
	var b []byte
	b = append(b, '[')
	for i, doc := range docs {
		if i > 0 {
			b = append(b, ',')
		}
		var err error
		if b, err = codec.AppendState(b, doc); err != nil {
			return "", err
		}
	}
	return string(append(b, ']')), nil
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) (*store.Connection, bool) {
	c, err := h.repo.Connect(r.Context())
	if err != nil {
		h.fail(w, err)
		return nil, false
	}
	return c, true
}

// ---------- status endpoints ----------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) layout(w http.ResponseWriter, r *http.Request) {
	type column struct {
		Key  string `json:"key,omitempty"`
		Name string `json:"name"`
		Type string `json:"type"`
	}
	cols := h.repo.Layout().Columns()
	out := make([]column, len(cols))
	for i, c := range cols {
		out[i] = column{Key: c.Key, Name: c.Name, Type: c.Type.String()}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":   h.repo.Table(),
		"dialect": h.repo.Dialect().Name(),
		"columns": out,
	})
}

// ---------- documents ----------

// listDocuments serves GET /documents?key=K&value=V&order=-K&limit=N&offset=N.
// Without key every document matches; a list key matches its elements.
func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	var q query.Query
	if key := params.Get("key"); key != "" {
		v, err := h.parseValue(key, params.Get("value"))
		if err != nil {
			h.fail(w, err)
			return
		}
		q.Where = query.Equal(key, v)
	}
	if order := params.Get("order"); order != "" {
		q.OrderBy = []query.Order{{Path: strings.TrimPrefix(order, "-"), Desc: strings.HasPrefix(order, "-")}}
	}
	for name, dst := range map[string]*int64{"limit": &q.Limit, "offset": &q.Offset} {
		if s := params.Get(name); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", name, s))
				return
			}
			*dst = n
		}
	}

	c, ok := h.connect(w, r)
	if !ok {
		return
	}
	defer c.Close()
	docs, err := c.Query(r.Context(), q)
	if err != nil {
		h.fail(w, err)
		return
	}
	text, err := encodeList(docs)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeRaw(w, http.StatusOK, text)
}

// parseValue reads a query string value with the declared type of key.
func (h *Handler) parseValue(key, raw string) (state.Value, error) {
	node := h.repo.Layout().Types().Node(schema.SplitPath(query.Canonical(key))...)
	if node.Type() == schema.TypeList {
		node = node.Elem()
	}
	switch node.Type() {
	case schema.TypeString, schema.TypeUnknown:
		return state.String(raw), nil
	}
	v, err := codec.DecodeValue(raw, node, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: null value for %s", docerr.ErrUnsupportedValue, key)
	}
	return v, nil
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := codec.DecodeLenient(body, h.repo.Layout().Types())
	if err != nil {
		h.fail(w, err)
		return
	}

	c, ok := h.connect(w, r)
	if !ok {
		return
	}
	defer c.Close()
	id, err := c.Create(r.Context(), doc)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connect(w, r)
	if !ok {
		return
	}
	defer c.Close()
	doc, err := c.Read(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	text, err := codec.Encode(doc)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeRaw(w, http.StatusOK, text)
}

// updateDocument applies a merge patch: keys with a value are set, keys
// with null or an empty container are unset. With an If-Match header the
// document's changeToken must equal it.
func (h *Handler) updateDocument(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &keys); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	doc, err := codec.DecodeLenient(body, h.repo.Layout().Types())
	if err != nil {
		h.fail(w, err)
		return
	}
	d := state.NewDiff()
	for key := range keys {
		if v, ok := doc.Lookup(key); ok {
			d.Set(key, v.(state.Update))
		} else {
			d.Set(key, state.Unset)
		}
	}
	var cond query.Predicate
	if token := r.Header.Get("If-Match"); token != "" {
		v, err := h.parseValue(ChangeTokenKey, strings.Trim(token, `"`))
		if err != nil {
			h.fail(w, err)
			return
		}
		cond = query.Equal(ChangeTokenKey, v)
	}

	c, ok := h.connect(w, r)
	if !ok {
		return
	}
	defer c.Close()
	if err := c.Update(r.Context(), r.PathValue("id"), d, cond); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "id": r.PathValue("id")})
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	c, ok := h.connect(w, r)
	if !ok {
		return
	}
	defer c.Close()
	id := r.PathValue("id")
	n, err := c.Delete(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}
