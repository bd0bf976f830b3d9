package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/index"
)

var indexTypes = map[string]index.IndexType{
	"":         index.IndexTypeBTree,
	"btree":    index.IndexTypeBTree,
	"hashed":   index.IndexTypeHashed,
	"text":     index.IndexTypeText,
	"wildcard": index.IndexTypeWildcard,
	"2d":       index.IndexType2D,
	"2dsphere": index.IndexType2DSphere,
	"columnar": index.IndexTypeColumnar,
}

// CreateIndex builds an index from a request body:
//
//	{"name": "age_1", "keys": {"age": 1}, "unique": false, "sparse": false,
//	 "type": "btree"}
func (h *Handlers) CreateIndex(w http.ResponseWriter, r *http.Request) {
	coll, err := h.getCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := readDocument(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entry := &index.IndexEntry{}
	if v, ok := body.GetValue("name"); ok && v.Kind() == document.KindString {
		entry.Name = v.Str()
	}
	if entry.Name == "" {
		writeError(w, &BadRequestError{Message: "index name is required"})
		return
	}
	if entry.KeyPattern, err = subDocument(body, "keys"); err != nil {
		writeError(w, err)
		return
	}
	if entry.KeyPattern == nil || entry.KeyPattern.Len() == 0 {
		writeError(w, &BadRequestError{Message: "keys pattern is required"})
		return
	}
	if entry.Unique, err = boolField(body, "unique"); err != nil {
		writeError(w, err)
		return
	}
	if entry.Sparse, err = boolField(body, "sparse"); err != nil {
		writeError(w, err)
		return
	}
	if v, ok := body.GetValue("type"); ok && v.Kind() == document.KindString {
		t, ok := indexTypes[v.Str()]
		if !ok {
			writeError(w, &BadRequestError{Message: "unknown index type: " + v.Str()})
			return
		}
		entry.Type = t
	}

	if err := coll.CreateIndex(entry); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":   true,
		"name": entry.Name,
	})
}

// ListIndexes returns the index catalog of a collection
func (h *Handlers) ListIndexes(w http.ResponseWriter, r *http.Request) {
	coll, err := h.lookupCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entries := coll.Indexes().Entries()
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"name":     e.Name,
			"keys":     e.KeyPattern,
			"type":     e.Type.String(),
			"unique":   e.Unique,
			"sparse":   e.Sparse,
			"multikey": e.Multikey,
		})
	}
	writeSuccessWithCount(w, out, len(out))
}

// DropIndex removes a named index
func (h *Handlers) DropIndex(w http.ResponseWriter, r *http.Request) {
	coll, err := h.lookupCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, &BadRequestError{Message: "index name is required"})
		return
	}

	if err := coll.DropIndex(name); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"dropped": name})
}

// GetPlanCache reports the cached plan shapes of a collection
func (h *Handlers) GetPlanCache(w http.ResponseWriter, r *http.Request) {
	coll, err := h.lookupCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	cache := coll.Planner().Cache()
	writeSuccess(w, map[string]interface{}{
		"size":   cache.Len(),
		"shapes": cache.Keys(),
	})
}

// ClearPlanCache drops every cached plan of a collection
func (h *Handlers) ClearPlanCache(w http.ResponseWriter, r *http.Request) {
	coll, err := h.lookupCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	coll.Planner().Cache().Clear()
	writeSuccess(w, map[string]interface{}{"cleared": true})
}
