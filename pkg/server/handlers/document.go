package handlers

import (
	"net/http"

	"github.com/corvusdb/corvus/pkg/query"
)

// InsertDocument inserts a single document posted as the request body
func (h *Handlers) InsertDocument(w http.ResponseWriter, r *http.Request) {
	coll, err := h.getCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	doc, err := readDocument(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := coll.Insert(doc); err != nil {
		writeError(w, err)
		return
	}

	id, _ := doc.GetValue("_id")
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":  true,
		"_id": id,
	})
}

// BulkInsert inserts documents from a {"documents": [...]} body
func (h *Handlers) BulkInsert(w http.ResponseWriter, r *http.Request) {
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

	docs, err := documentList(body, "documents")
	if err != nil {
		writeError(w, err)
		return
	}
	if len(docs) == 0 {
		writeError(w, &BadRequestError{Message: "documents array is empty"})
		return
	}

	inserted, err := coll.InsertMany(docs)
	if err != nil {
		// Partial progress still reports the inserted count.
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"ok":       false,
			"inserted": inserted,
			"message":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":       true,
		"inserted": inserted,
	})
}

// DeleteDocuments removes all documents matching a {"filter": {...}} body
func (h *Handlers) DeleteDocuments(w http.ResponseWriter, r *http.Request) {
	coll, err := h.lookupCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := readDocument(r)
	if err != nil {
		writeError(w, err)
		return
	}

	filterDoc, err := subDocument(body, "filter")
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := query.ParseFilter(filterDoc)
	if err != nil {
		writeError(w, err)
		return
	}

	removed, err := coll.Delete(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"deleted": removed})
}

// CountDocuments counts documents matching an optional {"filter": {...}} body
func (h *Handlers) CountDocuments(w http.ResponseWriter, r *http.Request) {
	coll, err := h.lookupCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var filter *query.Predicate
	if r.ContentLength > 0 {
		body, err := readDocument(r)
		if err != nil {
			writeError(w, err)
			return
		}
		filterDoc, err := subDocument(body, "filter")
		if err != nil {
			writeError(w, err)
			return
		}
		if filter, err = query.ParseFilter(filterDoc); err != nil {
			writeError(w, err)
			return
		}
	}

	if filter == nil {
		writeSuccess(w, map[string]interface{}{"count": coll.Count()})
		return
	}

	docs, err := coll.Find(&query.CanonicalQuery{Filter: filter})
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"count": int64(len(docs))})
}
