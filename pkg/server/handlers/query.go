package handlers

import (
	"net/http"

	"github.com/corvusdb/corvus/pkg/database"
	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/query"
)

// parseFindRequest builds a canonical query from a find request body:
//
//	{"filter": {...}, "sort": {...}, "projection": ["a", "b"],
//	 "skip": 0, "limit": 0, "hint": "index_name", "min": {...}, "max": {...}}
func parseFindRequest(body *document.Document) (*query.CanonicalQuery, error) {
	q := &query.CanonicalQuery{}

	filterDoc, err := subDocument(body, "filter")
	if err != nil {
		return nil, err
	}
	if q.Filter, err = query.ParseFilter(filterDoc); err != nil {
		return nil, err
	}

	if q.Sort, err = subDocument(body, "sort"); err != nil {
		return nil, err
	}
	if q.Min, err = subDocument(body, "min"); err != nil {
		return nil, err
	}
	if q.Max, err = subDocument(body, "max"); err != nil {
		return nil, err
	}
	if q.Skip, err = int64Field(body, "skip"); err != nil {
		return nil, err
	}
	if q.Limit, err = int64Field(body, "limit"); err != nil {
		return nil, err
	}

	if v, ok := body.GetValue("projection"); ok && !v.IsNull() {
		if v.Kind() != document.KindArray {
			return nil, &BadRequestError{Message: "projection must be an array of field names"}
		}
		for _, elem := range v.Array() {
			if elem.Kind() != document.KindString {
				return nil, &BadRequestError{Message: "projection must be an array of field names"}
			}
			q.Projection = append(q.Projection, elem.Str())
		}
	}

	if v, ok := body.GetValue("hint"); ok && !v.IsNull() {
		switch v.Kind() {
		case document.KindString:
			q.Hint = &query.Hint{IndexName: v.Str()}
		case document.KindObject:
			q.Hint = &query.Hint{KeyPattern: v.Document()}
		default:
			return nil, &BadRequestError{Message: "hint must be an index name or key pattern"}
		}
	}

	return q, nil
}

// FindDocuments runs a planned query against a collection
func (h *Handlers) FindDocuments(w http.ResponseWriter, r *http.Request) {
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

	q, err := parseFindRequest(body)
	if err != nil {
		writeError(w, err)
		return
	}

	docs, err := coll.Find(q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccessWithCount(w, docs, len(docs))
}

// ExplainFind plans a query without necessarily running it. The verbosity
// query parameter selects queryPlanner (default) or executionStats.
func (h *Handlers) ExplainFind(w http.ResponseWriter, r *http.Request) {
	coll, err := h.getCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	verbosity, err := database.ParseVerbosity(r.URL.Query().Get("verbosity"))
	if err != nil {
		writeError(w, &BadRequestError{Message: err.Error()})
		return
	}

	body, err := readDocument(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q, err := parseFindRequest(body)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := coll.ExplainFind(q, verbosity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, out)
}
