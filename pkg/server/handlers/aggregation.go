package handlers

import (
	"net/http"

	"github.com/corvusdb/corvus/pkg/aggregation"
	"github.com/corvusdb/corvus/pkg/database"
)

// parsePipeline builds a pipeline from a {"pipeline": [{"$stage": ...}]} body
func (h *Handlers) parsePipeline(r *http.Request) (*aggregation.Pipeline, error) {
	body, err := readDocument(r)
	if err != nil {
		return nil, err
	}
	specs, err := documentList(body, "pipeline")
	if err != nil {
		return nil, err
	}
	return h.registry.ParsePipeline(specs, nil)
}

// Aggregate runs an aggregation pipeline against a collection
func (h *Handlers) Aggregate(w http.ResponseWriter, r *http.Request) {
	coll, err := h.getCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	pipeline, err := h.parsePipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}

	docs, err := coll.Aggregate(pipeline)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccessWithCount(w, docs, len(docs))
}

// ExplainAggregate plans a pipeline and reports the pushdown split. The
// verbosity query parameter selects queryPlanner (default) or executionStats.
func (h *Handlers) ExplainAggregate(w http.ResponseWriter, r *http.Request) {
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

	pipeline, err := h.parsePipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := coll.ExplainAggregate(pipeline, verbosity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, out)
}
