// Package handlers implements the HTTP handlers of the Corvus server: CRUD,
// queries, aggregation, explain and index management over JSON bodies.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/corvusdb/corvus/pkg/aggregation"
	"github.com/corvusdb/corvus/pkg/database"
	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/query"
)

// Handlers holds the database instance and provides HTTP handlers
type Handlers struct {
	db       *database.Database
	registry *aggregation.StageRegistry
}

// New creates a new Handlers instance
func New(db *database.Database) *Handlers {
	return &Handlers{
		db:       db,
		registry: aggregation.NewDefaultRegistry(),
	}
}

// collectionParam extracts the collection name from the route
func collectionParam(r *http.Request) string {
	return chi.URLParam(r, "collection")
}

// getCollection retrieves a collection by name, creating it on first use
func (h *Handlers) getCollection(r *http.Request) (*database.Collection, error) {
	name := collectionParam(r)
	if name == "" {
		return nil, &BadRequestError{Message: "collection name is required"}
	}
	return h.db.Collection(name)
}

// lookupCollection retrieves an existing collection without creating it
func (h *Handlers) lookupCollection(r *http.Request) (*database.Collection, error) {
	name := collectionParam(r)
	if name == "" {
		return nil, &BadRequestError{Message: "collection name is required"}
	}
	return h.db.Lookup(name)
}

// readDocument reads the request body as an order-preserving JSON document
func readDocument(r *http.Request) (*document.Document, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, &BadRequestError{Message: "failed to read request body"}
	}
	defer r.Body.Close()

	if len(body) == 0 {
		return nil, &BadRequestError{Message: "request body is empty"}
	}

	doc, err := document.FromJSON(body)
	if err != nil {
		return nil, &BadRequestError{Message: "invalid JSON: " + err.Error()}
	}
	return doc, nil
}

// subDocument extracts an optional embedded document field from a request body
func subDocument(body *document.Document, field string) (*document.Document, error) {
	v, ok := body.GetValue(field)
	if !ok || v.IsNull() {
		return nil, nil
	}
	if v.Kind() != document.KindObject {
		return nil, &BadRequestError{Message: field + " must be an object"}
	}
	return v.Document(), nil
}

// documentList extracts an optional array-of-documents field from a request body
func documentList(body *document.Document, field string) ([]*document.Document, error) {
	v, ok := body.GetValue(field)
	if !ok || v.IsNull() {
		return nil, nil
	}
	if v.Kind() != document.KindArray {
		return nil, &BadRequestError{Message: field + " must be an array"}
	}
	docs := make([]*document.Document, 0, len(v.Array()))
	for _, elem := range v.Array() {
		if elem.Kind() != document.KindObject {
			return nil, &BadRequestError{Message: field + " elements must be objects"}
		}
		docs = append(docs, elem.Document())
	}
	return docs, nil
}

// int64Field extracts an optional numeric field from a request body
func int64Field(body *document.Document, field string) (int64, error) {
	v, ok := body.GetValue(field)
	if !ok || v.IsNull() {
		return 0, nil
	}
	n, ok := v.AsInt64()
	if !ok {
		return 0, &BadRequestError{Message: field + " must be a number"}
	}
	return n, nil
}

// boolField extracts an optional boolean field from a request body
func boolField(body *document.Document, field string) (bool, error) {
	v, ok := body.GetValue(field)
	if !ok || v.IsNull() {
		return false, nil
	}
	if v.Kind() != document.KindBool {
		return false, &BadRequestError{Message: field + " must be a boolean"}
	}
	return v.Bool(), nil
}

// Error types for consistent error handling

type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

// writeError writes an error response with an HTTP status derived from the
// error kind.
func writeError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	errorType := "InternalError"

	var badRequest *BadRequestError
	switch {
	case errors.As(err, &badRequest),
		errors.Is(err, query.ErrInvalidFilter),
		errors.Is(err, query.ErrBadHint),
		errors.Is(err, aggregation.ErrInvalidStage),
		errors.Is(err, aggregation.ErrUnknownStage),
		errors.Is(err, aggregation.ErrEmptyPipeline):
		statusCode = http.StatusBadRequest
		errorType = "BadRequest"
	case errors.Is(err, database.ErrCollectionNotFound),
		errors.Is(err, database.ErrIndexNotFound),
		errors.Is(err, query.ErrIndexNotFound):
		statusCode = http.StatusNotFound
		errorType = "NotFound"
	case errors.Is(err, database.ErrDuplicateKey):
		statusCode = http.StatusConflict
		errorType = "DuplicateKey"
	case errors.Is(err, database.ErrCollectionExists),
		errors.Is(err, database.ErrIndexExists):
		statusCode = http.StatusConflict
		errorType = "AlreadyExists"
	case errors.Is(err, database.ErrParallelArrays):
		statusCode = http.StatusUnprocessableEntity
		errorType = "ParallelArrays"
	case errors.Is(err, database.ErrClosed):
		statusCode = http.StatusServiceUnavailable
		errorType = "ShuttingDown"
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"ok":      false,
		"error":   errorType,
		"message": err.Error(),
		"code":    statusCode,
	})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, result interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": result,
	})
}

// writeSuccessWithCount writes a success response with count
func writeSuccessWithCount(w http.ResponseWriter, result interface{}, count int) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": result,
		"count":  count,
	})
}
