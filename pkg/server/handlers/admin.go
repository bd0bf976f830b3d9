package handlers

import (
	"net/http"
	"time"
)

// Health returns a handler reporting server liveness and uptime
func (h *Handlers) Health(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":       true,
			"status":   "healthy",
			"database": h.db.Name(),
			"uptime":   time.Since(startTime).String(),
		})
	}
}

// ListCollections returns the sorted collection names
func (h *Handlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	names := h.db.ListCollections()
	writeSuccessWithCount(w, names, len(names))
}

// GetDatabaseStats reports per-collection document and size counters
func (h *Handlers) GetDatabaseStats(w http.ResponseWriter, r *http.Request) {
	names := h.db.ListCollections()
	collections := make([]map[string]interface{}, 0, len(names))
	var totalDocs, totalBytes int64
	for _, name := range names {
		coll, err := h.db.Lookup(name)
		if err != nil {
			continue
		}
		info := coll.Info()
		totalDocs += info.DocumentCount
		totalBytes += info.SizeBytes
		collections = append(collections, map[string]interface{}{
			"name":      name,
			"documents": info.DocumentCount,
			"sizeBytes": info.SizeBytes,
		})
	}
	writeSuccess(w, map[string]interface{}{
		"database":    h.db.Name(),
		"collections": collections,
		"documents":   totalDocs,
		"sizeBytes":   totalBytes,
	})
}

// CreateCollection explicitly creates an empty collection
func (h *Handlers) CreateCollection(w http.ResponseWriter, r *http.Request) {
	name := collectionParam(r)
	if name == "" {
		writeError(w, &BadRequestError{Message: "collection name is required"})
		return
	}
	if _, err := h.db.CreateCollection(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":   true,
		"name": name,
	})
}

// DropCollection removes a collection and its indexes
func (h *Handlers) DropCollection(w http.ResponseWriter, r *http.Request) {
	name := collectionParam(r)
	if name == "" {
		writeError(w, &BadRequestError{Message: "collection name is required"})
		return
	}
	if err := h.db.DropCollection(name); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"dropped": name})
}

// GetCollectionStats reports counters and index metadata for one collection
func (h *Handlers) GetCollectionStats(w http.ResponseWriter, r *http.Request) {
	coll, err := h.lookupCollection(r)
	if err != nil {
		writeError(w, err)
		return
	}

	info := coll.Info()
	entries := coll.Indexes().Entries()
	indexes := make([]string, 0, len(entries))
	for _, e := range entries {
		indexes = append(indexes, e.Name)
	}
	writeSuccess(w, map[string]interface{}{
		"name":        coll.Name(),
		"documents":   info.DocumentCount,
		"sizeBytes":   info.SizeBytes,
		"avgDocBytes": info.AvgDocBytes,
		"indexes":     indexes,
	})
}
