package query

import (
	"fmt"
	"strings"

	"github.com/corvusdb/corvus/pkg/document"
)

// ParseFilter builds a predicate tree from a filter document. Top-level keys
// combine conjunctively; a nil or empty document matches everything.
//
//	{"age": 25}                          equality
//	{"age": {"$gte": 18, "$lt": 65}}     operator document
//	{"$or": [{...}, {...}]}              disjunction
//	{"$text": {"$search": "coffee"}}     text search
func ParseFilter(doc *document.Document) (*Predicate, error) {
	if doc == nil || doc.Len() == 0 {
		return nil, nil
	}
	children := make([]*Predicate, 0, doc.Len())
	for _, key := range doc.Keys() {
		v, _ := doc.GetValue(key)
		child, err := parseFilterEntry(key, v)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return And(children...), nil
}

func parseFilterEntry(key string, v document.Value) (*Predicate, error) {
	switch key {
	case "$and", "$or":
		if v.Kind() != document.KindArray {
			return nil, fmt.Errorf("%w: %s takes an array", ErrInvalidFilter, key)
		}
		children := make([]*Predicate, 0, len(v.Array()))
		for _, elem := range v.Array() {
			if elem.Kind() != document.KindObject {
				return nil, fmt.Errorf("%w: %s elements must be objects", ErrInvalidFilter, key)
			}
			child, err := ParseFilter(elem.Document())
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, child)
			}
		}
		if len(children) == 0 {
			return nil, fmt.Errorf("%w: %s needs at least one clause", ErrInvalidFilter, key)
		}
		if key == "$and" {
			return And(children...), nil
		}
		return Or(children...), nil
	case "$text":
		// Both the bare-string and the {$search: "..."} forms are accepted.
		if v.Kind() == document.KindString {
			return Text(v.Str()), nil
		}
		if v.Kind() != document.KindObject {
			return nil, fmt.Errorf("%w: $text takes a string or object", ErrInvalidFilter)
		}
		search, ok := v.Document().GetValue("$search")
		if !ok || search.Kind() != document.KindString {
			return nil, fmt.Errorf("%w: $text requires a $search string", ErrInvalidFilter)
		}
		return Text(search.Str()), nil
	}
	if strings.HasPrefix(key, "$") {
		return nil, fmt.Errorf("%w: unknown top-level operator %s", ErrInvalidFilter, key)
	}
	if v.Kind() == document.KindObject && isOperatorDocument(v.Document()) {
		return parseOperatorDocument(key, v.Document())
	}
	// JSON decoding turns {"$regex": ...} into a regex value before the filter
	// is parsed; it must not slip through as a benign equality.
	if v.Kind() == document.KindRegex {
		return nil, fmt.Errorf("%w: regular expression matching on %s is not supported", ErrInvalidFilter, key)
	}
	return Eq(key, v), nil
}

// isOperatorDocument reports whether every key is a $-operator. A plain
// embedded document compares as a literal value instead.
func isOperatorDocument(doc *document.Document) bool {
	if doc.Len() == 0 {
		return false
	}
	for _, key := range doc.Keys() {
		if !strings.HasPrefix(key, "$") {
			return false
		}
	}
	return true
}

func parseOperatorDocument(path string, doc *document.Document) (*Predicate, error) {
	children := make([]*Predicate, 0, doc.Len())
	for _, op := range doc.Keys() {
		v, _ := doc.GetValue(op)
		switch op {
		case "$eq":
			children = append(children, Compare(path, OpEq, v))
		case "$ne":
			children = append(children, Compare(path, OpNe, v))
		case "$lt":
			children = append(children, Compare(path, OpLt, v))
		case "$lte":
			children = append(children, Compare(path, OpLte, v))
		case "$gt":
			children = append(children, Compare(path, OpGt, v))
		case "$gte":
			children = append(children, Compare(path, OpGte, v))
		case "$in":
			if v.Kind() != document.KindArray {
				return nil, fmt.Errorf("%w: %s $in takes an array", ErrInvalidFilter, path)
			}
			children = append(children, In(path, v.Array()...))
		case "$exists":
			want := true
			if v.Kind() == document.KindBool {
				want = v.Bool()
			}
			if !want {
				return nil, fmt.Errorf("%w: %s {$exists: false} is not supported", ErrInvalidFilter, path)
			}
			children = append(children, Exists(path))
		case "$near":
			children = append(children, GeoNear(path, false))
		case "$nearSphere":
			children = append(children, GeoNear(path, true))
		default:
			return nil, fmt.Errorf("%w: unknown operator %s on %s", ErrInvalidFilter, op, path)
		}
	}
	return And(children...), nil
}
