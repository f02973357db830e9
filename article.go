package main

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// nullSentinel is the downstream placeholder for empty or null fields:
// never "None", never an empty string.
const nullSentinel = "NULL"

// collectionJoin is the separator used to flatten collection fields
// for transport.
const collectionJoin = " ,"

// Article is an ephemeral output record: produced, published, and
// discarded.
type Article struct {
	ID              string
	Title           string
	Authors         []string
	PublicationDate *time.Time
	Source          string
	URL             string
	Summary         string
	Content         string
	Tags            []string
	Categories      []string
	Images          []string
}

// NewArticle allocates an Article with a fresh opaque id.
func NewArticle() *Article {
	return &Article{ID: uuid.NewString()}
}

// DownstreamRecord is the JSON shape published to the message bus
// and/or appended as a table-sink row.
type DownstreamRecord struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	PublicationDate string `json:"publication_date"`
	Source          string `json:"source"`
	URL             string `json:"url"`
	Summary         string `json:"summary"`
	Content         string `json:"content"`
	Tags            string `json:"tags"`
	Categories      string `json:"categories"`
	Images          string `json:"images"`
}

// Normalize converts an Article into its downstream transport shape:
// the id is stringified, publication_date is RFC-3339 or the "NULL"
// sentinel, and non-empty collections are joined with " ,"; empty or
// nil collections become "NULL".
func (a *Article) Normalize() DownstreamRecord {
	return DownstreamRecord{
		ID:              a.ID,
		Title:           stringOrNull(a.Title),
		Author:          joinOrNull(a.Authors),
		PublicationDate: dateOrNull(a.PublicationDate),
		Source:          stringOrNull(a.Source),
		URL:             a.URL,
		Summary:         stringOrNull(a.Summary),
		Content:         stringOrNull(a.Content),
		Tags:            joinOrNull(a.Tags),
		Categories:      joinOrNull(a.Categories),
		Images:          joinOrNull(a.Images),
	}
}

func stringOrNull(s string) string {
	if strings.TrimSpace(s) == "" {
		return nullSentinel
	}
	return s
}

func joinOrNull(values []string) string {
	if len(values) == 0 {
		return nullSentinel
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nullSentinel
	}
	sort.Strings(out)
	return strings.Join(out, collectionJoin)
}

func dateOrNull(t *time.Time) string {
	if t == nil || t.IsZero() {
		return nullSentinel
	}
	return t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}
