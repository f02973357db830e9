package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// Selectors holds optional per-source article extraction expressions.
// Each is a CSS selector. When any field is set, go-readability is
// bypassed and the extractor evaluates Title, Author, Summary, Content,
// Tags and Categories against the fetched article page; PublicationDate
// is loaded from the registry but not read by the extractor.
type Selectors struct {
	Title           string `json:"title,omitempty"`
	Author          string `json:"author,omitempty"`
	PublicationDate string `json:"publication_date,omitempty"`
	Summary         string `json:"summary,omitempty"`
	Content         string `json:"content,omitempty"`
	Tags            string `json:"tags,omitempty"`
	Categories      string `json:"categories,omitempty"`
}

// Empty reports whether no selector expression was configured.
func (s *Selectors) Empty() bool {
	if s == nil {
		return true
	}
	return s.Title == "" && s.Author == "" && s.PublicationDate == "" &&
		s.Summary == "" && s.Content == "" && s.Tags == "" && s.Categories == ""
}

// Source is an immutable, per-run configured news source.
type Source struct {
	ID              string    `json:"_id"`
	Name            string    `json:"title"`
	CanonicalDomain string    `json:"domain"`
	RSSURL          string    `json:"rss"`
	Categories      []string  `json:"channels"`
	Selectors       Selectors `json:"xpaths"`
}

// sourceRegistryDoc mirrors a single record of the document-store
// input. The document database itself is an external collaborator;
// only the decode shape is the engine's concern.
type sourceRegistryDoc struct {
	ID         string    `json:"_id"`
	Title      string    `json:"title"`
	Domain     string    `json:"domain"`
	RSS        string    `json:"rss"`
	Channels   []string  `json:"channels"`
	Selectors  Selectors `json:"xpaths"`
}

// LoadSourceRegistry reads the startup source registry document from
// filename. It is a read-only, immutable-after-load mapping: once
// returned, no component mutates it.
func LoadSourceRegistry(filename string) (map[string]*Source, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read source registry: %w", err)
	}

	var docs []sourceRegistryDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse source registry: %w", err)
	}

	registry := make(map[string]*Source, len(docs))
	for _, d := range docs {
		if d.ID == "" || d.RSS == "" {
			return nil, fmt.Errorf("source registry entry missing required field: %+v", d)
		}
		registry[d.ID] = &Source{
			ID:              d.ID,
			Name:            d.Title,
			CanonicalDomain: d.Domain,
			RSSURL:          d.RSS,
			Categories:      d.Channels,
			Selectors:       d.Selectors,
		}
	}

	return registry, nil
}
