package main

import (
	"testing"
	"time"
)

func TestNormalizeProducesNullSentinelsForEmptyFields(t *testing.T) {
	art := NewArticle()
	art.URL = "http://example.com/a"

	record := art.Normalize()

	if record.Title != nullSentinel {
		t.Errorf("Title = %q, want %q", record.Title, nullSentinel)
	}
	if record.Author != nullSentinel {
		t.Errorf("Author = %q, want %q", record.Author, nullSentinel)
	}
	if record.PublicationDate != nullSentinel {
		t.Errorf("PublicationDate = %q, want %q", record.PublicationDate, nullSentinel)
	}
	if record.Tags != nullSentinel {
		t.Errorf("Tags = %q, want %q", record.Tags, nullSentinel)
	}
	if record.ID == "" {
		t.Error("expected a non-empty id")
	}
}

func TestNormalizeSortsAndJoinsCollections(t *testing.T) {
	art := NewArticle()
	art.Tags = []string{"zeta", "alpha", "mu"}

	record := art.Normalize()

	want := "alpha ,mu ,zeta"
	if record.Tags != want {
		t.Errorf("Tags = %q, want %q", record.Tags, want)
	}
}

func TestNormalizeFormatsPublicationDate(t *testing.T) {
	art := NewArticle()
	ts := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	art.PublicationDate = &ts

	record := art.Normalize()
	if record.PublicationDate == nullSentinel {
		t.Fatal("expected a formatted timestamp, got the null sentinel")
	}
}

func TestNewArticleAssignsUniqueIDs(t *testing.T) {
	a := NewArticle()
	b := NewArticle()
	if a.ID == "" || b.ID == "" {
		t.Fatal("expected non-empty ids")
	}
	if a.ID == b.ID {
		t.Fatal("expected distinct ids across articles")
	}
}
