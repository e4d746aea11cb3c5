package services

import (
	"testing"

	"knowledge-retrieval-service/models"
)

func TestSyncDiff(t *testing.T) {
	s := &SyncService{}

	unchanged := models.CrawledPage{URL: "https://site.test/a", Title: "A", Content: "stable content"}
	changed := models.CrawledPage{URL: "https://site.test/b", Title: "B", Content: "updated content"}
	added := models.CrawledPage{URL: "https://site.test/c", Title: "C", Content: "brand new page"}

	existing := map[string]*models.Document{
		"https://site.test/a": {ID: "doc-a", ContentHash: pageHash(&unchanged)},
		"https://site.test/b": {ID: "doc-b", ContentHash: "stale-hash"},
		"https://site.test/gone": {ID: "doc-gone", ContentHash: "whatever"},
	}

	changes := s.diff([]models.CrawledPage{unchanged, changed, added}, existing)

	if len(changes.NewPages) != 1 || changes.NewPages[0].URL != added.URL {
		t.Errorf("new pages = %+v", changes.NewPages)
	}
	if len(changes.ChangedPages) != 1 || changes.ChangedPages[0].DocumentID != "doc-b" {
		t.Errorf("changed pages = %+v", changes.ChangedPages)
	}
	if changes.ChangedPages[0].OldHash == changes.ChangedPages[0].NewHash {
		t.Error("changed page hashes should differ")
	}
	if len(changes.RemovedPages) != 1 || changes.RemovedPages[0].DocumentID != "doc-gone" {
		t.Errorf("removed pages = %+v", changes.RemovedPages)
	}
	if len(changes.UnchangedPages) != 1 {
		t.Errorf("unchanged pages = %v", changes.UnchangedPages)
	}
	if !changes.HasChanges() {
		t.Error("HasChanges should be true")
	}

	noop := s.diff([]models.CrawledPage{unchanged}, map[string]*models.Document{
		"https://site.test/a": {ID: "doc-a", ContentHash: pageHash(&unchanged)},
	})
	if noop.HasChanges() {
		t.Error("identical content should produce no changes")
	}
}

func TestPageHashStable(t *testing.T) {
	a := &models.CrawledPage{URL: "https://site.test/x", Title: "T", Content: "body"}
	b := &models.CrawledPage{URL: "https://site.test/y", Title: "T", Content: "body"}
	if pageHash(a) != pageHash(b) {
		t.Error("hash should depend on content, not URL")
	}
	c := &models.CrawledPage{Title: "T", Content: "different"}
	if pageHash(a) == pageHash(c) {
		t.Error("different content must hash differently")
	}
}
