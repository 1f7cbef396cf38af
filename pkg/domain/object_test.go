package domain

import (
	"slices"
	"testing"
	"time"
)

func TestObjectSetNormalizesValues(t *testing.T) {
	owner := newMapOwner()
	book := owner.add(t, "Book", "b1", nil)

	if err := book.Set("pages", 320); err != nil {
		t.Fatalf("set pages: %v", err)
	}
	if v, ok := book.Value("pages").(int64); !ok || v != 320 {
		t.Fatalf("expected int64 320, got %#v", book.Value("pages"))
	}
	if err := book.Set("pages", "many"); err == nil {
		t.Fatalf("expected type mismatch")
	} else {
		mustErrorIs(t, err, ErrTypeMismatch)
	}
	mustErrorIs(t, book.Set("isbn", "x"), ErrUnknownProperty)
	if err := book.Set("pages", nil); err != nil {
		t.Fatalf("clear pages: %v", err)
	}
	if book.Value("pages") != nil {
		t.Fatalf("expected cleared attribute")
	}
	if owner.changed["b1"] != 2 {
		t.Fatalf("expected two change notifications, got %d", owner.changed["b1"])
	}
}

func TestObjectGettersCoerceJSONValues(t *testing.T) {
	owner := newMapOwner()
	born := time.Date(1947, 9, 21, 0, 0, 0, 0, time.UTC)
	author := owner.add(t, "Author", "a1", map[string]any{"name": "King", "born": born.Format(time.RFC3339Nano)})
	book := owner.add(t, "Book", "b1", map[string]any{"pages": float64(1153), "rating": float64(4)})

	if author.String("name") != "King" {
		t.Fatalf("unexpected name %q", author.String("name"))
	}
	if !author.Time("born").Equal(born) {
		t.Fatalf("unexpected born %v", author.Time("born"))
	}
	if book.Int("pages") != 1153 || book.Float("rating") != 4 {
		t.Fatalf("unexpected numbers %d %f", book.Int("pages"), book.Float("rating"))
	}
	if book.Bool("missing") || book.Bytes("missing") != nil {
		t.Fatalf("expected zero values for missing attributes")
	}
}

func TestReadOnlyOwnerVetoesChanges(t *testing.T) {
	owner := newMapOwner()
	book := owner.add(t, "Book", "b1", nil)
	owner.readOnly = true
	mustErrorIs(t, book.Set("title", "It"), ErrReadOnly)
}

func TestRelationshipInverseMaintenance(t *testing.T) {
	owner := newMapOwner()
	king := owner.add(t, "Author", "a1", nil)
	straub := owner.add(t, "Author", "a2", nil)
	book := owner.add(t, "Book", "b1", nil)

	if err := king.Add("books", book); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := book.RelatedIDs("author"); !slices.Equal(got, []ID{"a1"}) {
		t.Fatalf("inverse not set: %v", got)
	}
	// moving the book to another author removes it from the first
	if err := book.SetToOne("author", straub); err != nil {
		t.Fatalf("set author: %v", err)
	}
	if len(king.RelatedIDs("books")) != 0 {
		t.Fatalf("expected book removed from previous author, got %v", king.RelatedIDs("books"))
	}
	if got := straub.RelatedIDs("books"); !slices.Equal(got, []ID{"b1"}) {
		t.Fatalf("expected book on new author, got %v", got)
	}
	author, err := book.ToOne("author")
	if err != nil || author != straub {
		t.Fatalf("ToOne mismatch: %v %v", author, err)
	}
	if err := straub.Remove("books", book); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if author, _ := book.ToOne("author"); author != nil {
		t.Fatalf("expected inverse cleared")
	}
	mustErrorIs(t, book.Add("author", king), ErrCardinality)
	mustErrorIs(t, book.SetToOne("author", book), ErrTypeMismatch)
	mustErrorIs(t, king.Add("books", newMapOwner().add(t, "Book", "x", nil)), ErrForeignObject)
}

func TestDetachAppliesDeleteRules(t *testing.T) {
	owner := newMapOwner()
	king := owner.add(t, "Author", "a1", nil)
	b1 := owner.add(t, "Book", "b1", nil)
	b2 := owner.add(t, "Book", "b2", nil)
	if err := king.Add("books", b1, b2); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Book.author nullifies
	cascade, err := b1.Detach()
	if err != nil || len(cascade) != 0 {
		t.Fatalf("unexpected detach result %v %v", cascade, err)
	}
	if got := king.RelatedIDs("books"); !slices.Equal(got, []ID{"b2"}) {
		t.Fatalf("expected b1 nullified, got %v", got)
	}
	if got := b1.RelatedIDs("author"); !slices.Equal(got, []ID{"a1"}) {
		t.Fatalf("detached object keeps its own links, got %v", got)
	}

	// Author.books cascades
	cascade, err = king.Detach()
	if err != nil {
		t.Fatalf("detach author: %v", err)
	}
	if len(cascade) != 1 || cascade[0] != b2 {
		t.Fatalf("expected cascade to b2, got %v", cascade)
	}
}

func TestRebindRewritesIdentities(t *testing.T) {
	owner := newMapOwner()
	king := owner.add(t, "Author", TempID(1), nil)
	book := owner.add(t, "Book", TempID(2), nil)
	if err := king.Add("books", book); err != nil {
		t.Fatalf("add: %v", err)
	}
	mapping := map[ID]ID{TempID(1): "p1", TempID(2): "p2"}
	king.Rebind(mapping)
	book.Rebind(mapping)
	if king.ID() != "p1" || !slices.Equal(king.RelatedIDs("books"), []ID{"p2"}) {
		t.Fatalf("author not rebound: %s %v", king.ID(), king.RelatedIDs("books"))
	}
	if !slices.Equal(book.RelatedIDs("author"), []ID{"p1"}) {
		t.Fatalf("book not rebound: %v", book.RelatedIDs("author"))
	}
	if !TempID(7).IsTemporary() || NewPermanentID().IsTemporary() {
		t.Fatalf("temporary identity detection broken")
	}
}
