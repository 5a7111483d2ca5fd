// Core engine and lifecycle tests.
//
// These tests exercise the public API (Open, Close, Insert, Remove, the
// lookup family, Range, and the iterators) through its happy paths and
// common error conditions. Each test opens a fresh datastore, performs a
// sequence of operations, and verifies the result. Together they form the
// functional specification of the engine: if any of these fail, a
// fundamental guarantee has been broken.
package quire

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
)

// profile is the document type used across the test suite. The email is
// the unique index, roles become tags, teams declare view membership, and
// the bio is the searchable text.
type profile struct {
	Name  string          `json:"name"`
	Email string          `json:"email"`
	Roles []string        `json:"roles"`
	Teams map[string]bool `json:"teams"`
	Bio   string          `json:"bio"`
}

func (p profile) UniqueIndex() string    { return p.Email }
func (p profile) Tags() []string         { return p.Roles }
func (p profile) Views() map[string]bool { return p.Teams }
func (p profile) SearchText() string     { return p.Bio }

// openMemStore opens an in-memory datastore and registers cleanup.
func openMemStore(t *testing.T) *Datastore[string, profile] {
	t.Helper()
	ds, err := Open[string, profile](Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

// openDiskStore opens a durable datastore rooted at dir.
func openDiskStore(t *testing.T, dir string) *Datastore[string, profile] {
	t.Helper()
	ds, err := Open[string, profile](Options{
		Path:        dir,
		StorageName: "profiles",
		SType:       DiskCopies,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

// alice is the canonical test document.
func alice() profile {
	return profile{
		Name:  "Alice",
		Email: "alice@example.com",
		Roles: []string{"admin", "oncall"},
		Teams: map[string]bool{"storage": true, "frontend": false},
		Bio:   "hello world",
	}
}

// TestInsertLookup is the most fundamental test: write a document, read
// it back through every access path, verify the content matches.
func TestInsertLookup(t *testing.T) {
	ds := openMemStore(t)
	ctx := context.Background()

	if err := ds.Insert(ctx, "a", alice()); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := ds.Lookup("a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Name != "Alice" {
		t.Errorf("Lookup Name = %q, want %q", got.Name, "Alice")
	}

	byIdx, err := ds.LookupByIndex("alice@example.com")
	if err != nil {
		t.Fatalf("LookupByIndex: %v", err)
	}
	if byIdx.Name != "Alice" {
		t.Errorf("LookupByIndex Name = %q, want %q", byIdx.Name, "Alice")
	}

	byTag := ds.LookupByTag("admin")
	if len(byTag) != 1 || byTag[0].Name != "Alice" {
		t.Errorf("LookupByTag = %v, want [Alice]", byTag)
	}

	hits := ds.Search("hello")
	if len(hits) != 1 || hits[0].Name != "Alice" {
		t.Errorf("Search(hello) = %v, want [Alice]", hits)
	}
	if hits := ds.Search("hello missing"); len(hits) != 0 {
		t.Errorf("Search(hello missing) = %v, want empty", hits)
	}
}

// TestLookupAbsent verifies the NotFound contract for all lookup paths.
func TestLookupAbsent(t *testing.T) {
	ds := openMemStore(t)

	if _, err := ds.Lookup("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup absent: got %v, want ErrNotFound", err)
	}
	if _, err := ds.LookupByIndex("ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LookupByIndex absent: got %v, want ErrNotFound", err)
	}
	if docs := ds.LookupByTag("ghost"); len(docs) != 0 {
		t.Errorf("LookupByTag absent = %v, want empty", docs)
	}
	if docs := ds.FetchView("ghost"); len(docs) != 0 {
		t.Errorf("FetchView absent = %v, want empty", docs)
	}
}

// TestRemoveClearsSecondaries verifies that Remove erases every derived
// entry. A leftover index or tag entry would resolve to a document that
// no longer exists: the dangling-reference bug class.
func TestRemoveClearsSecondaries(t *testing.T) {
	ds := openMemStore(t)
	ctx := context.Background()

	ds.Insert(ctx, "a", alice())
	if err := ds.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := ds.Lookup("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup after remove: got %v, want ErrNotFound", err)
	}
	if _, err := ds.LookupByIndex("alice@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LookupByIndex after remove: got %v, want ErrNotFound", err)
	}
	if docs := ds.LookupByTag("admin"); len(docs) != 0 {
		t.Errorf("LookupByTag after remove = %v, want empty", docs)
	}
	if docs := ds.FetchView("storage"); len(docs) != 0 {
		t.Errorf("FetchView after remove = %v, want empty", docs)
	}
	if hits := ds.Search("hello"); len(hits) != 0 {
		t.Errorf("Search after remove = %v, want empty", hits)
	}
}

// TestRemoveAbsentKey verifies that removing a key that was never
// inserted succeeds; the removal is logged and dispatched like any
// other, matching replay semantics.
func TestRemoveAbsentKey(t *testing.T) {
	ds := openMemStore(t)

	if err := ds.Remove(context.Background(), "ghost"); err != nil {
		t.Errorf("Remove absent: %v", err)
	}
}

// TestUpdateMovesSecondaries verifies that re-inserting a key diffs the
// secondary structures: entries derived from the old document disappear,
// entries derived from the new one appear, and unchanged entries remain.
func TestUpdateMovesSecondaries(t *testing.T) {
	ds := openMemStore(t)
	ctx := context.Background()

	ds.Insert(ctx, "a", alice())

	updated := alice()
	updated.Email = "alice@corp.example.com"
	updated.Roles = []string{"admin"} // oncall dropped
	updated.Teams = map[string]bool{"storage": false, "platform": true}
	updated.Bio = "goodbye world"
	ds.Insert(ctx, "a", updated)

	if _, err := ds.LookupByIndex("alice@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old index entry survived update")
	}
	if _, err := ds.LookupByIndex("alice@corp.example.com"); err != nil {
		t.Errorf("new index entry missing: %v", err)
	}

	if docs := ds.LookupByTag("oncall"); len(docs) != 0 {
		t.Errorf("dropped tag still resolves: %v", docs)
	}
	if docs := ds.LookupByTag("admin"); len(docs) != 1 {
		t.Errorf("kept tag lost: %v", docs)
	}

	if docs := ds.FetchView("storage"); len(docs) != 0 {
		t.Errorf("view with false membership still resolves: %v", docs)
	}
	if docs := ds.FetchView("platform"); len(docs) != 1 {
		t.Errorf("new view missing: %v", docs)
	}

	if hits := ds.Search("hello"); len(hits) != 0 {
		t.Errorf("old text still searchable: %v", hits)
	}
	if hits := ds.Search("goodbye"); len(hits) != 1 {
		t.Errorf("new text not searchable: %v", hits)
	}
	// "world" appears in both versions and must survive the diff.
	if hits := ds.Search("world"); len(hits) != 1 {
		t.Errorf("shared token lost across update: %v", hits)
	}
}

// TestIndexCollisionLastWriterWins verifies that two keys declaring the
// same unique index string resolve to the most recent writer.
func TestIndexCollisionLastWriterWins(t *testing.T) {
	ds := openMemStore(t)
	ctx := context.Background()

	first := alice()
	ds.Insert(ctx, "a", first)

	second := alice()
	second.Name = "Alias"
	ds.Insert(ctx, "b", second)

	got, err := ds.LookupByIndex("alice@example.com")
	if err != nil {
		t.Fatalf("LookupByIndex: %v", err)
	}
	if got.Name != "Alias" {
		t.Errorf("LookupByIndex Name = %q, want last writer %q", got.Name, "Alias")
	}

	// The displaced document itself is still reachable by key.
	if _, err := ds.Lookup("a"); err != nil {
		t.Errorf("displaced document lost: %v", err)
	}
}

// TestGets verifies order preservation and silent skipping of absent keys.
func TestGets(t *testing.T) {
	ds := openMemStore(t)
	ctx := context.Background()

	for i := range 3 {
		p := alice()
		p.Name = fmt.Sprintf("u%d", i)
		p.Email = fmt.Sprintf("u%d@example.com", i)
		ds.Insert(ctx, fmt.Sprintf("k%d", i), p)
	}

	got := ds.Gets([]string{"k2", "ghost", "k0"})
	if len(got) != 2 {
		t.Fatalf("Gets returned %d docs, want 2", len(got))
	}
	if got[0].Name != "u2" || got[1].Name != "u0" {
		t.Errorf("Gets order = [%s %s], want [u2 u0]", got[0].Name, got[1].Name)
	}
}

// TestRange verifies inclusive bounds, key ordering, and that the field
// argument is ignored.
func TestRange(t *testing.T) {
	ds := openMemStore(t)
	ctx := context.Background()

	for _, k := range []string{"d", "b", "e", "a", "c"} {
		p := alice()
		p.Name = k
		p.Email = k + "@example.com"
		ds.Insert(ctx, k, p)
	}

	got := ds.Range("whatever", "b", "d")
	names := make([]string, len(got))
	for i, p := range got {
		names[i] = p.Name
	}
	if !slices.Equal(names, []string{"b", "c", "d"}) {
		t.Errorf("Range(b, d) = %v, want [b c d]", names)
	}

	if got := ds.Range("", "x", "z"); len(got) != 0 {
		t.Errorf("Range outside keys = %v, want empty", got)
	}
}

// TestIterators verifies that each iterator visits every live entry
// exactly once on a quiescent store, and that early break is safe.
func TestIterators(t *testing.T) {
	ds := openMemStore(t)
	ctx := context.Background()

	const n = 20
	for i := range n {
		p := alice()
		p.Email = fmt.Sprintf("u%d@example.com", i)
		ds.Insert(ctx, fmt.Sprintf("k%02d", i), p)
	}

	count := 0
	for range ds.Iter() {
		count++
	}
	if count != n {
		t.Errorf("Iter visited %d entries, want %d", count, n)
	}

	count = 0
	for range ds.IterIndex() {
		count++
	}
	if count != n {
		t.Errorf("IterIndex visited %d entries, want %d", count, n)
	}

	// Every document shares the same two roles, so IterTags yields two
	// entries each holding all n keys.
	tags := map[string]int{}
	for tag, keys := range ds.IterTags() {
		tags[tag] = len(keys)
	}
	if tags["admin"] != n || tags["oncall"] != n {
		t.Errorf("IterTags = %v, want admin/oncall with %d keys each", tags, n)
	}

	// Early break must not hang or panic.
	for range ds.Iter() {
		break
	}
}

// TestCloseRejectsWrites verifies the terminal ErrClosed state.
func TestCloseRejectsWrites(t *testing.T) {
	ds, err := Open[string, profile](Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	ds.Insert(ctx, "a", alice())

	if err := ds.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ds.Insert(ctx, "b", alice()); !errors.Is(err, ErrClosed) {
		t.Errorf("Insert after close: got %v, want ErrClosed", err)
	}
	if err := ds.Remove(ctx, "a"); !errors.Is(err, ErrClosed) {
		t.Errorf("Remove after close: got %v, want ErrClosed", err)
	}
	if err := ds.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// TestOpenValidation verifies that DiskCopies without a path or name is
// rejected up front rather than failing deep inside the log setup.
func TestOpenValidation(t *testing.T) {
	if _, err := Open[string, profile](Options{SType: DiskCopies}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("Open without path: got %v, want ErrInvalidOptions", err)
	}
	if _, err := Open[string, profile](Options{SType: DiskCopies, Path: t.TempDir()}); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("Open without storage name: got %v, want ErrInvalidOptions", err)
	}
}

// TestOptionsFromEnv verifies the environment bundle maps onto the same
// fields Open defaults.
func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("QUIRE_PATH", "/data")
	t.Setenv("QUIRE_STORAGE_NAME", "events")
	t.Setenv("QUIRE_PAGE_SIZE", "1048576")
	t.Setenv("QUIRE_STORAGE_TYPE", "1")
	t.Setenv("QUIRE_DISABLE_SEARCH", "true")

	opts, err := OptionsFromEnv()
	if err != nil {
		t.Fatalf("OptionsFromEnv: %v", err)
	}
	if opts.Path != "/data" || opts.StorageName != "events" {
		t.Errorf("path/name = %q/%q", opts.Path, opts.StorageName)
	}
	if opts.TotalPageSize != 1048576 {
		t.Errorf("TotalPageSize = %d, want 1048576", opts.TotalPageSize)
	}
	if opts.SType != DiskCopies {
		t.Errorf("SType = %d, want DiskCopies", opts.SType)
	}
	if !opts.DisableSearch {
		t.Error("DisableSearch not parsed")
	}
}

// TestDisableSearch verifies that a datastore opened without search
// returns nothing from Search while every other path still works.
func TestDisableSearch(t *testing.T) {
	ds, err := Open[string, profile](Options{DisableSearch: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()
	ctx := context.Background()

	ds.Insert(ctx, "a", alice())
	if hits := ds.Search("hello"); hits != nil {
		t.Errorf("Search on disabled index = %v, want nil", hits)
	}
	if _, err := ds.Lookup("a"); err != nil {
		t.Errorf("Lookup: %v", err)
	}
}

// TestIntKeys verifies the engine works with a non-string key type,
// exercising the numeric shard hashing and ordered Range.
func TestIntKeys(t *testing.T) {
	ds, err := Open[int, intDoc](Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()
	ctx := context.Background()

	for i := range 10 {
		ds.Insert(ctx, i, intDoc{ID: i})
	}

	got := ds.Range("", 3, 6)
	if len(got) != 4 || got[0].ID != 3 || got[3].ID != 6 {
		t.Errorf("Range(3, 6) = %v, want IDs 3..6", got)
	}
}

// intDoc is a minimal document over int keys with no secondary paths.
type intDoc struct {
	ID int `json:"id"`
}

func (d intDoc) UniqueIndex() string    { return "" }
func (d intDoc) Tags() []string         { return nil }
func (d intDoc) Views() map[string]bool { return nil }
func (d intDoc) SearchText() string     { return "" }
