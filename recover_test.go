// Crash-recovery and durability tests.
//
// The log is the authority: anything acknowledged before a crash must be
// visible after reopen, including every secondary structure, and a torn
// tail must cost at most the one record it damaged. These tests simulate
// crashes by closing and reopening datastores, truncating page files, and
// corrupting individual frames.
package quire

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func le32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func seededProfile(i int) profile {
	return profile{
		Name:  fmt.Sprintf("user-%04d", i),
		Email: fmt.Sprintf("idx-%04d", i),
		Roles: []string{"member"},
		Teams: map[string]bool{"active": i%2 == 0},
		Bio:   fmt.Sprintf("profile number %04d", i),
	}
}

// TestRecoveryRoundTrip closes and reopens a populated datastore and
// verifies the full state, primary and all secondaries, comes back.
func TestRecoveryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ds := openDiskStore(t, dir)
	const n = 1000
	for i := range n {
		require.NoError(t, ds.Insert(ctx, fmt.Sprintf("k%04d", i), seededProfile(i)))
	}
	require.NoError(t, ds.Close())

	re := openDiskStore(t, dir)

	count := 0
	for range re.Iter() {
		count++
	}
	assert.Equal(t, n, count, "recovered entry count")

	doc, err := re.LookupByIndex("idx-0500")
	require.NoError(t, err)
	assert.Equal(t, "user-0500", doc.Name)

	assert.Len(t, re.LookupByTag("member"), n)
	assert.Len(t, re.FetchView("active"), n/2)
	assert.Len(t, re.Search("profile number"), n)
	assert.Len(t, re.Search("0042"), 1)
}

// TestRecoveryReplaysRemoves verifies that a remove logged after an
// insert wins on replay, leaving no trace in any structure.
func TestRecoveryReplaysRemoves(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ds := openDiskStore(t, dir)
	require.NoError(t, ds.Insert(ctx, "keep", seededProfile(1)))
	require.NoError(t, ds.Insert(ctx, "drop", seededProfile(2)))
	require.NoError(t, ds.Remove(ctx, "drop"))
	require.NoError(t, ds.Close())

	re := openDiskStore(t, dir)

	_, err := re.Lookup("keep")
	assert.NoError(t, err)
	_, err = re.Lookup("drop")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = re.LookupByIndex("idx-0002")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestRecoveryReplaysUpdates verifies that the newest version of a
// rewritten key wins and the superseded secondary entries are gone.
func TestRecoveryReplaysUpdates(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ds := openDiskStore(t, dir)
	require.NoError(t, ds.Insert(ctx, "k", seededProfile(1)))
	updated := seededProfile(1)
	updated.Email = "idx-new"
	updated.Bio = "rewritten"
	require.NoError(t, ds.Insert(ctx, "k", updated))
	require.NoError(t, ds.Close())

	re := openDiskStore(t, dir)

	doc, err := re.Lookup("k")
	require.NoError(t, err)
	assert.Equal(t, "idx-new", doc.Email)

	_, err = re.LookupByIndex("idx-0001")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, re.Search("rewritten"), 1)
	assert.Empty(t, re.Search("0001"))
}

// TestRecoveryTornTail truncates the last page mid-frame and verifies
// the datastore still opens, losing at most the damaged record.
func TestRecoveryTornTail(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ds := openDiskStore(t, dir)
	const n = 1000
	for i := range n {
		require.NoError(t, ds.Insert(ctx, fmt.Sprintf("k%04d", i), seededProfile(i)))
	}
	require.NoError(t, ds.Close())

	pageDir := filepath.Join(dir, "profiles")
	last, err := lastPageIndex(pageDir)
	require.NoError(t, err)
	path := pagePath(pageDir, last)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	re := openDiskStore(t, dir)

	count := 0
	for range re.Iter() {
		count++
	}
	assert.GreaterOrEqual(t, count, n-1)
	assert.LessOrEqual(t, count, n)
}

// TestRecoveryCorruptMiddleStops verifies the stop-at-last-good policy:
// a frame corrupted in the middle of the log halts replay there, and
// records before the damage survive.
func TestRecoveryCorruptMiddleStops(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ds := openDiskStore(t, dir)
	for i := range 10 {
		require.NoError(t, ds.Insert(ctx, fmt.Sprintf("k%04d", i), seededProfile(i)))
	}
	require.NoError(t, ds.Close())

	// Overwrite the fourth frame's length prefix with an absurd value.
	path := pagePath(filepath.Join(dir, "profiles"), 1)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	off := int64(0)
	for range 3 {
		n := int64(le32(raw[off:]))
		off += frameLen + n
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xFF}, off)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	re := openDiskStore(t, dir)

	count := 0
	for range re.Iter() {
		count++
	}
	assert.Equal(t, 3, count, "replay must stop at the last record before the damage")
}

// TestRecoverySpansPages forces many page rotations and verifies replay
// walks the whole sequence in order.
func TestRecoverySpansPages(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ds, err := Open[string, profile](Options{
		Path:          dir,
		StorageName:   "profiles",
		SType:         DiskCopies,
		TotalPageSize: 512, // a few records per page
	})
	require.NoError(t, err)

	const n = 200
	for i := range n {
		require.NoError(t, ds.Insert(ctx, fmt.Sprintf("k%04d", i), seededProfile(i)))
	}
	require.NoError(t, ds.Close())

	last, err := lastPageIndex(filepath.Join(dir, "profiles"))
	require.NoError(t, err)
	require.Greater(t, last, 1, "test needs multiple pages to mean anything")

	re, err := Open[string, profile](Options{
		Path:          dir,
		StorageName:   "profiles",
		SType:         DiskCopies,
		TotalPageSize: 512,
	})
	require.NoError(t, err)
	defer re.Close()

	count := 0
	for range re.Iter() {
		count++
	}
	assert.Equal(t, n, count)
}

// TestInMemoryStoreLosesState is the durability control: without
// DiskCopies nothing survives, confirming the disk path is what carries
// the state.
func TestInMemoryStoreLosesState(t *testing.T) {
	ctx := context.Background()

	ds := openMemStore(t)
	require.NoError(t, ds.Insert(ctx, "a", alice()))
	require.NoError(t, ds.Close())

	re := openMemStore(t)
	_, err := re.Lookup("a")
	assert.ErrorIs(t, err, ErrNotFound)
}
