package objstore

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/stretchr/testify/require"
	"go.strata.dev/core/fault"
)

func put(t *testing.T, s *MemoryStore, path, content string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), path,
		bytes.NewReader([]byte(content)), int64(len(content)), ""))
}

func paths(s *MemoryStore) []string {
	var out []string
	for p := range s.Content {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func TestRenamePrefixMovesAllObjects(t *testing.T) {
	var s = NewMemoryStore()
	var ctx = context.Background()

	put(t, s, "candidate_20250314092653/html/a.html", "<a>")
	put(t, s, "candidate_20250314092653/html/b.html", "<b>")
	put(t, s, "candidate_20250314092653/pdfs/c.pdf", "pdf")
	put(t, s, "unrelated/keep.txt", "keep")

	var moved, err = RenamePrefix(ctx, s,
		"candidate_20250314092653/", "active_20250314092653/", RenameOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, moved)

	require.Equal(t, []string{
		"active_20250314092653/html/a.html",
		"active_20250314092653/html/b.html",
		"active_20250314092653/pdfs/c.pdf",
		"unrelated/keep.txt",
	}, paths(s))
	require.Equal(t, []byte("<a>"), s.Content["active_20250314092653/html/a.html"])
}

func TestRenamePrefixSmallBatchesAndParallelism(t *testing.T) {
	var s = NewMemoryStore()
	var ctx = context.Background()

	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		put(t, s, "old/"+p, p)
	}

	var moved, err = RenamePrefix(ctx, s, "old/", "new/",
		RenameOptions{BatchSize: 2, Parallelism: 3})
	require.NoError(t, err)
	require.Equal(t, 7, moved)

	for _, p := range paths(s) {
		require.Contains(t, p, "new/")
	}
}

func TestRenamePrefixManyObjects(t *testing.T) {
	var s = NewMemoryStore()
	var ctx = context.Background()

	var names = make(map[string]struct{})
	for len(names) < 100 {
		names[petname.Generate(2, "-")] = struct{}{}
	}
	for name := range names {
		put(t, s, "old/html/"+name+".html", name)
	}

	var moved, err = RenamePrefix(ctx, s, "old/", "new/",
		RenameOptions{BatchSize: 16, Parallelism: 4})
	require.NoError(t, err)
	require.Equal(t, 100, moved)

	for name := range names {
		require.Equal(t, []byte(name), s.Content["new/html/"+name+".html"])
	}
}

func TestRenamePrefixIsIdempotentUnderRetry(t *testing.T) {
	var s = NewMemoryStore()
	var ctx = context.Background()

	put(t, s, "old/a", "1")
	put(t, s, "old/b", "2")

	// Simulate a crash mid-rename: one object copied but not yet removed,
	// one not yet copied.
	require.NoError(t, s.Copy(ctx, "old/a", "new/a"))

	// First application resumes the rename; the second is a retried resume
	// over an already-renamed prefix.
	var _, err = RenamePrefix(ctx, s, "old/", "new/", RenameOptions{})
	require.NoError(t, err)
	var after = paths(s)

	moved, err := RenamePrefix(ctx, s, "old/", "new/", RenameOptions{})
	require.NoError(t, err)
	require.Zero(t, moved)
	require.Equal(t, after, paths(s))

	require.Equal(t, []string{"new/a", "new/b"}, after)
	require.Equal(t, []byte("1"), s.Content["new/a"])
	require.Equal(t, []byte("2"), s.Content["new/b"])
}

func TestRemoveBatchReportsPerPathResults(t *testing.T) {
	var s = NewMemoryStore()
	var ctx = context.Background()

	put(t, s, "p/a", "1")
	put(t, s, "p/b", "2")

	// Removing an absent path is idempotent and reported as removed.
	var removed, failed = RemoveBatch(ctx, s, []string{"p/a", "p/b", "p/gone"}, 2)
	require.Nil(t, failed)
	require.Equal(t, []string{"p/a", "p/b", "p/gone"}, removed)
	require.Empty(t, paths(s))
}

func TestDeletePrefix(t *testing.T) {
	var s = NewMemoryStore()
	var ctx = context.Background()

	for _, p := range []string{"a", "b", "c"} {
		put(t, s, "gone/"+p, p)
	}
	put(t, s, "kept/a", "a")

	var n, err = DeletePrefix(ctx, s, "gone/", 2)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"kept/a"}, paths(s))
}

func TestInitAndVerifyPrefixStructure(t *testing.T) {
	var s = NewMemoryStore()
	var ctx = context.Background()

	require.NoError(t, InitPrefix(ctx, s, "candidate_20250314092653/"))
	require.NoError(t, VerifyPrefixStructure(ctx, s, "candidate_20250314092653/", RequiredSubpaths))

	// A prefix missing markers fails with NotFound, naming the gaps.
	put(t, s, "partial/html/a.html", "x")
	var err = VerifyPrefixStructure(ctx, s, "partial/", RequiredSubpaths)
	require.True(t, fault.IsNotFound(err))
	require.Contains(t, err.Error(), "pdfs/")
	require.NotContains(t, err.Error(), "html/,")
}

func TestListPrefixes(t *testing.T) {
	var s = NewMemoryStore()
	var ctx = context.Background()

	put(t, s, "active_20250310000000/html/a.html", "x")
	put(t, s, "archived_20250301000000/html/b.html", "y")
	put(t, s, "archived_20250301000000/pdfs/c.pdf", "z")
	put(t, s, "loose-object", "w")

	var prefixes, err = ListPrefixes(ctx, s, "")
	require.NoError(t, err)
	require.Equal(t, []string{
		"active_20250310000000/",
		"archived_20250301000000/",
	}, prefixes)
}

// classifyingStore layers error classification over MemoryStore, which
// itself never fails.
type classifyingStore struct {
	*MemoryStore
}

func (s classifyingStore) IsAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "access denied")
}

func (s classifyingStore) IsTransient(err error) bool {
	return err != nil && strings.Contains(err.Error(), "throttled")
}

func TestRetryFailsFastOnAuthErrors(t *testing.T) {
	var s = classifyingStore{MemoryStore: NewMemoryStore()}

	// An authorization failure is never retried, even though retrying a
	// throttling failure with the same transport would be allowed.
	var attempts int
	var err = retry(context.Background(), s, func() error {
		attempts++
		return errors.New("access denied")
	})
	require.True(t, fault.IsFatal(err))
	require.Equal(t, 1, attempts)

	// A transient failure is retried to the attempt bound.
	attempts = 0
	err = retry(context.Background(), s, func() error {
		attempts++
		return errors.New("throttled")
	})
	require.EqualError(t, err, "throttled")
	require.Equal(t, maxAttempts, attempts)
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	var _, err = Open("warp://bucket/prefix/")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported object store scheme")
}
