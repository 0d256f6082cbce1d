package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"chunkdb/pkg/common"
	"chunkdb/pkg/core"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

type rec = common.Triple[string, int, float64]

func sampleStorage() *core.Storage[string, int, rec] {
	s := core.New[string, int, rec]()
	for _, chunk := range []string{"alpha", "beta", "gamma"} {
		for i := 0; i < 5; i++ {
			s.Add(common.T(chunk, i, float64(i)/2))
		}
	}
	return s
}

func lessRec(a, b rec) bool {
	if a.Chunk != b.Chunk {
		return a.Chunk < b.Chunk
	}
	return a.Item < b.Item
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	sqlite, err := NewSQLiteBackend(filepath.Join(dir, "snap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	file, err := NewFileBackend(filepath.Join(dir, "snaps"))
	require.NoError(t, err)

	return map[string]Backend{"sqlite": sqlite, "file": file}
}

func TestFrameRoundTrip(t *testing.T) {
	records := []rec{common.T("a", 1, 1.5), common.T("a", 2, -3.0)}

	var buf bytes.Buffer
	require.NoError(t, EncodeChunk(&buf, records))
	require.Equal(t, byte(MagicNumber), buf.Bytes()[0])

	got, err := DecodeChunk[rec](&buf)
	require.NoError(t, err)
	require.Equal(t, records, got)
}

func TestFrameDetectsCorruption(t *testing.T) {
	blob, err := encodeBlob([]rec{common.T("a", 1, 1.0)})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"magic", func(b []byte) []byte { b[0] = 0x00; return b }},
		{"version", func(b []byte) []byte { b[1] = 0x7f; return b }},
		{"payload bit flip", func(b []byte) []byte { b[len(b)-2] ^= 0x01; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-3] }},
		{"short header", func(b []byte) []byte { return b[:5] }},
		{"trailing bytes", func(b []byte) []byte { return append(b, 0x00) }},
		{"count mismatch", func(b []byte) []byte { b[5] = 9; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeBlob[rec](tt.mutate(slices.Clone(blob)))
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			src := sampleStorage()
			id, err := Save(ctx, b, src)
			require.NoError(t, err)
			require.NotEmpty(t, id)

			dst := core.New[string, int, rec]()
			require.NoError(t, Load(ctx, b, id, dst))
			dst.Validate()

			opt := cmpopts.SortSlices(lessRec)
			if diff := cmp.Diff(slices.Collect(src.Iter()), slices.Collect(dst.Iter()), opt); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}

			infos, err := b.ListSnapshots(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 1)
			require.Equal(t, id, infos[0].ID)
			require.Equal(t, 3, infos[0].Chunks)

			require.NoError(t, b.DeleteSnapshot(ctx, id))
			require.ErrorIs(t, b.DeleteSnapshot(ctx, id), ErrSnapshotNotFound)
			require.ErrorIs(t, Load(ctx, b, id, dst), ErrSnapshotNotFound)
		})
	}
}

func TestSaveEmptyStorage(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id, err := Save(ctx, b, core.New[string, int, rec]())
			require.NoError(t, err)

			dst := core.New[string, int, rec]()
			require.NoError(t, Load(ctx, b, id, dst))
			require.Equal(t, 0, dst.Len())
		})
	}
}

func TestLoadRejectsCorruptBlob(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			good, err := encodeBlob([]rec{common.T("a", 1, 1.0)})
			require.NoError(t, err)
			bad := slices.Clone(good)
			bad[len(bad)-2] ^= 0xff

			require.NoError(t, b.WriteSnapshot(ctx, "broken", [][]byte{good, bad}))

			dst := core.New[string, int, rec]()
			require.ErrorIs(t, Load(ctx, b, "broken", dst), ErrCorrupt)
			require.Equal(t, 0, dst.Len(), "nothing may be loaded from a corrupt snapshot")
		})
	}
}

func TestLoadRejectsMixedChunk(t *testing.T) {
	ctx := context.Background()
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	mixed, err := encodeBlob([]rec{common.T("a", 1, 1.0), common.T("b", 2, 2.0)})
	require.NoError(t, err)
	require.NoError(t, b.WriteSnapshot(ctx, "mixed", [][]byte{mixed}))

	dst := core.New[string, int, rec]()
	require.ErrorIs(t, Load(ctx, b, "mixed", dst), ErrCorrupt)
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()

	b, err := Open("sqlite", filepath.Join(dir, "x.db"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open("file", filepath.Join(dir, "files"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = Open("tape", dir)
	require.Error(t, err)
}

func TestWriteSnapshotRequiresID(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.Error(t, b.WriteSnapshot(ctx, "", nil))
		})
	}
}

func TestFileBackendStaysInDir(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := NewFileBackend(filepath.Join(root, "snaps"))
	require.NoError(t, err)

	outside := filepath.Join(root, "outside"+snapshotExt)
	require.NoError(t, os.WriteFile(outside, []byte("{}"), 0o644))

	for _, id := range []string{"../outside", "..", "a/b", `a\b`} {
		_, err := b.ReadSnapshot(ctx, id)
		require.ErrorIs(t, err, ErrSnapshotNotFound, "read %q", id)
		require.ErrorIs(t, b.DeleteSnapshot(ctx, id), ErrSnapshotNotFound, "delete %q", id)
		require.Error(t, b.WriteSnapshot(ctx, id, nil), "write %q", id)
	}

	_, err = os.Stat(outside)
	require.NoError(t, err)
}
