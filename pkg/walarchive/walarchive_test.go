package walarchive

import (
	"context"
	"testing"
	"time"

	"github.com/pixelgardenlabs/pgl-backup/pkg/clusterfs"
)

func TestRangeSingleSegment(t *testing.T) {
	segs, err := Range("00000001000000000000000A", "00000001000000000000000A", false)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(segs) != 1 || segs[0] != "00000001000000000000000A" {
		t.Fatalf("expected single segment, got %v", segs)
	}
}

func TestRangeAcrossMinorBoundary(t *testing.T) {
	segs, err := Range("000000010000000100000001", "000000010000000200000001", false)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if segs[0] != "000000010000000100000001" {
		t.Fatalf("expected first segment to be start, got %s", segs[0])
	}
	if segs[len(segs)-1] != "000000010000000200000001" {
		t.Fatalf("expected last segment to be stop, got %s", segs[len(segs)-1])
	}
	// minor rolls 1..255 (255 segments) then 0..1 of the next major (2 segments) = 257
	if len(segs) != 257 {
		t.Fatalf("expected 257 segments, got %d", len(segs))
	}
}

func TestRangeSkipsFFWhenEnabled(t *testing.T) {
	segs, err := Range("0000000100000000000000FD", "000000010000000100000000", true)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	for _, s := range segs {
		pos, err := ParsePosition(s)
		if err != nil {
			t.Fatalf("ParsePosition(%s): %v", s, err)
		}
		if pos.Minor == 0xFF {
			t.Fatalf("expected no segment with minor 0xFF, got %s", s)
		}
	}
	last := segs[len(segs)-1]
	if last != "000000010000000100000000" {
		t.Fatalf("expected range to end at stop, got %s", last)
	}
}

func TestRangeRejectsMismatchedTimelines(t *testing.T) {
	_, err := Range("00000001000000000000000A", "00000002000000000000000B", false)
	if err == nil {
		t.Fatal("expected error for mismatched timelines")
	}
}

func TestNameRoundTripsThroughParsePosition(t *testing.T) {
	const seg = "0000000200000005000000FF"
	pos, err := ParsePosition(seg)
	if err != nil {
		t.Fatalf("ParsePosition: %v", err)
	}
	if pos.Name() != seg {
		t.Fatalf("expected round trip to %s, got %s", seg, pos.Name())
	}
}

func newArchiveFixture() *clusterfs.FakeFS {
	fs := clusterfs.NewFakeFS()
	fs.SetRoot(clusterfs.BackupArchive, "/repo/archive")
	fs.SetRoot(clusterfs.BackupTmp, "/repo/backup.tmp")
	return fs
}

func TestCollectCopiesMatchedSegmentIntoTemp(t *testing.T) {
	fs := newArchiveFixture()
	const seg = "00000001000000000000000A"
	fs.Files["/repo/archive/0000000100000000/"+seg] = &clusterfs.FakeFile{
		Type: clusterfs.TypeFile, Content: []byte("wal-bytes"),
	}

	if err := Collect(context.Background(), fs, []string{seg}, "gz", false); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	dst, ok := fs.Files["/repo/backup.tmp/base/pg_xlog/"+seg]
	if !ok {
		t.Fatal("expected segment copied into base/pg_xlog")
	}
	if string(dst.Content) != "wal-bytes" {
		t.Fatalf("expected copied content to match source, got %q", dst.Content)
	}
}

func TestCollectAcceptsHashSuffixAndCompressionExtension(t *testing.T) {
	fs := newArchiveFixture()
	const seg = "00000001000000000000000B"
	fs.Files["/repo/archive/0000000100000000/"+seg+"-deadbeef.gz"] = &clusterfs.FakeFile{
		Type: clusterfs.TypeFile, Content: []byte("compressed"),
	}

	if err := Collect(context.Background(), fs, []string{seg}, "gz", false); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if _, ok := fs.Files["/repo/backup.tmp/base/pg_xlog/"+seg]; !ok {
		t.Fatal("expected segment with hash suffix and extension to be collected")
	}
}

func TestCollectFailsOnAmbiguousMatch(t *testing.T) {
	fs := newArchiveFixture()
	const seg = "00000001000000000000000C"
	fs.Files["/repo/archive/0000000100000000/"+seg+"-aaaa.gz"] = &clusterfs.FakeFile{Type: clusterfs.TypeFile, Content: []byte("a")}
	fs.Files["/repo/archive/0000000100000000/"+seg+"-bbbb.gz"] = &clusterfs.FakeFile{Type: clusterfs.TypeFile, Content: []byte("b")}

	if err := Collect(context.Background(), fs, []string{seg}, "gz", false); err == nil {
		t.Fatal("expected error for ambiguous archive match")
	}
}

func TestCollectTimesOutWhenSegmentNeverAppears(t *testing.T) {
	fs := newArchiveFixture()
	orig := WaitTimeout
	WaitTimeout = 50 * time.Millisecond
	defer func() { WaitTimeout = orig }()

	if err := Collect(context.Background(), fs, []string{"00000001000000000000000D"}, "gz", false); err == nil {
		t.Fatal("expected timeout error when segment never appears")
	}
}
