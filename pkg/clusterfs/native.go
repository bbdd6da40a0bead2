package clusterfs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/pixelgardenlabs/pgl-backup/pkg/perr"
	"github.com/pixelgardenlabs/pgl-backup/pkg/plog"
	"github.com/pixelgardenlabs/pgl-backup/pkg/pool"
)

// CompressFormat selects which compressor Compress/Hash/Copy use.
type CompressFormat string

const (
	FormatGzip CompressFormat = "gzip"
	FormatZstd CompressFormat = "zstd"
)

// NativeFS is the production FS, backed directly by the operating system.
// Grounded on the teacher's native.go/nativetask.go copy helpers: copy to a
// temp file in the destination directory, then atomically rename.
type NativeFS struct {
	roots   map[PathKind]string
	format  CompressFormat
	bufSize int
	worker  int
}

// NewNativeFS builds a NativeFS rooted at the given logical path mapping.
// bufSizeKB sizes the I/O buffer Copy/Hash pull from pool.DefaultPool; a
// value <= 0 falls back to a 256KB buffer.
func NewNativeFS(roots map[PathKind]string, format CompressFormat, bufSizeKB int) *NativeFS {
	bufSize := 256 * 1024
	if bufSizeKB > 0 {
		bufSize = bufSizeKB * 1024
	}
	return &NativeFS{roots: roots, format: format, bufSize: bufSize}
}

func (n *NativeFS) PathGet(kind PathKind, relPath string) string {
	return filepath.Join(n.roots[kind], relPath)
}

func (n *NativeFS) Clone(workerIdx int) FS {
	return &NativeFS{roots: n.roots, format: n.format, bufSize: n.bufSize, worker: workerIdx}
}

func (n *NativeFS) List(path string, re *regexp.Regexp, order SortOrder) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if re != nil && !re.MatchString(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	if order == SortAsc {
		sort.Strings(names)
	}
	return names, nil
}

func (n *NativeFS) Manifest(path string) (map[string]EntryInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	out := make(map[string]EntryInfo, len(entries))
	for _, e := range entries {
		abs := filepath.Join(path, e.Name())
		info, err := statEntry(abs)
		if err != nil {
			plog.Warn("stat failed while building entry manifest", "path", abs, "error", err)
			continue
		}
		out[e.Name()] = info
	}
	return out, nil
}

func (n *NativeFS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (n *NativeFS) PathCreate(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("create path %s: %w", path, err)
	}
	return nil
}

func (n *NativeFS) Move(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move %s -> %s: %w", src, dst, err)
	}
	return nil
}

func (n *NativeFS) Remove(path string, recursive bool) error {
	if recursive {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (n *NativeFS) LinkCreate(src, dst string, hard, soft, ignoreExisting bool) error {
	if hard == soft {
		return fmt.Errorf("%w: LinkCreate requires exactly one of hard/soft", perr.ErrParam)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("link_create: prepare parent of %s: %w", dst, err)
	}
	var err error
	if hard {
		err = os.Link(src, dst)
	} else {
		err = os.Symlink(src, dst)
	}
	if err != nil {
		if ignoreExisting && os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("link_create %s -> %s: %w", src, dst, err)
	}
	return nil
}

func (n *NativeFS) newCompressWriter(w io.Writer) (io.WriteCloser, error) {
	switch n.format {
	case FormatZstd:
		return zstd.NewWriter(w)
	default:
		return pgzip.NewWriter(w), nil
	}
}

func (n *NativeFS) newDecompressReader(r io.Reader) (io.Reader, func(), error) {
	switch n.format {
	case FormatZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec.IOReadCloser(), dec.Close, nil
	default:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	}
}

func (n *NativeFS) Copy(srcPath, dstPath string, srcCompressed, dstCompress, ignoreMissing bool, mode *os.FileMode, mtime *time.Time, createDirs bool) (CopyResult, error) {
	in, err := os.Open(srcPath)
	if err != nil {
		if ignoreMissing && os.IsNotExist(err) {
			return CopyResult{Missing: true}, nil
		}
		return CopyResult{}, fmt.Errorf("copy: open source %s: %w", srcPath, err)
	}
	defer in.Close()

	var reader io.Reader = in
	if srcCompressed {
		dr, closeFn, err := n.newDecompressReader(in)
		if err != nil {
			return CopyResult{}, fmt.Errorf("copy: decompress source %s: %w", srcPath, err)
		}
		defer closeFn()
		reader = dr
	}

	dstDir := filepath.Dir(dstPath)
	if createDirs {
		if err := os.MkdirAll(dstDir, 0o755); err != nil {
			return CopyResult{}, fmt.Errorf("copy: create destination dir %s: %w", dstDir, err)
		}
	}

	out, err := os.CreateTemp(dstDir, "pgl-backup-*.tmp")
	if err != nil {
		return CopyResult{}, fmt.Errorf("copy: create temp file in %s: %w", dstDir, err)
	}
	tempPath := out.Name()
	defer func() {
		if tempPath != "" {
			os.Remove(tempPath)
		}
	}()

	var writer io.Writer = out
	var compressor io.WriteCloser
	if dstCompress {
		compressor, err = n.newCompressWriter(out)
		if err != nil {
			out.Close()
			return CopyResult{}, fmt.Errorf("copy: init compressor for %s: %w", dstPath, err)
		}
		writer = compressor
	}

	bufPtr := pool.DefaultPool.Get(int64(n.bufSize))
	defer pool.DefaultPool.Put(bufPtr)

	written, err := io.CopyBuffer(writer, reader, *bufPtr)
	if err != nil {
		out.Close()
		return CopyResult{}, fmt.Errorf("copy: stream %s -> %s: %w", srcPath, tempPath, err)
	}
	if compressor != nil {
		if err := compressor.Close(); err != nil {
			out.Close()
			return CopyResult{}, fmt.Errorf("copy: flush compressor for %s: %w", dstPath, err)
		}
	}

	srcInfo, statErr := in.Stat()
	finalMode := os.FileMode(0o644)
	if mode != nil {
		finalMode = *mode
	} else if statErr == nil {
		finalMode = srcInfo.Mode()
	}
	if err := out.Chmod(finalMode); err != nil {
		out.Close()
		return CopyResult{}, fmt.Errorf("copy: chmod %s: %w", tempPath, err)
	}
	if err := out.Close(); err != nil {
		return CopyResult{}, fmt.Errorf("copy: close %s: %w", tempPath, err)
	}

	finalMtime := time.Now()
	if mtime != nil {
		finalMtime = *mtime
	} else if statErr == nil {
		finalMtime = srcInfo.ModTime()
	}
	if err := os.Chtimes(tempPath, finalMtime, finalMtime); err != nil {
		return CopyResult{}, fmt.Errorf("copy: chtimes %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, dstPath); err != nil {
		return CopyResult{}, fmt.Errorf("copy: rename %s -> %s: %w", tempPath, dstPath, err)
	}
	tempPath = ""

	return CopyResult{BytesWritten: written}, nil
}

func (n *NativeFS) Hash(path string, compressed bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash: open %s: %w", path, err)
	}
	defer f.Close()

	var reader io.Reader = f
	if compressed {
		dr, closeFn, err := n.newDecompressReader(f)
		if err != nil {
			return "", fmt.Errorf("hash: decompress %s: %w", path, err)
		}
		defer closeFn()
		reader = dr
	}

	h := sha256.New()
	bufPtr := pool.DefaultPool.Get(int64(n.bufSize))
	defer pool.DefaultPool.Put(bufPtr)
	if _, err := io.CopyBuffer(h, reader, *bufPtr); err != nil {
		return "", fmt.Errorf("%w: hashing %s: %v", perr.ErrChecksum, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (n *NativeFS) Compress(path string) (string, error) {
	ext := ".gz"
	if n.format == FormatZstd {
		ext = ".zst"
	}
	dstPath := path + ext

	if _, err := n.Copy(path, dstPath, false, true, false, nil, nil, false); err != nil {
		return "", fmt.Errorf("compress %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("compress: remove original %s: %w", path, err)
	}
	return dstPath, nil
}
