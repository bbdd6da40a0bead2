package clusterfs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"time"
)

// FakeFile is one synthetic entry in a FakeFS fixture tree.
type FakeFile struct {
	Type            EntryType
	Content         []byte
	Permission      os.FileMode
	Inode           uint64
	ModTime         int64
	LinkDestination string
	User, Group     string
}

// FakeFS is an in-memory FS for unit tests, grounded on the teacher's
// preference for table-driven tests over a real filesystem fixture wherever
// the operation under test doesn't need real I/O semantics.
type FakeFS struct {
	roots map[PathKind]string
	Files map[string]*FakeFile // keyed by absolute path
}

// NewFakeFS returns an empty FakeFS.
func NewFakeFS() *FakeFS {
	return &FakeFS{
		roots: map[PathKind]string{},
		Files: map[string]*FakeFile{},
	}
}

func (f *FakeFS) PathGet(kind PathKind, relPath string) string {
	return path.Join(f.roots[kind], relPath)
}

func (f *FakeFS) SetRoot(kind PathKind, root string) { f.roots[kind] = root }

func (f *FakeFS) Clone(workerIdx int) FS { return f }

func (f *FakeFS) List(path string, re *regexp.Regexp, order SortOrder) ([]string, error) {
	var names []string
	prefix := path + "/"
	for p := range f.Files {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			rest := p[len(prefix):]
			// Only direct children: no further slash.
			direct := rest
			for i, c := range rest {
				if c == '/' {
					direct = rest[:i]
					break
				}
			}
			if re != nil && !re.MatchString(direct) {
				continue
			}
			names = append(names, direct)
		}
	}
	if order == SortAsc {
		sort.Strings(names)
	}
	return dedup(names), nil
}

func dedup(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (f *FakeFS) Manifest(path string) (map[string]EntryInfo, error) {
	names, err := f.List(path, nil, SortAsc)
	if err != nil {
		return nil, err
	}
	out := make(map[string]EntryInfo, len(names))
	for _, name := range names {
		ff, ok := f.Files[path+"/"+name]
		if !ok {
			continue
		}
		out[name] = EntryInfo{
			Type:            ff.Type,
			User:            ff.User,
			Group:           ff.Group,
			Permission:      ff.Permission,
			Size:            int64(len(ff.Content)),
			Inode:           ff.Inode,
			ModTime:         ff.ModTime,
			LinkDestination: ff.LinkDestination,
		}
	}
	return out, nil
}

func (f *FakeFS) Exists(path string) (bool, error) {
	_, ok := f.Files[path]
	return ok, nil
}

func (f *FakeFS) PathCreate(path string, perm os.FileMode) error {
	if _, ok := f.Files[path]; !ok {
		f.Files[path] = &FakeFile{Type: TypeDir, Permission: perm}
	}
	return nil
}

func (f *FakeFS) Move(src, dst string) error {
	ff, ok := f.Files[src]
	if !ok {
		return fmt.Errorf("move: %s does not exist", src)
	}
	f.Files[dst] = ff
	delete(f.Files, src)
	return nil
}

func (f *FakeFS) Remove(path string, recursive bool) error {
	if _, ok := f.Files[path]; !ok {
		return fmt.Errorf("remove: %s does not exist", path)
	}
	prefix := path + "/"
	var children []string
	for p := range f.Files {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			children = append(children, p)
		}
	}
	if len(children) > 0 && !recursive {
		return fmt.Errorf("remove: %s is not empty", path)
	}
	for _, c := range children {
		delete(f.Files, c)
	}
	delete(f.Files, path)
	return nil
}

func (f *FakeFS) LinkCreate(src, dst string, hard, soft, ignoreExisting bool) error {
	if _, ok := f.Files[dst]; ok {
		if ignoreExisting {
			return nil
		}
		return fmt.Errorf("link_create: %s already exists", dst)
	}
	srcFile, ok := f.Files[src]
	if !ok {
		return fmt.Errorf("link_create: source %s does not exist", src)
	}
	if hard {
		f.Files[dst] = srcFile // hard link shares content identity
		return nil
	}
	f.Files[dst] = &FakeFile{Type: TypeLink, LinkDestination: src}
	return nil
}

func (f *FakeFS) Copy(srcPath, dstPath string, srcCompressed, dstCompress, ignoreMissing bool, mode *os.FileMode, mtime *time.Time, createDirs bool) (CopyResult, error) {
	src, ok := f.Files[srcPath]
	if !ok {
		if ignoreMissing {
			return CopyResult{Missing: true}, nil
		}
		return CopyResult{}, fmt.Errorf("copy: source %s does not exist", srcPath)
	}
	perm := src.Permission
	if mode != nil {
		perm = *mode
	}
	mt := time.Unix(src.ModTime, 0)
	if mtime != nil {
		mt = *mtime
	}
	f.Files[dstPath] = &FakeFile{
		Type:       TypeFile,
		Content:    append([]byte(nil), src.Content...),
		Permission: perm,
		Inode:      src.Inode,
		ModTime:    mt.Unix(),
	}
	return CopyResult{BytesWritten: int64(len(src.Content))}, nil
}

func (f *FakeFS) Hash(path string, compressed bool) (string, error) {
	ff, ok := f.Files[path]
	if !ok {
		return "", fmt.Errorf("hash: %s does not exist", path)
	}
	sum := sha256.Sum256(ff.Content)
	return hex.EncodeToString(sum[:]), nil
}

func (f *FakeFS) Compress(path string) (string, error) {
	ff, ok := f.Files[path]
	if !ok {
		return "", fmt.Errorf("compress: %s does not exist", path)
	}
	dst := path + ".gz"
	f.Files[dst] = ff
	delete(f.Files, path)
	return dst, nil
}
