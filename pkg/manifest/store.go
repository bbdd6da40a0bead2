package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pixelgardenlabs/pgl-backup/pkg/perr"
)

// errUnknownKey marks a section/key Load doesn't recognize. It is never
// returned to a caller: the Load loop catches it and stashes the line into
// Manifest.Unknown instead of failing, so an unrecognized key written by a
// newer binary still round-trips through an older one.
var errUnknownKey = errors.New("unknown manifest key")

// Store loads and saves manifests as a sectioned key=value text file,
// one key per line per section: "[section]" headers followed by
// "key=value" lines, matching the grammar spec.md §3 describes. The exact
// serializer is ours to choose as long as load(save(m)) round-trips
// exactly; no ini/manifest library in the retrieval pack fits a format
// this specific, so it is hand-rolled over bufio/strconv like the rest of
// this engine's text formats (pkg/config's JSON is the one place a
// standard encoding made sense).

// Save writes m to path. It is atomic at the filesystem boundary: content
// is written to a temp file in the same directory, then renamed over path.
func Save(path string, m *Manifest) error {
	dir := dirOf(path)
	tmp, err := os.CreateTemp(dir, "manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("manifest save: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := writeManifest(w, m); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest save: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest save: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("manifest save: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("manifest save: rename: %w", err)
	}
	tmpPath = ""
	return nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func writeManifest(w *bufio.Writer, m *Manifest) error {
	written := map[string]bool{}

	fmt.Fprintln(w, "[backup]")
	writeKV(w, "label", m.Label)
	writeKV(w, "type", m.Type)
	writeKV(w, "prior", m.Prior)
	writeKV(w, "version", m.Version)
	writeIntKV(w, "timestamp-start", m.TimestampStart)
	writeIntKV(w, "timestamp-stop", m.TimestampStop)
	writeKV(w, "archive-start", m.ArchiveStart)
	writeKV(w, "archive-stop", m.ArchiveStop)
	writeKV(w, "reference", strings.Join(m.References, ","))
	writeUnknown(w, m, "backup", written)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[backup:option]")
	writeBoolKV(w, "compress", m.Compress)
	writeBoolKV(w, "checksum", m.Checksum)
	writeBoolKV(w, "hardlink", m.HardLink)
	writeUnknown(w, m, "backup:option", written)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[backup:path]")
	for _, name := range sortedKeys(m.Paths) {
		writeKV(w, name, m.Paths[name])
	}
	writeUnknown(w, m, "backup:path", written)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[backup:tablespace]")
	for _, oid := range sortedTablespaceKeys(m.Tablespaces) {
		ts := m.Tablespaces[oid]
		writeKV(w, oid+".link", ts.Link)
		writeKV(w, oid+".path", ts.Path)
	}
	writeUnknown(w, m, "backup:tablespace", written)
	fmt.Fprintln(w)

	for _, level := range sortedKeys(m.Levels) {
		lvl := m.Levels[level]

		if len(lvl.Paths) > 0 || len(m.Unknown[level+":path"]) > 0 {
			fmt.Fprintf(w, "[%s:path]\n", level)
			for _, name := range sortedPathKeys(lvl.Paths) {
				e := lvl.Paths[name]
				writeKV(w, name+".user", e.User)
				writeKV(w, name+".group", e.Group)
				writeOctalKV(w, name+".permission", e.Permission)
			}
			writeUnknown(w, m, level+":path", written)
			fmt.Fprintln(w)
		}

		if len(lvl.Files) > 0 || len(m.Unknown[level+":file"]) > 0 {
			fmt.Fprintf(w, "[%s:file]\n", level)
			for _, name := range sortedFileKeys(lvl.Files) {
				e := lvl.Files[name]
				writeKV(w, name+".user", e.User)
				writeKV(w, name+".group", e.Group)
				writeOctalKV(w, name+".permission", e.Permission)
				writeIntKV(w, name+".size", e.Size)
				writeUintKV(w, name+".inode", e.Inode)
				writeIntKV(w, name+".modification_time", e.ModTime)
				if e.Reference != "" {
					writeKV(w, name+".reference", e.Reference)
				}
				if e.Checksum != "" {
					writeKV(w, name+".checksum", e.Checksum)
				}
			}
			writeUnknown(w, m, level+":file", written)
			fmt.Fprintln(w)
		}

		if len(lvl.Links) > 0 || len(m.Unknown[level+":link"]) > 0 {
			fmt.Fprintf(w, "[%s:link]\n", level)
			for _, name := range sortedLinkKeys(lvl.Links) {
				e := lvl.Links[name]
				writeKV(w, name+".user", e.User)
				writeKV(w, name+".group", e.Group)
				writeKV(w, name+".link_destination", e.LinkDestination)
			}
			writeUnknown(w, m, level+":link", written)
			fmt.Fprintln(w)
		}
	}

	// Sections Load saw no recognized key for at all (an entirely new
	// section name) never got a header above; write them as a trailer.
	for _, section := range sortedKeys(m.Unknown) {
		if written[section] {
			continue
		}
		fmt.Fprintf(w, "[%s]\n", section)
		writeUnknown(w, m, section, written)
		fmt.Fprintln(w)
	}
	return nil
}

// writeUnknown re-emits the key=value lines Load couldn't map to a known
// field for section, verbatim.
func writeUnknown(w *bufio.Writer, m *Manifest, section string, written map[string]bool) {
	written[section] = true
	for _, e := range m.Unknown[section] {
		fmt.Fprintf(w, "%s=%s\n", e.Key, e.Raw)
	}
}

func writeKV(w *bufio.Writer, key, value string) {
	fmt.Fprintf(w, "%s=%s\n", key, strconv.Quote(value))
}

func writeIntKV(w *bufio.Writer, key string, value int64) {
	fmt.Fprintf(w, "%s=%d\n", key, value)
}

func writeUintKV(w *bufio.Writer, key string, value uint64) {
	fmt.Fprintf(w, "%s=%d\n", key, value)
}

func writeOctalKV(w *bufio.Writer, key string, mode os.FileMode) {
	fmt.Fprintf(w, "%s=0%o\n", key, mode)
}

func writeBoolKV(w *bufio.Writer, key string, value bool) {
	v := "n"
	if value {
		v = "y"
	}
	fmt.Fprintf(w, "%s=%s\n", key, v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTablespaceKeys(m map[string]TablespaceEntry) []string { return sortedKeys(m) }
func sortedPathKeys(m map[string]PathEntry) []string             { return sortedKeys(m) }
func sortedFileKeys(m map[string]FileEntry) []string             { return sortedKeys(m) }
func sortedLinkKeys(m map[string]LinkEntry) []string             { return sortedKeys(m) }

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := New()
	var section string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed line %q", perr.ErrMalformedManifest, line)
		}
		key, raw := line[:idx], line[idx+1:]
		if err := applyKV(m, section, key, raw); err != nil {
			if errors.Is(err, errUnknownKey) {
				m.Unknown[section] = append(m.Unknown[section], UnknownEntry{Key: key, Raw: raw})
				continue
			}
			return nil, fmt.Errorf("%w: %v", perr.ErrMalformedManifest, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", perr.ErrMalformedManifest, err)
	}
	return m, nil
}

func unquote(raw string) (string, error) {
	if len(raw) >= 2 && raw[0] == '"' {
		return strconv.Unquote(raw)
	}
	return raw, nil
}

func applyKV(m *Manifest, section, key, raw string) error {
	switch section {
	case "backup":
		return applyBackupKV(m, key, raw)
	case "backup:option":
		return applyOptionKV(m, key, raw)
	case "backup:path":
		val, err := unquote(raw)
		if err != nil {
			return err
		}
		m.Paths[key] = val
		return nil
	case "backup:tablespace":
		return applyTablespaceKV(m, key, raw)
	default:
		return applyLevelKV(m, section, key, raw)
	}
}

func applyBackupKV(m *Manifest, key, raw string) error {
	switch key {
	case "label":
		v, err := unquote(raw)
		m.Label = v
		return err
	case "type":
		v, err := unquote(raw)
		m.Type = v
		return err
	case "prior":
		v, err := unquote(raw)
		m.Prior = v
		return err
	case "version":
		v, err := unquote(raw)
		m.Version = v
		return err
	case "timestamp-start":
		v, err := strconv.ParseInt(raw, 10, 64)
		m.TimestampStart = v
		return err
	case "timestamp-stop":
		v, err := strconv.ParseInt(raw, 10, 64)
		m.TimestampStop = v
		return err
	case "archive-start":
		v, err := unquote(raw)
		m.ArchiveStart = v
		return err
	case "archive-stop":
		v, err := unquote(raw)
		m.ArchiveStop = v
		return err
	case "reference":
		v, err := unquote(raw)
		if err != nil {
			return err
		}
		if v != "" {
			m.References = strings.Split(v, ",")
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown backup attribute %q", errUnknownKey, key)
	}
}

func applyOptionKV(m *Manifest, key, raw string) error {
	val := raw == "y"
	switch key {
	case "compress":
		m.Compress = val
	case "checksum":
		m.Checksum = val
	case "hardlink":
		m.HardLink = val
	default:
		return fmt.Errorf("%w: unknown backup:option attribute %q", errUnknownKey, key)
	}
	return nil
}

func applyTablespaceKV(m *Manifest, key, raw string) error {
	idx := strings.LastIndexByte(key, '.')
	if idx < 0 {
		return fmt.Errorf("malformed backup:tablespace key %q", key)
	}
	oid, attr := key[:idx], key[idx+1:]
	val, err := unquote(raw)
	if err != nil {
		return err
	}
	switch attr {
	case "link", "path":
	default:
		return fmt.Errorf("%w: unknown backup:tablespace attribute %q", errUnknownKey, attr)
	}
	ts := m.Tablespaces[oid]
	if attr == "link" {
		ts.Link = val
	} else {
		ts.Path = val
	}
	m.Tablespaces[oid] = ts
	return nil
}

// applyLevelKV handles a <level>:<kind> section. kind is checked before the
// key is assumed to have a "name.attr" shape, since an entirely unknown
// kind's keys are preserved verbatim rather than parsed.
func applyLevelKV(m *Manifest, section, key, raw string) error {
	idx := strings.LastIndexByte(section, ':')
	if idx < 0 {
		return fmt.Errorf("%w: unknown section %q", errUnknownKey, section)
	}
	level, kind := section[:idx], section[idx+1:]
	switch kind {
	case "path", "file", "link":
	default:
		return fmt.Errorf("%w: unknown level section kind %q", errUnknownKey, kind)
	}

	nameIdx := strings.LastIndexByte(key, '.')
	if nameIdx < 0 {
		return fmt.Errorf("malformed %s key %q", section, key)
	}
	name, attr := key[:nameIdx], key[nameIdx+1:]
	lvl := m.LevelFor(level)

	switch kind {
	case "path":
		e := lvl.Paths[name]
		if err := applyPathAttr(&e, attr, raw); err != nil {
			return err
		}
		lvl.Paths[name] = e
	case "file":
		e := lvl.Files[name]
		if err := applyFileAttr(&e, attr, raw); err != nil {
			return err
		}
		lvl.Files[name] = e
	case "link":
		e := lvl.Links[name]
		if err := applyLinkAttr(&e, attr, raw); err != nil {
			return err
		}
		lvl.Links[name] = e
	}
	return nil
}

func applyPathAttr(e *PathEntry, attr, raw string) error {
	val, err := unquote(raw)
	switch attr {
	case "user":
		e.User = val
		return err
	case "group":
		e.Group = val
		return err
	case "permission":
		return applyPermission(&e.Permission, raw)
	default:
		return fmt.Errorf("%w: unknown path attribute %q", errUnknownKey, attr)
	}
}

func applyFileAttr(e *FileEntry, attr, raw string) error {
	switch attr {
	case "user":
		v, err := unquote(raw)
		e.User = v
		return err
	case "group":
		v, err := unquote(raw)
		e.Group = v
		return err
	case "permission":
		return applyPermission(&e.Permission, raw)
	case "size":
		v, err := strconv.ParseInt(raw, 10, 64)
		e.Size = v
		return err
	case "inode":
		v, err := strconv.ParseUint(raw, 10, 64)
		e.Inode = v
		return err
	case "modification_time":
		v, err := strconv.ParseInt(raw, 10, 64)
		e.ModTime = v
		return err
	case "reference":
		v, err := unquote(raw)
		e.Reference = v
		return err
	case "checksum":
		v, err := unquote(raw)
		e.Checksum = v
		return err
	default:
		return fmt.Errorf("%w: unknown file attribute %q", errUnknownKey, attr)
	}
}

func applyLinkAttr(e *LinkEntry, attr, raw string) error {
	val, err := unquote(raw)
	switch attr {
	case "user":
		e.User = val
		return err
	case "group":
		e.Group = val
		return err
	case "link_destination":
		e.LinkDestination = val
		return err
	default:
		return fmt.Errorf("%w: unknown link attribute %q", errUnknownKey, attr)
	}
}

func applyPermission(mode *os.FileMode, raw string) error {
	v, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return err
	}
	*mode = os.FileMode(v)
	return nil
}
