// Package dbclient defines the database control client collaborator named
// in the engine's external interfaces. The real client (issuing
// backup_start/backup_stop against a live cluster) is out of scope; this
// package is the seam plus an in-memory fake for tests.
package dbclient

import "context"

// Client is the control-plane collaborator the engine drives around a
// backup: start it, stop it, and learn the tablespace layout and server
// version needed to build the manifest.
type Client interface {
	// BackupStart tells the cluster a backup is beginning and returns the
	// archive position (WAL segment boundary) backup data becomes
	// consistent from. fast requests an immediate checkpoint over a
	// spread one.
	BackupStart(ctx context.Context, label string, fast bool) (archiveStart string, err error)

	// BackupStop tells the cluster the backup's file copy phase is done
	// and returns the archive position backup data becomes consistent up
	// to.
	BackupStop(ctx context.Context) (archiveStop string, err error)

	// TablespaceMap returns the current oid -> name mapping for tablespaces
	// registered under pg_tblspc.
	TablespaceMap(ctx context.Context) (map[string]string, error)

	// DBVersion returns the cluster's numeric version (e.g. 160003).
	DBVersion(ctx context.Context) (int, error)
}

// FakeClient is an in-memory Client for tests: no real database connection,
// just canned responses and a call log.
type FakeClient struct {
	ArchiveStart string
	ArchiveStop  string
	Tablespaces  map[string]string
	Version      int

	StartErr error
	StopErr  error

	Started bool
	Stopped bool
	Labels  []string
}

// NewFakeClient returns a FakeClient with reasonable defaults.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		ArchiveStart: "000000010000000000000001",
		ArchiveStop:  "000000010000000000000002",
		Tablespaces:  map[string]string{},
		Version:      160003,
	}
}

func (f *FakeClient) BackupStart(ctx context.Context, label string, fast bool) (string, error) {
	if f.StartErr != nil {
		return "", f.StartErr
	}
	f.Started = true
	f.Labels = append(f.Labels, label)
	return f.ArchiveStart, nil
}

func (f *FakeClient) BackupStop(ctx context.Context) (string, error) {
	if f.StopErr != nil {
		return "", f.StopErr
	}
	f.Stopped = true
	return f.ArchiveStop, nil
}

func (f *FakeClient) TablespaceMap(ctx context.Context) (map[string]string, error) {
	return f.Tablespaces, nil
}

func (f *FakeClient) DBVersion(ctx context.Context) (int, error) {
	return f.Version, nil
}
