package cmd_test

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/pixelgardenlabs/pgl-backup/cmd"
)

func TestRunVersionPrintsNameAndVersion(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("could not create pipe: %v", err)
	}
	origStdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = origStdout }()

	if err := cmd.RunVersion("PGL-Backup", "9.9.9"); err != nil {
		t.Fatalf("RunVersion returned error: %v", err)
	}

	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)

	got := buf.String()
	if !strings.Contains(got, "PGL-Backup") || !strings.Contains(got, "9.9.9") {
		t.Errorf("output %q missing name or version", got)
	}
}
