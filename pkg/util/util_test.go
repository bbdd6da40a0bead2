package util

import (
	"os"
	"testing"
)

func TestWithUserWritePermission(t *testing.T) {
	testCases := []struct {
		name     string
		input    os.FileMode
		expected os.FileMode
	}{
		{name: "read-only permission", input: 0444, expected: 0644},
		{name: "already has write permission", input: 0755, expected: 0755},
		{name: "no permissions", input: 0000, expected: 0200},
		{name: "execute-only permission", input: 0111, expected: 0311},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := WithUserWritePermission(tc.input)
			if result != tc.expected {
				t.Errorf("expected permission %o, but got %o", tc.expected, result)
			}
		})
	}
}

func TestNormalizeRelPathRoundTrip(t *testing.T) {
	rel := "pg_tblspc/16400/1/1234"
	norm := NormalizeRelPath(rel)
	if norm != "pg_tblspc/16400/1/1234" {
		t.Fatalf("unexpected normalization: %q", norm)
	}
	if DenormalizeRelPath(norm) == "" {
		t.Fatalf("denormalize produced empty path")
	}
}

func TestInvertMap(t *testing.T) {
	m := map[int]string{1: "a", 2: "b"}
	inv := InvertMap(m)
	if inv["a"] != 1 || inv["b"] != 2 {
		t.Fatalf("unexpected inversion: %#v", inv)
	}
}
