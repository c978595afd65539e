package httpapi

import (
	"encoding/base64"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc123", "abc123", false},
		{"bearer abc123", "abc123", false},
		{"  Bearer   abc123  ", "abc123", false},
		{"", "", true},
		{"Bearer ", "", true},
		{"Basic abc123", "", true},
		{"abc123", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("extractBearerToken(%q): expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Fatalf("extractBearerToken(%q): %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("extractBearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestExtractBasicCredentials(t *testing.T) {
	header := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:S3cr3t!"))
	name, password, err := extractBasicCredentials(header)
	if err != nil {
		t.Fatalf("extractBasicCredentials: %v", err)
	}
	if name != "alice" || password != "S3cr3t!" {
		t.Fatalf("got %q/%q", name, password)
	}

	// Password containing a colon splits on the first separator only.
	header = "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:pa:ss"))
	_, password, err = extractBasicCredentials(header)
	if err != nil {
		t.Fatalf("extractBasicCredentials: %v", err)
	}
	if password != "pa:ss" {
		t.Fatalf("password = %q, want pa:ss", password)
	}

	for _, bad := range []string{"", "Bearer abc", "Basic !!!", "Basic " + base64.StdEncoding.EncodeToString([]byte("no-separator"))} {
		if _, _, err := extractBasicCredentials(bad); err == nil {
			t.Fatalf("extractBasicCredentials(%q): expected error", bad)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, p := range []string{"/healthz", "/readyz", "/metrics", "/v1/auth/login", "/v1/auth/register", "/v1/auth/refresh"} {
		if !isPublicPath(p) {
			t.Fatalf("expected %s to be public", p)
		}
	}
	for _, p := range []string{"/v1/auth/logout", "/v1/auth/introspect", "/v1/roles", "/v1/audit", "/v1/events"} {
		if isPublicPath(p) {
			t.Fatalf("expected %s to require authentication", p)
		}
	}
}
