package crs

import (
	"testing"
)

func TestKnownPattern(t *testing.T) {
	for _, p := range []string{PatternBABOK, PatternVolere, PatternIEEE, " BABOK "} {
		if !KnownPattern(p) {
			t.Fatalf("KnownPattern(%q) = false, want true", p)
		}
	}
	for _, p := range []string{"", "agile", "babok2"} {
		if KnownPattern(p) {
			t.Fatalf("KnownPattern(%q) = true, want false", p)
		}
	}
}

func TestDocumentJSON(t *testing.T) {
	var nilDoc Document
	if got := nilDoc.JSON(); got != "{}" {
		t.Fatalf("nil Document.JSON() = %q, want {}", got)
	}
	doc := Document{"project_overview": "a portal"}
	if got := doc.JSON(); got != `{"project_overview":"a portal"}` {
		t.Fatalf("Document.JSON() = %q", got)
	}
}

func TestParseDocument(t *testing.T) {
	if got := ParseDocument(`{"a":1}`); got == nil || got["a"] == nil {
		t.Fatalf("ParseDocument(valid) = %v, want parsed document", got)
	}
	if got := ParseDocument(""); got != nil {
		t.Fatalf("ParseDocument(empty) = %v, want nil", got)
	}
	if got := ParseDocument("not json"); got != nil {
		t.Fatalf("ParseDocument(malformed) = %v, want nil", got)
	}
}

func TestNewFactoryModes(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "auto without url", cfg: Config{Mode: "auto"}},
		{name: "auto with url", cfg: Config{Mode: "auto", HTTPURL: "http://bridge:8100"}},
		{name: "explicit mock", cfg: Config{Mode: "mock"}},
		{name: "explicit http", cfg: Config{Mode: "http", HTTPURL: "http://bridge:8100"}},
		{name: "http without url", cfg: Config{Mode: "http"}, wantErr: true},
		{name: "unknown mode", cfg: Config{Mode: "grpc"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := NewFactory(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NewFactory(%+v) error = nil, want error", tc.cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFactory(%+v) error = %v", tc.cfg, err)
			}
			if _, err := f.Filler(PatternBABOK); err != nil {
				t.Fatalf("Filler(babok) error = %v", err)
			}
		})
	}
}

func TestFactoryRejectsUnknownPattern(t *testing.T) {
	f, err := NewFactory(Config{Mode: "mock"})
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}
	if _, err := f.Filler("freestyle"); err == nil {
		t.Fatalf("Filler(freestyle) error = nil, want unknown pattern error")
	}
}
