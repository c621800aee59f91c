// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"errors"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      Config
		wantErr  bool
		wantErrs int
	}{
		{
			name: "zero value is valid",
			cfg:  Config{},
		},
		{
			name: "all valid fields",
			cfg: Config{
				BaseDir:      "/home/user/site",
				Entry:        "index.html",
				ManifestName: "package.json",
				Patterns:     []string{"src/**/*.js", "**/*.css"},
				Ignore:       []string{"tmp/**"},
			},
		},
		{
			name:     "empty pattern",
			cfg:      Config{Patterns: []string{""}},
			wantErr:  true,
			wantErrs: 1,
		},
		{
			name:     "malformed ignore",
			cfg:      Config{Ignore: []string{"src/[a-"}},
			wantErr:  true,
			wantErrs: 1,
		},
		{
			name:     "manifest name with separator",
			cfg:      Config{ManifestName: "pkg/package.json"},
			wantErr:  true,
			wantErrs: 1,
		},
		{
			name: "every bad field is reported",
			cfg: Config{
				Patterns:     []string{"", "ok/**"},
				Ignore:       []string{"[", ""},
				ManifestName: `a\b`,
			},
			wantErr:  true,
			wantErrs: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			var ice *InvalidConfigError
			if !errors.As(err, &ice) {
				t.Fatalf("Validate() error type = %T, want *InvalidConfigError", err)
			}
			if len(ice.FieldErrors) != tt.wantErrs {
				t.Errorf("FieldErrors = %d (%v), want %d", len(ice.FieldErrors), ice.FieldErrors, tt.wantErrs)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Error("errors.Is(err, ErrInvalidConfig) = false")
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: t.TempDir(), Patterns: []string{"[invalid"}})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestBatch(t *testing.T) {
	t.Parallel()

	var empty Batch
	if !empty.Empty() {
		t.Error("zero Batch should be empty")
	}
	if empty.ManifestsChanged() {
		t.Error("zero Batch should report no manifest change")
	}

	b := Batch{
		EntryChanged: true,
		Manifests:    []string{"node_modules/lit/package.json"},
		Other:        []string{"src/app.js", "assets/a.css"},
	}
	if b.Empty() {
		t.Error("Empty() = true for populated batch")
	}
	if !b.ManifestsChanged() {
		t.Error("ManifestsChanged() = false")
	}
	want := []string{"assets/a.css", "node_modules/lit/package.json", "src/app.js"}
	got := b.All()
	if len(got) != len(want) {
		t.Fatalf("All() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("All()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	w := &Watcher{entryRel: "index.html", manifestName: "package.json"}
	b := w.classify([]string{
		"index.html",
		"node_modules/@lit/reactive-element/package.json",
		"node_modules/lit/index.js",
		"package.json",
	})

	if !b.EntryChanged {
		t.Error("EntryChanged = false")
	}
	if len(b.Manifests) != 2 {
		t.Errorf("Manifests = %v, want 2 entries", b.Manifests)
	}
	if len(b.Other) != 1 || b.Other[0] != "node_modules/lit/index.js" {
		t.Errorf("Other = %v", b.Other)
	}
}

func TestRelTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		base   string
		p      string
		want   string
		wantOK bool
	}{
		{name: "relative", base: "/proj", p: "build/modules", want: "build/modules", wantOK: true},
		{name: "absolute inside", base: "/proj", p: "/proj/index.html", want: "index.html", wantOK: true},
		{name: "base itself", base: "/proj", p: "/proj", want: ".", wantOK: true},
		{name: "outside", base: "/proj", p: "/other/out", wantOK: false},
		{name: "parent escape", base: "/proj", p: "../out", wantOK: false},
		{name: "dotdot prefixed name", base: "/proj", p: "..cache", want: "..cache", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := relTo(tt.base, tt.p)
			if ok != tt.wantOK {
				t.Fatalf("relTo(%q, %q) ok = %v, want %v", tt.base, tt.p, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("relTo(%q, %q) = %q, want %q", tt.base, tt.p, got, tt.want)
			}
		})
	}
}
