package reason

import (
	"strings"
	"testing"

	"lilac/pkg"
)

func TestNvCheckerPriority(t *testing.T) {
	tests := []struct {
		name  string
		items []NvItem
		want  int
	}{
		{
			name:  "manual source is urgent",
			items: []NvItem{{Index: 2, Source: "manual"}},
			want:  PriorityUrgent,
		},
		{
			name:  "manual among others is urgent",
			items: []NvItem{{Index: 0, Source: "github"}, {Index: 1, Source: "manual"}},
			want:  PriorityUrgent,
		},
		{
			name:  "multiple items are high",
			items: []NvItem{{Index: 0, Source: "github"}, {Index: 1, Source: "pypi"}},
			want:  PriorityHigh,
		},
		{
			name:  "secondary source alone is high",
			items: []NvItem{{Index: 1, Source: "pypi"}},
			want:  PriorityHigh,
		},
		{
			name:  "single primary source is default",
			items: []NvItem{{Index: 0, Source: "github"}},
			want:  PriorityDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NvChecker{Items: tt.items}
			if got := r.PriorityClass(); got != tt.want {
				t.Fatalf("PriorityClass() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVariantPriorities(t *testing.T) {
	tests := []struct {
		r    BuildReason
		want int
	}{
		{UpdatedPkgrel{}, PriorityUrgent},
		{UpdatedFailed{}, PriorityMedium},
		{FailedByDeps{Deps: []string{"x"}}, PriorityDefault},
		{Cmdline{}, PriorityDefault},
		{OnBuild{}, PriorityDefault},
		{Depended{Depender: "a"}, PriorityDefault},
	}
	for _, tt := range tests {
		if got := tt.r.PriorityClass(); got != tt.want {
			t.Errorf("%T priority = %d, want %d", tt.r, got, tt.want)
		}
	}
}

func TestMinPriority(t *testing.T) {
	rs := []BuildReason{
		Cmdline{},
		UpdatedFailed{},
		UpdatedPkgrel{},
	}
	if got := MinPriority(rs); got != PriorityUrgent {
		t.Fatalf("MinPriority = %d, want %d", got, PriorityUrgent)
	}
	if got := MinPriority(nil); got != PriorityDefault {
		t.Fatalf("MinPriority(nil) = %d, want %d", got, PriorityDefault)
	}
}

func TestDisplay(t *testing.T) {
	nv := NvChecker{
		Items:   []NvItem{{Index: 0, Source: "github"}},
		Changes: []pkg.VersionChange{{OldVer: "1.0", NewVer: "1.1", Source: "github"}},
	}
	if got := nv.Display(); !strings.Contains(got, "1.0 -> 1.1") {
		t.Errorf("NvChecker display %q misses version change", got)
	}

	if got := (Depended{Depender: "vim"}).Display(); got != "depended by vim" {
		t.Errorf("Depended display = %q", got)
	}

	ob := OnBuild{UpdateOnBuild: []pkg.OnBuildSpec{{Pkgbase: "a"}, {Pkgbase: "b"}}}
	if got := ob.Display(); !strings.Contains(got, "a, b") {
		t.Errorf("OnBuild display = %q", got)
	}

	runner := Cmdline{Runner: "alice"}
	if got := runner.Display(); !strings.Contains(got, "alice") {
		t.Errorf("Cmdline display = %q", got)
	}
}
