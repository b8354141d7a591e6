package bundle

import (
	"strings"
	"testing"
)

func TestFormatSimpleBrewfile(t *testing.T) {
	bf := Brewfile{Entries: []Entry{{Kind: KindBrew, Name: "jq"}}}
	got := Format(bf)
	want := "brew \"jq\"\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatBrewWithOptions(t *testing.T) {
	link := false
	bf := Brewfile{Entries: []Entry{{
		Kind: KindBrew,
		Name: "git",
		Args: []string{"with-python"},
		Link: &link,
	}}}
	got := Format(bf)
	if !strings.Contains(got, `brew "git"`) {
		t.Fatalf("missing name: %q", got)
	}
	if !strings.Contains(got, `args: ["with-python"]`) {
		t.Fatalf("missing args: %q", got)
	}
	if !strings.Contains(got, "link: false") {
		t.Fatalf("missing link: %q", got)
	}
}

func TestFormatBrewWithServiceHint(t *testing.T) {
	bf := Brewfile{Entries: []Entry{{
		Kind:           KindBrew,
		Name:           "postgresql@15",
		RestartService: RestartChanged,
	}}}
	got := Format(bf)
	if !strings.Contains(got, `brew "postgresql@15"`) {
		t.Fatalf("missing name: %q", got)
	}
	if !strings.Contains(got, "restart_service: :changed") {
		t.Fatalf("missing restart_service: %q", got)
	}
}

func TestFormatTapsBeforeBrews(t *testing.T) {
	bf := Brewfile{Entries: []Entry{
		{Kind: KindTap, Name: "homebrew/core"},
		{Kind: KindBrew, Name: "jq"},
	}}
	got := Format(bf)
	want := "tap \"homebrew/core\"\n\nbrew \"jq\"\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
