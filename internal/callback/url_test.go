package callback

import "testing"

func TestResolveURL_AbsoluteTargetNoBase(t *testing.T) {
	got, err := resolveURL("https://controller.example/jobs/1/status", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://controller.example/jobs/1/status" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveURL_AbsoluteTargetWithBaseOverridesHostAndScheme(t *testing.T) {
	got, err := resolveURL("http://old-host/jobs/1/status?x=1#frag", "https://new-host:9000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://new-host:9000/jobs/1/status?x=1#frag"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestResolveURL_RelativeTargetJoinedToBase(t *testing.T) {
	got, err := resolveURL("/jobs/1/status", "https://controller.example/api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://controller.example/jobs/1/status" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveURL_RelativeTargetWithNoBaseIsError(t *testing.T) {
	_, err := resolveURL("/jobs/1/status", "")
	if err == nil {
		t.Fatal("expected error for relative target with no base")
	}
}
