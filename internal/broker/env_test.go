package broker

import (
	"reflect"
	"testing"
)

func TestSanitizeEnv_RemovesShadowingVars(t *testing.T) {
	base := []string{
		"PATH=/usr/bin",
		"ANTHROPIC_API_KEY=sk-ant-secret",
		"HOME=/home/dev",
		"ANTHROPIC_AUTH_TOKEN=tok",
	}
	got := SanitizeEnv(base, DefaultScrubVars)
	want := []string{"PATH=/usr/bin", "HOME=/home/dev"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SanitizeEnv = %v, want %v", got, want)
	}
}

func TestSanitizeEnv_DoesNotMutateInput(t *testing.T) {
	base := []string{"ANTHROPIC_API_KEY=sk", "PATH=/usr/bin"}
	orig := append([]string(nil), base...)
	_ = SanitizeEnv(base, DefaultScrubVars)
	if !reflect.DeepEqual(base, orig) {
		t.Fatalf("input mutated: %v", base)
	}
}

func TestSanitizeEnv_ExactNameMatchOnly(t *testing.T) {
	base := []string{"ANTHROPIC_API_KEY_BACKUP=x", "MY_ANTHROPIC_API_KEY=y"}
	got := SanitizeEnv(base, DefaultScrubVars)
	if !reflect.DeepEqual(got, base) {
		t.Fatalf("unrelated variables removed: %v", got)
	}
}

func TestSanitizeEnv_EmptyScrubCopies(t *testing.T) {
	base := []string{"A=1", "B=2"}
	got := SanitizeEnv(base, nil)
	if !reflect.DeepEqual(got, base) {
		t.Fatalf("copy mismatch: %v", got)
	}
	got[0] = "A=changed"
	if base[0] != "A=1" {
		t.Fatal("returned slice aliases input")
	}
}
