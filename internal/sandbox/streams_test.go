package sandbox

import (
	"strings"
	"sync"
	"testing"
)

func TestStreams_Separate(t *testing.T) {
	s := NewStreams(0)
	s.WriteStdout("out")
	s.WriteStderr("err")
	if s.Stdout() != "out" || s.Stderr() != "err" {
		t.Errorf("Stdout = %q, Stderr = %q", s.Stdout(), s.Stderr())
	}

	s.Release()
	if s.Stdout() != "" || s.Stderr() != "" {
		t.Error("Release did not drop buffered text")
	}
}

func TestStreams_Truncation(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		writes []string
		want   string
	}{
		{"under limit", 10, []string{"abc", "def"}, "abcdef"},
		{"exact limit", 6, []string{"abc", "def"}, "abcdef"},
		{"over limit", 4, []string{"abc", "def"}, "abcd" + truncationMarker},
		{"drops later writes", 2, []string{"abc", "def"}, "ab" + truncationMarker},
		{"rune boundary", 2, []string{"aé"}, "a" + truncationMarker},
		{"unlimited", 0, []string{strings.Repeat("x", 100)}, strings.Repeat("x", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStreams(tt.limit)
			for _, w := range tt.writes {
				s.WriteStdout(w)
			}
			if got := s.Stdout(); got != tt.want {
				t.Errorf("Stdout = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStreams_ConcurrentWrites(t *testing.T) {
	s := NewStreams(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.WriteStdout("x")
			}
		}()
	}
	wg.Wait()
	if len(s.Stdout()) != 800 {
		t.Errorf("len(Stdout) = %d, want 800", len(s.Stdout()))
	}
}
