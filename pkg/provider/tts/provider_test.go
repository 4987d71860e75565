package tts

import (
	"strings"
	"testing"
)

func TestVoice_String(t *testing.T) {
	t.Parallel()

	v := Voice{ID: 3, Name: "ずんだもん", StyleName: "ノーマル"}
	if got, want := v.String(), "ID:   3 | ずんだもん (ノーマル)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestFormatVoices(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		if got := FormatVoices(nil, 100); len(got) != 0 {
			t.Errorf("chunks = %v, want none", got)
		}
	})

	t.Run("single chunk", func(t *testing.T) {
		t.Parallel()
		got := FormatVoices([]Voice{{ID: 1, Name: "a", StyleName: "x"}, {ID: 2, Name: "b", StyleName: "y"}}, 2000)
		if len(got) != 1 {
			t.Fatalf("chunks = %d, want 1", len(got))
		}
		if want := "ID:   1 | a (x)\nID:   2 | b (y)"; got[0] != want {
			t.Errorf("chunk = %q, want %q", got[0], want)
		}
	})

	t.Run("split under limit", func(t *testing.T) {
		t.Parallel()
		voices := make([]Voice, 10)
		for i := range voices {
			voices[i] = Voice{ID: i, Name: "voice", StyleName: "normal"}
		}
		lineLen := len(voices[0].String())
		limit := lineLen*3 + 2
		got := FormatVoices(voices, limit)
		if len(got) != 4 {
			t.Fatalf("chunks = %d, want 4", len(got))
		}
		total := 0
		for _, c := range got {
			if len(c) > limit {
				t.Errorf("chunk length %d exceeds limit %d", len(c), limit)
			}
			total += strings.Count(c, "ID:")
		}
		if total != 10 {
			t.Errorf("lines = %d, want 10", total)
		}
	})
}
