package model

import (
	"testing"
)

func TestNormalizeParticipants(t *testing.T) {
	tests := []struct {
		name   string
		ids    []string
		caller string
		want   []string
	}{
		{
			name:   "caller added when absent",
			ids:    []string{"u2"},
			caller: "u1",
			want:   []string{"u1", "u2"},
		},
		{
			name:   "caller not duplicated",
			ids:    []string{"u1", "u2"},
			caller: "u1",
			want:   []string{"u1", "u2"},
		},
		{
			name:   "dedupe and sort",
			ids:    []string{"u3", "u2", "u3", "u2"},
			caller: "u1",
			want:   []string{"u1", "u2", "u3"},
		},
		{
			name:   "blank entries dropped",
			ids:    []string{"", "  ", "u2"},
			caller: "u1",
			want:   []string{"u1", "u2"},
		},
		{
			name:   "caller only",
			ids:    nil,
			caller: "u1",
			want:   []string{"u1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeParticipants(tt.ids, tt.caller)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestParticipantHashOrderIndependent(t *testing.T) {
	a := ParticipantHash(NormalizeParticipants([]string{"u1", "u2"}, "u3"))
	b := ParticipantHash(NormalizeParticipants([]string{"u3", "u1"}, "u2"))
	if a != b {
		t.Fatalf("hashes differ for the same set: %s vs %s", a, b)
	}

	c := ParticipantHash(NormalizeParticipants([]string{"u1"}, "u2"))
	if a == c {
		t.Fatalf("different sets must not collide")
	}
}

func TestParticipantHashNoSeparatorCollision(t *testing.T) {
	// {"ab","c"} and {"a","bc"} must hash differently.
	a := ParticipantHash([]string{"ab", "c"})
	b := ParticipantHash([]string{"a", "bc"})
	if a == b {
		t.Fatalf("concatenation collision between distinct sets")
	}
}
