package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{`"abc"`, "abc"},
		{`42`, "42"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var id ID
		if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tt.in, err)
		}
		if id != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, id, tt.want)
		}
	}

	var id ID
	if err := json.Unmarshal([]byte(`true`), &id); err == nil {
		t.Error("Unmarshal(true) should fail")
	}
}

func TestTempAndGroupIDs(t *testing.T) {
	a, b := NewTempID(), NewTempID()
	if a == b {
		t.Error("temp ids should be unique")
	}
	if !a.IsTemporary() {
		t.Errorf("%q should be temporary", a)
	}
	if ID("m1").IsTemporary() {
		t.Error("m1 should not be temporary")
	}

	g := GroupID("5")
	if g != "group_5" || !g.IsGroup() {
		t.Errorf("GroupID(5) = %q", g)
	}
	if GroupID(g) != g {
		t.Error("GroupID should not double the prefix")
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01T12:00:00Z", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"2024-03-01T12:00:00.5", time.Date(2024, 3, 1, 12, 0, 0, 500000000, time.UTC)},
		{"2024-03-01 12:00:00", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"garbage", time.Unix(0, 0).UTC()},
		{"", time.Unix(0, 0).UTC()},
	}
	for _, tt := range tests {
		if got := ParseTime(tt.in); !got.Equal(tt.want) {
			t.Errorf("ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
