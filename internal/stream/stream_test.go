package stream

import (
	"errors"
	"testing"
	"time"
)

func TestKeyRoundTrip(t *testing.T) {
	id := ID{Group: "/aws/lambda/api", Name: "2026/10/19/[$LATEST]abc|def"}
	got, err := ParseKey(id.Key())
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if got != id {
		t.Errorf("got %+v, want %+v", got, id)
	}
}

func TestParseKeyInvalid(t *testing.T) {
	for _, key := range []string{"", "no-separator", "|stream"} {
		if _, err := ParseKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseKey(%q) err = %v, want ErrInvalidKey", key, err)
		}
	}
}

func ts(sec int64) time.Time { return time.Unix(sec, 0) }

func TestSelectRecent(t *testing.T) {
	streams := []Discovered{
		{ID: ID{"g", "a"}, LastEventTime: ts(5)},
		{ID: ID{"g", "b"}, LastEventTime: ts(3)},
		{ID: ID{"g", "c"}, LastEventTime: ts(9)},
		{ID: ID{"g", "d"}, LastEventTime: ts(1)},
	}
	got := SelectRecent(streams, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(got))
	}
	if got[0].ID.Name != "c" || got[1].ID.Name != "a" {
		t.Errorf("expected [c a], got [%s %s]", got[0].ID.Name, got[1].ID.Name)
	}
}

func TestSelectRecentPerGroup(t *testing.T) {
	streams := []Discovered{
		{ID: ID{"g1", "a"}, LastEventTime: ts(1)},
		{ID: ID{"g2", "x"}, LastEventTime: ts(100)},
		{ID: ID{"g1", "b"}, LastEventTime: ts(2)},
		{ID: ID{"g2", "y"}, LastEventTime: ts(50)},
		{ID: ID{"g2", "z"}, LastEventTime: ts(75)},
	}
	got := SelectRecent(streams, 1)
	want := []ID{{"g1", "b"}, {"g2", "x"}}
	if len(got) != len(want) {
		t.Fatalf("got %d streams, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("[%d] got %v, want %v", i, got[i].ID, want[i])
		}
	}
}

func TestSelectRecentTiesAndUnlimited(t *testing.T) {
	streams := []Discovered{
		{ID: ID{"g", "b"}, LastEventTime: ts(7)},
		{ID: ID{"g", "a"}, LastEventTime: ts(7)},
		{ID: ID{"g", "c"}, LastEventTime: ts(1)},
	}
	got := SelectRecent(streams, 0)
	if len(got) != 3 {
		t.Fatalf("k=0 should keep all, got %d", len(got))
	}
	if got[0].ID.Name != "a" || got[1].ID.Name != "b" {
		t.Errorf("ties should break by name, got [%s %s]", got[0].ID.Name, got[1].ID.Name)
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		cfg  FilterConfig
		id   ID
		want bool
	}{
		{"zero accepts all", FilterConfig{}, ID{"g", "anything"}, true},
		{"include match", FilterConfig{Include: []string{"web-*"}}, ID{"g", "web-1"}, true},
		{"include miss", FilterConfig{Include: []string{"web-*"}}, ID{"g", "worker-1"}, false},
		{"exclude wins", FilterConfig{Include: []string{"*"}, Exclude: []string{"*-canary"}}, ID{"g", "web-canary"}, false},
		{"group qualified", FilterConfig{Include: []string{"/aws/lambda/**"}}, ID{"/aws/lambda/api", "2026/10/19/x"}, true},
		{"group qualified miss", FilterConfig{Include: []string{"/aws/ecs/**"}}, ID{"/aws/lambda/api", "x"}, false},
		{"regex match", FilterConfig{Regex: `^i-[0-9a-f]+$`}, ID{"g", "i-0abc"}, true},
		{"regex miss", FilterConfig{Regex: `^i-[0-9a-f]+$`}, ID{"g", "host-1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilter(tt.cfg)
			if err != nil {
				t.Fatalf("NewFilter: %v", err)
			}
			if got := f.Match(tt.id); got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestFilterInvalid(t *testing.T) {
	if _, err := NewFilter(FilterConfig{Include: []string{"[abc"}}); err == nil {
		t.Error("expected error for bad glob")
	}
	if _, err := NewFilter(FilterConfig{Regex: "("}); err == nil {
		t.Error("expected error for bad regex")
	}
}

func TestNilFilterAcceptsAll(t *testing.T) {
	var f *Filter
	if !f.Match(ID{"g", "s"}) {
		t.Error("nil filter should accept all")
	}
}
