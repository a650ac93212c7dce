package color

import (
	"errors"
	"testing"
	"time"
)

func mustHex(t *testing.T, s string) RGB {
	t.Helper()
	c, err := ParseHex(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return c
}

func testGradient(t *testing.T, mode Mode) *Gradient {
	t.Helper()
	g, err := New([]Bucket{
		{Threshold: 240 * time.Second, Background: mustHex(t, "#FF0000"), Text: mustHex(t, "#FFFFFF")},
		{Threshold: 600 * time.Second, Background: mustHex(t, "#FF9B0F"), Text: mustHex(t, "#000000")},
	}, mode)
	if err != nil {
		t.Fatalf("new gradient: %v", err)
	}
	return g
}

func TestResolveClampsPastFinal(t *testing.T) {
	g := testGradient(t, ModeLinear)
	bg, text := g.Resolve(1000 * time.Second)
	if bg.Hex() != "#FF9B0F" || text.Hex() != "#000000" {
		t.Fatalf("got %s/%s", bg.Hex(), text.Hex())
	}
	bg, text = g.Resolve(600 * time.Second)
	if bg.Hex() != "#FF9B0F" || text.Hex() != "#000000" {
		t.Fatalf("at final threshold got %s/%s", bg.Hex(), text.Hex())
	}
}

func TestResolveLinear(t *testing.T) {
	g := testGradient(t, ModeLinear)
	bg, text := g.Resolve(0)
	if bg.Hex() != "#FF0000" || text.Hex() != "#FFFFFF" {
		t.Fatalf("start got %s/%s", bg.Hex(), text.Hex())
	}
	bg, _ = g.Resolve(120 * time.Second)
	// halfway from #FF0000 to #FF9B0F
	if bg.Hex() != "#FF4E08" {
		t.Fatalf("midpoint got %s", bg.Hex())
	}
	bg, _ = g.Resolve(300 * time.Second)
	if bg.Hex() != "#FF9B0F" {
		t.Fatalf("final bucket got %s", bg.Hex())
	}
}

func TestResolveStepped(t *testing.T) {
	g := testGradient(t, ModeStepped)
	bg, _ := g.Resolve(239 * time.Second)
	if bg.Hex() != "#FF0000" {
		t.Fatalf("got %s", bg.Hex())
	}
	bg, _ = g.Resolve(240 * time.Second)
	if bg.Hex() != "#FF9B0F" {
		t.Fatalf("got %s", bg.Hex())
	}
}

func TestResolveNegativeElapsed(t *testing.T) {
	g := testGradient(t, ModeLinear)
	bg, _ := g.Resolve(-time.Minute)
	if bg.Hex() != "#FF0000" {
		t.Fatalf("got %s", bg.Hex())
	}
}

func TestNewRejectsBadTables(t *testing.T) {
	red := RGB{R: 255}
	cases := []struct {
		name    string
		buckets []Bucket
		mode    Mode
	}{
		{"empty", nil, ModeLinear},
		{"zero first", []Bucket{{Threshold: 0, Background: red}}, ModeLinear},
		{"equal", []Bucket{{Threshold: time.Second}, {Threshold: time.Second}}, ModeLinear},
		{"decreasing", []Bucket{{Threshold: 2 * time.Second}, {Threshold: time.Second}}, ModeLinear},
		{"mode", []Bucket{{Threshold: time.Second}}, Mode("cubic")},
	}
	for _, tc := range cases {
		if _, err := New(tc.buckets, tc.mode); !errors.Is(err, ErrInvalidGradient) {
			t.Fatalf("%s: expected ErrInvalidGradient, got %v", tc.name, err)
		}
	}
}

func TestParseHex(t *testing.T) {
	if _, err := ParseHex("FF0000"); err == nil {
		t.Fatalf("expected error without #")
	}
	if _, err := ParseHex("#GG0000"); err == nil {
		t.Fatalf("expected error for non-hex")
	}
	c := mustHex(t, "#ff9b0f")
	if c.Hex() != "#FF9B0F" {
		t.Fatalf("got %s", c.Hex())
	}
}
