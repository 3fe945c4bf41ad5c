package pagination

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		fallback int
		ceiling  int
		want     int
	}{
		{name: "empty uses fallback", raw: "", fallback: 20, ceiling: 100, want: 20},
		{name: "explicit value", raw: "35", fallback: 20, ceiling: 100, want: 35},
		{name: "zero falls back", raw: "0", fallback: 20, ceiling: 100, want: 20},
		{name: "negative falls back", raw: "-5", fallback: 20, ceiling: 100, want: 20},
		{name: "clamped to ceiling", raw: "500", fallback: 20, ceiling: 100, want: 100},
		{name: "bad fallback corrected", raw: "", fallback: 0, ceiling: 100, want: DefaultPageSize},
		{name: "bad ceiling corrected", raw: "250", fallback: 20, ceiling: 0, want: DefaultMaxPageSize},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.raw, tc.fallback, tc.ceiling)
			if err != nil {
				t.Fatalf("Normalize returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestNormalizeRejectsNonNumeric(t *testing.T) {
	if _, err := Normalize("abc", 20, 100); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"2025-02-01T00:00:00Z", "ord_01ABC"}})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if len(cursor.StartAfter) != 2 || cursor.StartAfter[1] != "ord_01ABC" {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token for empty cursor, got %q", token)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodeToken("!!not-base64!!"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}

	cursor, err := DecodeToken("   ")
	if err != nil {
		t.Fatalf("expected blank token to decode cleanly, got %v", err)
	}
	if !cursor.empty() {
		t.Fatalf("expected empty cursor, got %+v", cursor)
	}
}
