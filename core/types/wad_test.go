package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestWadSubNeverClamps(t *testing.T) {
	a := Whole(1)
	b := Whole(2)
	if _, err := a.Sub(b); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	diff, err := b.Sub(a)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if diff.Cmp(Whole(1)) != 0 {
		t.Fatalf("unexpected difference %s", diff)
	}
}

func TestWadAddOverflow(t *testing.T) {
	if _, err := MaxWad().Add(NewWad(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestWadMulDivFloors(t *testing.T) {
	// 10 * 2 / 3 = 6.66.. -> 6
	got, err := NewWad(10).MulDiv(NewWad(2), NewWad(3))
	if err != nil {
		t.Fatalf("muldiv: %v", err)
	}
	if got.Cmp(NewWad(6)) != 0 {
		t.Fatalf("expected floor 6, got %s", got)
	}

	// 1000e18 * 1e18 / 900e18 = 1.111...e18, truncated.
	got, err = Whole(1000).MulDiv(Whole(1), Whole(900))
	if err != nil {
		t.Fatalf("muldiv: %v", err)
	}
	if got.String() != "1111111111111111111" {
		t.Fatalf("unexpected truncated quotient %s", got)
	}
}

func TestWadMulDivWideIntermediate(t *testing.T) {
	// The intermediate product exceeds 256 bits but the result does not.
	top := MaxWad()
	got, err := top.MulDiv(Whole(1), Whole(1))
	if err != nil {
		t.Fatalf("muldiv: %v", err)
	}
	if got.Cmp(MaxWad()) != 0 {
		t.Fatalf("expected identity, got %s", got)
	}
	if _, err := MaxWad().MulDiv(NewWad(2), NewWad(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := Whole(1).MulDiv(Whole(1), Wad{}); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
}

func TestWadParseAndText(t *testing.T) {
	w, err := ParseWad("2750000000000000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if w.Text() != "2.750000000000000000" {
		t.Fatalf("unexpected text %s", w.Text())
	}
	if NewWad(5).Text() != "0.000000000000000005" {
		t.Fatalf("unexpected text %s", NewWad(5).Text())
	}
	for _, bad := range []string{"", "-1", "1.5", "abc"} {
		if _, err := ParseWad(bad); !errors.Is(err, ErrInvalidWad) {
			t.Fatalf("expected invalid amount for %q, got %v", bad, err)
		}
	}
}

func TestWadJSON(t *testing.T) {
	payload, err := json.Marshal(struct {
		Amount Wad `json:"amount"`
	}{Amount: Whole(3)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"amount":"3000000000000000000"}` {
		t.Fatalf("unexpected json %s", payload)
	}
	var decoded struct {
		Amount Wad `json:"amount"`
	}
	if err := json.Unmarshal([]byte(`{"amount":42}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Amount.Cmp(NewWad(42)) != 0 {
		t.Fatalf("unexpected decoded amount %s", decoded.Amount)
	}
}
