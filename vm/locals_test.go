package vm

import (
	"errors"
	"testing"
)

func TestLocalsTypedAccess(t *testing.T) {
	locals := Locals{bytes: make([]byte, 32)}

	if err := locals.SetByte(-3, 0); err != nil {
		t.Fatalf("SetByte: %v", err)
	}
	if err := locals.SetQWord(99, 8); err != nil {
		t.Fatalf("SetQWord: %v", err)
	}
	if err := locals.SetDouble(1.5, 16); err != nil {
		t.Fatalf("SetDouble: %v", err)
	}
	if err := locals.SetRef(0xDEAD, 24); err != nil {
		t.Fatalf("SetRef: %v", err)
	}

	if b, _ := locals.GetByte(0); b != -3 {
		t.Errorf("GetByte = %d, want -3", b)
	}
	if q, _ := locals.GetQWord(8); q != 99 {
		t.Errorf("GetQWord = %d, want 99", q)
	}
	if d, _ := locals.GetDouble(16); d != 1.5 {
		t.Errorf("GetDouble = %v, want 1.5", d)
	}
	if r, _ := locals.GetRef(24); r != 0xDEAD {
		t.Errorf("GetRef = %#x, want 0xDEAD", r)
	}
}

func TestLocalsOutOfBound(t *testing.T) {
	locals := Locals{bytes: make([]byte, 16)}

	cases := []struct {
		name string
		err  error
	}{
		{"byte past end", locals.SetByte(0, 16)},
		{"qword straddling end", locals.SetQWord(0, 9)},
		{"ref past end", locals.SetRef(0, 16)},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, ErrLocalsOutOfBound) {
			t.Errorf("%s: err = %v, want LocalsOutOfBound", tc.name, tc.err)
		}
	}

	// An access that exactly fits the declared size is fine.
	if err := locals.SetQWord(1, 8); err != nil {
		t.Errorf("qword at offset 8 of 16: %v", err)
	}
}
