package vm

import (
	"bytes"
	"testing"

	"github.com/modernsh/moshell/pkg/bytecode"
)

func buildSnapshotUnit() *bytecode.UnitBuilder {
	b := bytecode.NewUnitBuilder()
	b.Signature("test::<main>", nil, bytecode.TypeVoid)
	f := b.Function("test::<main>", 0, 0, 0)
	f.EmitInt(41)
	f.EmitInt(1)
	f.Emit(bytecode.OpIntAdd)
	f.EmitInvoke("test::probe_int")
	f.Emit(bytecode.OpReturn)
	return b
}

func TestSnapshotRoundTrip(t *testing.T) {
	heap := NewHeap()
	unit, err := LoadUnit(buildSnapshotUnit().Encode(), heap)
	if err != nil {
		t.Fatalf("LoadUnit: %v", err)
	}

	data, err := MarshalSnapshot(unit)
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}

	restored, err := UnmarshalSnapshot(data, NewHeap())
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}

	if restored.Pool.Len() != unit.Pool.Len() {
		t.Errorf("pool length = %d, want %d", restored.Pool.Len(), unit.Pool.Len())
	}
	sig, err := restored.Pool.GetSignature(1)
	if err != nil {
		t.Fatalf("GetSignature: %v", err)
	}
	if sig.Name != "test::<main>" || sig.ReturnType != bytecode.TypeVoid {
		t.Errorf("signature = %+v", sig)
	}

	def := restored.Functions["test::<main>"]
	if def == nil {
		t.Fatalf("main function missing from snapshot")
	}
	if !bytes.Equal(def.Instructions, unit.Functions["test::<main>"].Instructions) {
		t.Errorf("instructions changed across the snapshot round trip")
	}
}

// Canonical encoding: the same unit always snapshots to the same bytes.
func TestSnapshotDeterministic(t *testing.T) {
	heap := NewHeap()
	unit, err := LoadUnit(buildSnapshotUnit().Encode(), heap)
	if err != nil {
		t.Fatalf("LoadUnit: %v", err)
	}

	first, err := MarshalSnapshot(unit)
	if err != nil {
		t.Fatalf("first marshal: %v", err)
	}
	second, err := MarshalSnapshot(unit)
	if err != nil {
		t.Fatalf("second marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("snapshot encoding is not deterministic")
	}
}

func TestSnapshotRunsLikeWireUnit(t *testing.T) {
	heap := NewHeap()
	unit, err := LoadUnit(buildSnapshotUnit().Encode(), heap)
	if err != nil {
		t.Fatalf("LoadUnit: %v", err)
	}
	data, err := MarshalSnapshot(unit)
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}

	machine := NewVM()
	if err := machine.LoadSnapshot(data); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	var got int64
	machine.Natives().Register("test::probe_int", func(ops *OperandStack, env *NativeEnv) error {
		v, err := ops.PopInt()
		if err != nil {
			return err
		}
		got = v
		return nil
	})
	if _, err := machine.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != 42 {
		t.Errorf("snapshot program computed %d, want 42", got)
	}
}

func TestSnapshotRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalSnapshot([]byte{0xFF, 0x00, 0x12}, NewHeap()); err == nil {
		t.Errorf("garbage snapshot unmarshalled without error")
	}
}
