package relay

import "testing"

func TestReliableBufferInsertFind(t *testing.T) {
	buf := NewReliableBuffer[int](16)
	entry, ok := buf.Insert(5)
	if !ok {
		t.Fatal("insert should succeed")
	}
	*entry = 42

	got, found := buf.Find(5)
	if !found || *got != 42 {
		t.Fatalf("got %v %v, want 42 true", got, found)
	}

	if buf.Exists(6) {
		t.Fatal("sequence 6 should not exist")
	}
}

func TestReliableBufferTooOldRejected(t *testing.T) {
	buf := NewReliableBuffer[int](16)
	buf.Insert(100)
	if buf.TestInsert(80) {
		t.Fatal("sequence far behind head should be rejected")
	}
	if _, ok := buf.Insert(80); ok {
		t.Fatal("insert of too-old sequence should fail")
	}
}

func TestReliableBufferAdvanceClearsOldSlots(t *testing.T) {
	buf := NewReliableBuffer[int](8)
	buf.Insert(0)
	buf.Insert(1)
	buf.Insert(2)

	buf.Insert(10) // advances head past 0,1,2's slots (capacity 8)

	if buf.Exists(2) {
		t.Fatal("sequence 2's slot should have been cleared by head advance")
	}
}

func TestReliableBufferAvailableDetectsOccupiedSlot(t *testing.T) {
	buf := NewReliableBuffer[int](8)
	buf.Insert(3) // occupies slot 3 % 8 == 3

	if buf.Available(3) {
		t.Fatal("slot for sequence 3 is occupied, Available should be false")
	}
	if !buf.Available(4) {
		t.Fatal("slot for sequence 4 is empty, Available should be true")
	}

	// 11 % 8 == 3, same slot as the still-unacked sequence 3, even though
	// TestInsert(11) would report true since 11 is well within the window.
	if buf.Available(11) {
		t.Fatal("slot shared with an occupied older sequence should not be available")
	}
	if !buf.TestInsert(11) {
		t.Fatal("TestInsert should still accept 11 as within the staleness window")
	}
}

func TestSequenceGreaterThan(t *testing.T) {
	for a := uint16(0); a < 65535; a += 4999 {
		if !GreaterThan(a+1, a) {
			t.Fatalf("GreaterThan(%d+1, %d) should be true", a, a)
		}
	}
	if !GreaterThan(0, 65535) {
		t.Fatal("GreaterThan(0, 65535) should be true (wraparound)")
	}
}

func TestReliableBufferGenerateAckBits(t *testing.T) {
	buf := NewReliableBuffer[int](256)
	for i := 0; i < 10; i++ {
		buf.Insert(uint16(i))
	}
	ack, ackBits := buf.GenerateAckBits()
	if ack != 9 {
		t.Fatalf("ack = %d, want 9", ack)
	}
	for i := 0; i < 10; i++ {
		if ackBits&(1<<uint(i)) == 0 {
			t.Fatalf("bit %d should be set", i)
		}
	}
}
