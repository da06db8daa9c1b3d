package marks

import "testing"

func TestAppend_AssignsSequentialIDs(t *testing.T) {
	l := New()
	m0 := l.Append(WindowOpen, 0, 1000, nil)
	m1 := l.Append(TalkStart, 10, 1010, nil)
	if m0.ID != 0 || m1.ID != 1 {
		t.Errorf("IDs = %d, %d, want 0, 1", m0.ID, m1.ID)
	}
}

func TestAll_ReturnsSnapshotCopy(t *testing.T) {
	l := New()
	l.Append(WindowOpen, 0, 1000, nil)
	snap := l.All()
	snap[0].Type = "MUTATED"
	if l.All()[0].Type != WindowOpen {
		t.Error("mutating a snapshot slice mutated the ledger")
	}
}

func TestSegments_OpensAndClosesOnPairedMarks(t *testing.T) {
	l := New()
	l.Append(WindowOpen, 0, 1000, nil)
	l.Append(TalkStart, 5, 1005, nil)
	l.Append(WindowClose, 100, 1100, nil)

	segs := l.Segments()
	if len(segs) != 1 {
		t.Fatalf("len(segs) = %d, want 1", len(segs))
	}
	if !segs[0].Closed {
		t.Error("expected the segment to be closed")
	}
	if segs[0].StartMark.Type != WindowOpen {
		t.Errorf("StartMark.Type = %v, want %v", segs[0].StartMark.Type, WindowOpen)
	}
	if segs[0].EndMark.Type != WindowClose {
		t.Errorf("EndMark.Type = %v, want %v", segs[0].EndMark.Type, WindowClose)
	}
}

func TestSegments_LeavesTrailingSegmentOpen(t *testing.T) {
	l := New()
	l.Append(WindowOpen, 0, 1000, nil)

	segs := l.Segments()
	if len(segs) != 1 {
		t.Fatalf("len(segs) = %d, want 1", len(segs))
	}
	if segs[0].Closed {
		t.Error("expected the trailing segment to be unclosed")
	}
}

func TestSegments_MultipleClosingTypes(t *testing.T) {
	l := New()
	l.Append(TalkStart, 0, 1000, nil)
	l.Append(IntentFinalized, 50, 1050, nil)
	l.Append(WindowOpen, 60, 1060, nil)
	l.Append(Timeout, 200, 1200, nil)

	segs := l.Segments()
	if len(segs) != 2 {
		t.Fatalf("len(segs) = %d, want 2", len(segs))
	}
	if segs[0].EndMark.Type != IntentFinalized {
		t.Errorf("segs[0].EndMark.Type = %v, want %v", segs[0].EndMark.Type, IntentFinalized)
	}
	if segs[1].EndMark.Type != Timeout {
		t.Errorf("segs[1].EndMark.Type = %v, want %v", segs[1].EndMark.Type, Timeout)
	}
}

func TestSegments_IgnoresClosingMarkWithNoOpenSegment(t *testing.T) {
	l := New()
	l.Append(WindowClose, 0, 1000, nil)
	if segs := l.Segments(); len(segs) != 0 {
		t.Errorf("len(segs) = %d, want 0", len(segs))
	}
}
