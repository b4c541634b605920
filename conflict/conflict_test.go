// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package conflict

import "testing"

func TestDetectIdenticalChange(t *testing.T) {
	base := FileChange{Content: []byte("line1\nline2\n")}
	ours := FileChange{Content: []byte("line1\nchanged\n")}
	theirs := FileChange{Content: []byte("line1\nchanged\n")}

	result := Detect("f.txt", base, ours, theirs, false, true)
	if result.Conflict != nil {
		t.Fatalf("Detect() = conflict %+v, want auto-resolved tie-break", result.Conflict)
	}
	if string(result.Merged) != "line1\nchanged\n" {
		t.Errorf("Merged = %q", result.Merged)
	}
}

func TestDetectNonOverlappingMerge(t *testing.T) {
	base := FileChange{Content: []byte("alpha\nbeta\ngamma\n")}
	ours := FileChange{Content: []byte("ALPHA\nbeta\ngamma\n")}
	theirs := FileChange{Content: []byte("alpha\nbeta\nGAMMA\n")}

	result := Detect("f.txt", base, ours, theirs, false, true)
	if result.Conflict != nil {
		t.Fatalf("Detect() = conflict %+v, want auto-merge", result.Conflict)
	}
	if string(result.Merged) != "ALPHA\nbeta\nGAMMA\n" {
		t.Errorf("Merged = %q, want combined edits", result.Merged)
	}
}

func TestDetectOverlappingConflict(t *testing.T) {
	base := FileChange{Content: []byte("alpha\n")}
	ours := FileChange{Content: []byte("ALPHA_OURS\n")}
	theirs := FileChange{Content: []byte("ALPHA_THEIRS\n")}

	result := Detect("f.txt", base, ours, theirs, false, true)
	if result.Conflict == nil {
		t.Fatal("Detect() = no conflict, want content conflict")
	}
	if result.Conflict.Kind != KindContent {
		t.Errorf("Kind = %v, want %v", result.Conflict.Kind, KindContent)
	}
}

func TestDetectAutoMergeDisabled(t *testing.T) {
	base := FileChange{Content: []byte("alpha\nbeta\ngamma\n")}
	ours := FileChange{Content: []byte("ALPHA\nbeta\ngamma\n")}
	theirs := FileChange{Content: []byte("alpha\nbeta\nGAMMA\n")}

	result := Detect("f.txt", base, ours, theirs, false, false)
	if result.Conflict == nil || result.Conflict.Kind != KindContent {
		t.Fatalf("Detect() with autoMerge=false = %+v, want forced content conflict", result)
	}
}

func TestDetectEditDelete(t *testing.T) {
	base := FileChange{Content: []byte("alpha\n")}
	ours := FileChange{Deleted: true}
	theirs := FileChange{Content: []byte("alpha changed\n")}

	result := Detect("f.txt", base, ours, theirs, false, true)
	if result.Conflict == nil || result.Conflict.Kind != KindEditDelete {
		t.Fatalf("Detect() = %+v, want edit/delete conflict", result)
	}
	if result.Conflict.DeletedSide != SideSvn {
		t.Errorf("DeletedSide = %v, want %v", result.Conflict.DeletedSide, SideSvn)
	}
}

func TestDetectDeleteMatchesUnmodifiedOtherSide(t *testing.T) {
	base := FileChange{Content: []byte("alpha\n")}
	ours := FileChange{Deleted: true}
	theirs := FileChange{Content: []byte("alpha\n")}

	result := Detect("f.txt", base, ours, theirs, false, true)
	if result.Conflict != nil {
		t.Fatalf("Detect() = conflict %+v, want clean delete (other side unmodified)", result.Conflict)
	}
}

func TestDetectBothDeleted(t *testing.T) {
	base := FileChange{Content: []byte("alpha\n")}
	ours := FileChange{Deleted: true}
	theirs := FileChange{Deleted: true}

	result := Detect("f.txt", base, ours, theirs, false, true)
	if result.Conflict != nil {
		t.Fatalf("Detect() = conflict %+v, want clean delete", result.Conflict)
	}
}

func TestDetectBinaryConflict(t *testing.T) {
	base := FileChange{Content: []byte{0, 1, 2}, IsBinary: true}
	ours := FileChange{Content: []byte{0, 1, 3}, IsBinary: true}
	theirs := FileChange{Content: []byte{0, 1, 4}, IsBinary: true}

	result := Detect("f.bin", base, ours, theirs, false, true)
	if result.Conflict == nil || result.Conflict.Kind != KindBinary {
		t.Fatalf("Detect() = %+v, want binary conflict", result)
	}
}

func TestDetectLineEndingNormalization(t *testing.T) {
	base := FileChange{Content: []byte("alpha\r\nbeta\r\n")}
	ours := FileChange{Content: []byte("alpha\nbeta\n")}
	theirs := FileChange{Content: []byte("alpha\r\nbeta\r\n")}

	result := Detect("f.txt", base, ours, theirs, true, true)
	if result.Conflict != nil {
		t.Fatalf("Detect() with normalization = conflict %+v, want tie-break", result.Conflict)
	}
}

func TestDetectPropertyConflict(t *testing.T) {
	base := FileChange{Content: []byte("#!/bin/sh\necho hi\n"), Executable: false}
	ours := FileChange{Content: []byte("#!/bin/sh\necho hi\n"), Executable: true}
	theirs := FileChange{Content: []byte("#!/bin/sh\necho hi\n"), Executable: false}

	result := Detect("run.sh", base, ours, theirs, false, true)
	if result.Conflict == nil || result.Conflict.Kind != KindProperty {
		t.Fatalf("Detect() = %+v, want property conflict", result)
	}
}

func TestDetectIdenticalContentAndExecutableIsNotAConflict(t *testing.T) {
	base := FileChange{Content: []byte("#!/bin/sh\n"), Executable: true}
	ours := FileChange{Content: []byte("#!/bin/sh\n"), Executable: true}
	theirs := FileChange{Content: []byte("#!/bin/sh\n"), Executable: true}

	result := Detect("run.sh", base, ours, theirs, false, true)
	if result.Conflict != nil {
		t.Fatalf("Detect() = conflict %+v, want tie-break", result.Conflict)
	}
}

func TestDetectRenameConflict(t *testing.T) {
	base := FileChange{Content: []byte("alpha\n")}
	ours := FileChange{Content: []byte("alpha\n"), RenamedTo: "a.txt"}
	theirs := FileChange{Content: []byte("alpha\n"), RenamedTo: "b.txt"}

	result := Detect("f.txt", base, ours, theirs, false, true)
	if result.Conflict == nil || result.Conflict.Kind != KindRename {
		t.Fatalf("Detect() = %+v, want rename conflict", result)
	}
}

func TestRecordResolutionLifecycle(t *testing.T) {
	r := &Record{Conflict: Conflict{Path: "f.txt"}, State: StateDetected}

	if err := r.Enqueue(); err != nil {
		t.Fatalf("Enqueue() = %v", err)
	}
	if r.State != StateQueued {
		t.Fatalf("State = %v, want %v", r.State, StateQueued)
	}

	if err := r.Defer(); err != nil {
		t.Fatalf("Defer() = %v", err)
	}
	if r.State != StateDeferred {
		t.Fatalf("State = %v, want %v", r.State, StateDeferred)
	}

	if err := r.Resolve(StrategyAcceptGit, nil, nil); err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if r.State != StateResolved {
		t.Fatalf("State = %v, want %v", r.State, StateResolved)
	}

	if err := r.Resolve(StrategyAcceptSvn, nil, nil); err == nil {
		t.Fatal("Resolve() on already-resolved record = nil error, want ErrAlreadyResolved")
	}
}

func TestRecordResolveFromQueuedDirectly(t *testing.T) {
	r := &Record{Conflict: Conflict{Ours: []byte("ours")}, State: StateQueued}
	if err := r.Resolve(StrategyAcceptSvn, nil, nil); err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if string(r.Resolved) != "ours" {
		t.Errorf("Resolved = %q, want %q", r.Resolved, "ours")
	}
}

func TestRecordResolveBeforeEnqueueRejected(t *testing.T) {
	r := &Record{State: StateDetected}
	if err := r.Resolve(StrategyAcceptSvn, nil, nil); err == nil {
		t.Fatal("Resolve() from Detected = nil error, want ErrInvalidTransition")
	}
}

func TestIsTextLike(t *testing.T) {
	if !IsTextLike([]byte("hello world")) {
		t.Error("IsTextLike(text) = false")
	}
	if IsTextLike([]byte{'a', 0, 'b'}) {
		t.Error("IsTextLike(binary) = true")
	}
}
