package models

import (
	"testing"
	"time"
)

func TestMemoryRecordTags(t *testing.T) {
	r := &MemoryRecord{}

	r.AddTag("eb1a_awards")
	r.AddTag("EB1A_AWARDS") // case-insensitive duplicate
	r.AddTag("knowledge_base")
	r.AddTag("")

	if len(r.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", r.Tags)
	}
	if !r.HasTag("EB1A_awards") {
		t.Error("HasTag should be case-insensitive")
	}
	if r.HasTag("missing") {
		t.Error("HasTag reported a tag that was never added")
	}
}

func TestAuditEventHasTag(t *testing.T) {
	e := &AuditEvent{Tags: []string{"Milestone", "preference"}}

	if !e.HasTag("milestone") {
		t.Error("expected case-insensitive tag match")
	}
	if e.HasTag("other") {
		t.Error("unexpected tag match")
	}
}

func TestRMTBufferClone(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	orig := &RMTBuffer{
		ThreadID:  "t1",
		Slots:     map[string]string{SlotPersona: "helpful", SlotOpenLoops: "file taxes"},
		UpdatedAt: time.Now(),
		ExpiresAt: &exp,
	}

	cp := orig.Clone()
	cp.Slots[SlotPersona] = "mutated"
	*cp.ExpiresAt = exp.Add(time.Hour)

	if orig.Slots[SlotPersona] != "helpful" {
		t.Error("clone shares slot map with original")
	}
	if !orig.ExpiresAt.Equal(exp) {
		t.Error("clone shares expiry pointer with original")
	}

	var nilBuf *RMTBuffer
	if nilBuf.Clone() != nil {
		t.Error("nil buffer should clone to nil")
	}
}

func TestChunkID(t *testing.T) {
	if got := ChunkID("doc-1", 3); got != "doc-1_3" {
		t.Errorf("ChunkID = %q", got)
	}
}

func TestHealthOK(t *testing.T) {
	if (Health{Semantic: true, Episodic: true}).OK() {
		t.Error("health with a down store must not be OK")
	}
	if !(Health{Semantic: true, Episodic: true, Working: true}).OK() {
		t.Error("all-up health must be OK")
	}
}
