package hierarchy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/pkg/models"
)

type fakeSemantic struct {
	hits      []models.SearchResult
	searchErr error
	inserted  []*models.MemoryRecord
	insertErr error
	byThread  []*models.MemoryRecord
	gotQuery  string
	gotTopK   int
}

func (f *fakeSemantic) Search(_ context.Context, query, _ string, topK int, _ *models.SearchFilters) ([]models.SearchResult, error) {
	f.gotQuery = query
	f.gotTopK = topK
	return f.hits, f.searchErr
}

func (f *fakeSemantic) Insert(_ context.Context, records []*models.MemoryRecord) (int, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, records...)
	return len(records), nil
}

func (f *fakeSemantic) ListByThread(context.Context, string) ([]*models.MemoryRecord, error) {
	return f.byThread, nil
}

type fakeEpisodic struct {
	events   []*models.AuditEvent
	err      error
	gotQuery models.EpisodicQuery
}

func (f *fakeEpisodic) Query(_ context.Context, q models.EpisodicQuery) ([]*models.AuditEvent, error) {
	f.gotQuery = q
	return f.events, f.err
}

func (f *fakeEpisodic) GetThreadEvents(context.Context, string, int) ([]*models.AuditEvent, error) {
	return f.events, f.err
}

type fakeWorking struct {
	buffer *models.RMTBuffer
	err    error
}

func (f *fakeWorking) SetBuffer(_ context.Context, threadID string, slots map[string]string, _ time.Duration) error {
	f.buffer = &models.RMTBuffer{ThreadID: threadID, Slots: slots}
	return nil
}

func (f *fakeWorking) GetBuffer(context.Context, string) (*models.RMTBuffer, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return f.buffer, f.buffer != nil, nil
}

func (f *fakeWorking) DeleteBuffer(context.Context, string) error { f.buffer = nil; return nil }

func (f *fakeWorking) ListAll(context.Context) ([]*models.RMTBuffer, error) {
	if f.buffer == nil {
		return nil, nil
	}
	return []*models.RMTBuffer{f.buffer}, nil
}
func (f *fakeWorking) Sweep(context.Context) (int64, error) { return 0, nil }
func (f *fakeWorking) HealthCheck(context.Context) error    { return f.err }

func event(id, action string, ts time.Time, tags ...string) *models.AuditEvent {
	return &models.AuditEvent{
		EventID:   id,
		Timestamp: ts,
		UserID:    "u1",
		ThreadID:  "t1",
		Source:    "workflow_node",
		Action:    action,
		Tags:      tags,
	}
}

func newHierarchy(sem *fakeSemantic, epi *fakeEpisodic, work *fakeWorking, opts ...Option) *Hierarchy {
	return New(sem, epi, work, observability.Nop(), opts...)
}

func TestLoadContextComposesAllLayers(t *testing.T) {
	ts := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	rec := &models.MemoryRecord{ID: "m1", Text: "a fact"}
	sem := &fakeSemantic{hits: []models.SearchResult{{Record: rec, Score: 0.8}}}
	epi := &fakeEpisodic{events: []*models.AuditEvent{
		event("e1", "message", ts.Add(-time.Hour)),
		event("e2", "node_complete", ts.Add(-time.Minute)),
	}}
	work := &fakeWorking{buffer: &models.RMTBuffer{
		ThreadID: "t1",
		Slots:    map[string]string{models.SlotPersona: "helpful assistant"},
	}}
	h := newHierarchy(sem, epi, work, WithClock(func() time.Time { return ts }))

	bundle, err := h.LoadContext(context.Background(), LoadContextRequest{
		ThreadID: "t1", Query: "facts", UserID: "u1",
	})
	if err != nil {
		t.Fatalf("LoadContext() error = %v", err)
	}

	if len(bundle.Retrieved) != 1 || bundle.Retrieved[0].Record.ID != "m1" {
		t.Errorf("retrieved = %v", bundle.Retrieved)
	}
	if sem.gotTopK != DefaultTopK {
		t.Errorf("topK = %d, want default %d", sem.gotTopK, DefaultTopK)
	}
	if len(bundle.EpisodicEvents) != 2 {
		t.Errorf("events = %d", len(bundle.EpisodicEvents))
	}
	if bundle.RMTSlots[models.SlotPersona] != "helpful assistant" {
		t.Errorf("slots = %v", bundle.RMTSlots)
	}

	// The newest event is reflected and upserted.
	if len(bundle.Reflected) != 1 {
		t.Fatalf("reflected = %v", bundle.Reflected)
	}
	if bundle.Reflected[0].ID != "reflect_e2" {
		t.Errorf("reflected id = %s, want the latest event", bundle.Reflected[0].ID)
	}
	if len(sem.inserted) != 1 {
		t.Errorf("inserted %d reflected records", len(sem.inserted))
	}

	// The episodic window covers [now - 6h, now] by default.
	if !epi.gotQuery.Since.Equal(ts.Add(-DefaultSince)) || !epi.gotQuery.Until.Equal(ts) {
		t.Errorf("window = [%v, %v]", epi.gotQuery.Since, epi.gotQuery.Until)
	}
}

func TestLoadContextNoQuerySkipsRetrieval(t *testing.T) {
	sem := &fakeSemantic{searchErr: errors.New("must not be called")}
	h := newHierarchy(sem, &fakeEpisodic{}, &fakeWorking{})

	bundle, err := h.LoadContext(context.Background(), LoadContextRequest{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("LoadContext() error = %v", err)
	}
	if bundle.Retrieved != nil {
		t.Errorf("retrieved = %v", bundle.Retrieved)
	}
	if bundle.RMTSlots == nil {
		t.Error("slots should be an empty map, not nil")
	}
}

func TestLoadContextRequiresThread(t *testing.T) {
	h := newHierarchy(&fakeSemantic{}, &fakeEpisodic{}, &fakeWorking{})
	_, err := h.LoadContext(context.Background(), LoadContextRequest{})
	if memerr.KindOf(err) != memerr.KindValidation {
		t.Errorf("err = %v", err)
	}
}

func TestLoadContextStoreFailure(t *testing.T) {
	epi := &fakeEpisodic{err: errors.New("episodic down")}
	h := newHierarchy(&fakeSemantic{}, epi, &fakeWorking{})
	if _, err := h.LoadContext(context.Background(), LoadContextRequest{ThreadID: "t1"}); err == nil {
		t.Error("expected error")
	}
}

func TestLoadContextReflectionUpsertFailureDegrades(t *testing.T) {
	ts := time.Now().UTC()
	sem := &fakeSemantic{insertErr: errors.New("semantic down")}
	epi := &fakeEpisodic{events: []*models.AuditEvent{event("e1", "message", ts)}}
	h := newHierarchy(sem, epi, &fakeWorking{})

	bundle, err := h.LoadContext(context.Background(), LoadContextRequest{ThreadID: "t1"})
	if err != nil {
		t.Fatalf("LoadContext() error = %v", err)
	}
	if len(bundle.Reflected) != 1 {
		t.Errorf("reflected view lost on upsert failure: %v", bundle.Reflected)
	}
}

func TestSnapshotThread(t *testing.T) {
	ts := time.Now().UTC()
	sem := &fakeSemantic{byThread: []*models.MemoryRecord{{ID: "m1", ThreadID: "t1"}}}
	epi := &fakeEpisodic{events: []*models.AuditEvent{event("e1", "message", ts)}}
	work := &fakeWorking{buffer: &models.RMTBuffer{ThreadID: "t1", Slots: map[string]string{"k": "v"}}}
	h := newHierarchy(sem, epi, work)

	snap, err := h.SnapshotThread(context.Background(), "t1")
	if err != nil {
		t.Fatalf("SnapshotThread() error = %v", err)
	}
	if len(snap.Events) != 1 || snap.Buffer == nil || len(snap.Records) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHeuristicReflectionSummary(t *testing.T) {
	ev := event("e1", "handle_command", time.Now().UTC())
	ev.Payload = map[string]any{"summary": "user asked about filing deadlines"}

	records := HeuristicReflector{}.Reflect(ev)
	if len(records) != 1 {
		t.Fatalf("records = %v", records)
	}
	rec := records[0]
	want := "[workflow_node] handle_command u=u1 user asked about filing deadlines"
	if rec.Text != want {
		t.Errorf("summary = %q, want %q", rec.Text, want)
	}
	if rec.Type != models.MemorySemantic {
		t.Errorf("type = %s", rec.Type)
	}
	if rec.Salience != models.DefaultSalience || rec.Confidence != models.DefaultConfidence {
		t.Errorf("salience/confidence = %v/%v", rec.Salience, rec.Confidence)
	}
	if !rec.HasTag("milestone") {
		t.Errorf("handle_command should tag milestone: %v", rec.Tags)
	}
}

func TestHeuristicReflectionTags(t *testing.T) {
	cases := []struct {
		name   string
		action string
		tags   []string
		want   []string
	}{
		{"milestone action", "node_complete", nil, []string{"milestone"}},
		{"milestone tag", "message", []string{"milestone"}, []string{"milestone"}},
		{"preference tag", "message", []string{"preference"}, []string{"preference"}},
		{"plain", "message", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records := HeuristicReflector{}.Reflect(event("e1", tc.action, time.Now().UTC(), tc.tags...))
			got := records[0].Tags
			if len(got) != len(tc.want) {
				t.Fatalf("tags = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("tags = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestHeuristicReflectionTruncates(t *testing.T) {
	ev := event("e1", "message", time.Now().UTC())
	ev.Payload = map[string]any{"text": strings.Repeat("x", 500)}

	rec := HeuristicReflector{}.Reflect(ev)[0]
	if got := len([]rune(rec.Text)); got != maxSummaryLen {
		t.Errorf("summary length = %d, want %d", got, maxSummaryLen)
	}
}

func TestHeuristicReflectionSkipsMalformedEvent(t *testing.T) {
	if got := (HeuristicReflector{}).Reflect(&models.AuditEvent{EventID: "e1"}); got != nil {
		t.Errorf("records = %v", got)
	}
	if got := (HeuristicReflector{}).Reflect(nil); got != nil {
		t.Errorf("records = %v", got)
	}
}
