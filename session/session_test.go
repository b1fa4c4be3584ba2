package session

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gptworkdesk/workdesk/parser"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func doc(id, name string) DocumentContext {
	return DocumentContext{
		ID:        id,
		FileName:  name,
		Content:   "content of " + name,
		Summary:   "summary of " + name,
		KeyPoints: []string{"point " + id},
	}
}

func ids(docs []DocumentContext) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get unknown returns empty", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Get(ctx, "nobody")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("Get = %#v, want empty non-nil slice", got)
		}
	})

	t.Run("save replaces list", func(t *testing.T) {
		s := newStore(t)
		s.Save(ctx, "s1", []DocumentContext{doc("a", "a.txt"), doc("b", "b.txt")})
		s.Save(ctx, "s1", []DocumentContext{doc("c", "c.txt")})
		got, _ := s.Get(ctx, "s1")
		if !reflect.DeepEqual(ids(got), []string{"c"}) {
			t.Errorf("ids = %v, want [c]", ids(got))
		}
	})

	t.Run("save dedupes by id", func(t *testing.T) {
		s := newStore(t)
		first := doc("a", "old.txt")
		second := doc("b", "b.txt")
		third := doc("a", "new.txt")
		s.Save(ctx, "s1", []DocumentContext{first, second, third})
		got, _ := s.Get(ctx, "s1")
		if !reflect.DeepEqual(ids(got), []string{"a", "b"}) {
			t.Fatalf("ids = %v, want [a b]", ids(got))
		}
		if got[0].FileName != "new.txt" {
			t.Errorf("last occurrence should win, got %q", got[0].FileName)
		}
	})

	t.Run("append replaces same id", func(t *testing.T) {
		s := newStore(t)
		s.Append(ctx, "s1", doc("a", "a.txt"))
		s.Append(ctx, "s1", doc("b", "b.txt"))
		s.Append(ctx, "s1", doc("a", "a2.txt"))
		got, _ := s.Get(ctx, "s1")
		if !reflect.DeepEqual(ids(got), []string{"a", "b"}) || got[0].FileName != "a2.txt" {
			t.Errorf("after appends = %+v", got)
		}
	})

	t.Run("append empty session id", func(t *testing.T) {
		s := newStore(t)
		if err := s.Append(ctx, "", doc("a", "a.txt")); !errors.Is(err, ErrEmptySessionID) {
			t.Errorf("err = %v, want ErrEmptySessionID", err)
		}
	})

	t.Run("concurrent appends keep every document", func(t *testing.T) {
		s := newStore(t)
		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := "d" + strconv.Itoa(i)
				if err := s.Append(ctx, "s1", doc(id, id+".txt")); err != nil {
					t.Errorf("Append %s: %v", id, err)
				}
			}(i)
		}
		wg.Wait()
		got, _ := s.Get(ctx, "s1")
		if len(got) != n {
			t.Errorf("kept %d documents, want %d: %v", len(got), n, ids(got))
		}
	})

	t.Run("remove first of two", func(t *testing.T) {
		s := newStore(t)
		s.Save(ctx, "s1", []DocumentContext{doc("a", "a.txt"), doc("b", "b.txt")})
		if err := s.Remove(ctx, "s1", "a"); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Get(ctx, "s1")
		if len(got) != 1 || got[0].ID != "b" {
			t.Errorf("after remove = %v, want [b]", ids(got))
		}
	})

	t.Run("remove unknown is no-op", func(t *testing.T) {
		s := newStore(t)
		if err := s.Remove(ctx, "ghost", "a"); err != nil {
			t.Errorf("Remove unknown session: %v", err)
		}
		s.Save(ctx, "s1", []DocumentContext{doc("a", "a.txt")})
		if err := s.Remove(ctx, "s1", "zzz"); err != nil {
			t.Errorf("Remove unknown document: %v", err)
		}
		got, _ := s.Get(ctx, "s1")
		if len(got) != 1 {
			t.Errorf("expected document kept, got %v", ids(got))
		}
		all, _ := s.ListAll(ctx)
		if len(all) != 1 {
			t.Errorf("Remove must not create sessions, got %d", len(all))
		}
	})

	t.Run("clear", func(t *testing.T) {
		s := newStore(t)
		s.Save(ctx, "s1", []DocumentContext{doc("a", "a.txt")})
		if err := s.Clear(ctx, "s1"); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Get(ctx, "s1")
		if len(got) != 0 {
			t.Errorf("after clear = %v", ids(got))
		}
		all, _ := s.ListAll(ctx)
		if len(all) != 1 || all[0].SessionID != "s1" {
			t.Errorf("cleared session should remain tracked, got %+v", all)
		}
		if err := s.Clear(ctx, "ghost"); err != nil {
			t.Errorf("Clear unknown: %v", err)
		}
		all, _ = s.ListAll(ctx)
		if len(all) != 1 {
			t.Errorf("Clear must not create sessions, got %d", len(all))
		}
	})

	t.Run("list all sorted", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"s3", "s1", "s2"} {
			s.Save(ctx, id, []DocumentContext{doc("a", "a.txt")})
		}
		all, err := s.ListAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, sc := range all {
			got = append(got, sc.SessionID)
		}
		if !reflect.DeepEqual(got, []string{"s1", "s2", "s3"}) {
			t.Errorf("ListAll order = %v", got)
		}
	})

	t.Run("empty session id rejected", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, "", nil); !errors.Is(err, ErrEmptySessionID) {
			t.Errorf("Save(\"\") err = %v", err)
		}
	})
}

// ---------------------------------------------------------------------------
// Memory store
// ---------------------------------------------------------------------------

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		return NewMemoryStore(MemoryConfig{})
	})
}

func TestMemoryStoreTimestamps(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStore(MemoryConfig{Now: clock.Now})

	s.Save(ctx, "s1", []DocumentContext{doc("a", "a.txt")})
	created := clock.Now()
	clock.Advance(time.Minute)
	s.Save(ctx, "s1", []DocumentContext{doc("b", "b.txt")})

	all, _ := s.ListAll(ctx)
	if !all[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", all[0].CreatedAt, created)
	}
	if !all[0].UpdatedAt.Equal(clock.Now()) {
		t.Errorf("UpdatedAt = %v, want %v", all[0].UpdatedAt, clock.Now())
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStore(MemoryConfig{TTL: 10 * time.Minute, Now: clock.Now})

	s.Save(ctx, "s1", []DocumentContext{doc("a", "a.txt")})
	clock.Advance(9 * time.Minute)
	if got, _ := s.Get(ctx, "s1"); len(got) != 1 {
		t.Fatal("session expired too early")
	}

	// A write refreshes the idle timer.
	s.Save(ctx, "s1", []DocumentContext{doc("a", "a.txt")})
	clock.Advance(9 * time.Minute)
	if got, _ := s.Get(ctx, "s1"); len(got) != 1 {
		t.Fatal("write did not refresh TTL")
	}

	clock.Advance(time.Minute)
	if got, _ := s.Get(ctx, "s1"); len(got) != 0 {
		t.Errorf("expected expired session to read empty, got %v", ids(got))
	}
	if s.Len() != 0 {
		t.Errorf("expired session still tracked")
	}
}

func TestMemoryStorePurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStore(MemoryConfig{TTL: time.Minute, Now: clock.Now})

	s.Save(ctx, "old", nil)
	clock.Advance(30 * time.Second)
	s.Save(ctx, "fresh", nil)
	clock.Advance(45 * time.Second)

	if n := s.PurgeExpired(); n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	all, _ := s.ListAll(ctx)
	if len(all) != 1 || all[0].SessionID != "fresh" {
		t.Errorf("remaining = %+v", all)
	}
}

func TestMemoryStoreCapacityEvictsLeastRecentlyUpdated(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStore(MemoryConfig{MaxSessions: 2, Now: clock.Now})

	s.Save(ctx, "s1", nil)
	clock.Advance(time.Second)
	s.Save(ctx, "s2", nil)
	clock.Advance(time.Second)
	s.Save(ctx, "s1", []DocumentContext{doc("a", "a.txt")}) // s2 is now oldest
	clock.Advance(time.Second)
	s.Save(ctx, "s3", nil)

	all, _ := s.ListAll(ctx)
	var got []string
	for _, sc := range all {
		got = append(got, sc.SessionID)
	}
	if !reflect.DeepEqual(got, []string{"s1", "s3"}) {
		t.Errorf("sessions = %v, want [s1 s3]", got)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryConfig{})
	in := []DocumentContext{doc("a", "a.txt")}
	s.Save(ctx, "s1", in)
	in[0].FileName = "mutated"

	got, _ := s.Get(ctx, "s1")
	got[0].KeyPoints[0] = "mutated"

	again, _ := s.Get(ctx, "s1")
	if again[0].FileName != "a.txt" || again[0].KeyPoints[0] != "point a" {
		t.Errorf("store shares memory with callers: %+v", again[0])
	}
}

func TestMemoryStoreConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := "s" + string(rune('a'+i%5))
			s.Append(ctx, sid, doc("d"+strconv.Itoa(i), "d.txt"))
		}(i)
	}
	wg.Wait()

	all, _ := s.ListAll(ctx)
	if len(all) != 5 {
		t.Fatalf("sessions = %d, want 5", len(all))
	}
	for _, sc := range all {
		if len(sc.DocumentContexts) != 10 {
			t.Errorf("%s has %d docs, want 10", sc.SessionID, len(sc.DocumentContexts))
		}
	}
}

func TestMemoryStoreAppendRespectsCapacity(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(MemoryConfig{MaxSessions: 2, Now: clock.Now})
	ctx := context.Background()

	s.Append(ctx, "s1", doc("a", "a.txt"))
	clock.Advance(time.Second)
	s.Append(ctx, "s2", doc("b", "b.txt"))
	clock.Advance(time.Second)
	s.Append(ctx, "s3", doc("c", "c.txt"))

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if got, _ := s.Get(ctx, "s1"); len(got) != 0 {
		t.Errorf("oldest session kept: %v", ids(got))
	}
}

func TestMemoryStoreRunStopsOnCancel(t *testing.T) {
	s := NewMemoryStore(MemoryConfig{TTL: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ---------------------------------------------------------------------------
// Injector
// ---------------------------------------------------------------------------

func TestInjectContextNoDocuments(t *testing.T) {
	inj := NewInjector(NewMemoryStore(MemoryConfig{}))
	msg := "What does the report say?"
	got, err := inj.InjectContext(context.Background(), msg, "unknown")
	if err != nil {
		t.Fatal(err)
	}
	if got != msg {
		t.Errorf("InjectContext = %q, want unchanged", got)
	}
	summary, _ := inj.BuildSummary(context.Background(), "unknown")
	if summary != "" {
		t.Errorf("BuildSummary = %q, want empty", summary)
	}
}

func TestInjectContextOneDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(MemoryConfig{})
	s.Save(ctx, "s1", []DocumentContext{{
		ID:        "d1",
		FileName:  "report.pdf",
		Content:   "Revenue grew.",
		Summary:   "Quarterly results.",
		KeyPoints: []string{"Revenue", "Costs"},
	}})
	inj := NewInjector(s)

	got, err := inj.InjectContext(ctx, "Summarize please", "s1")
	if err != nil {
		t.Fatal(err)
	}
	want := "Summarize please\n\n" +
		"[DOCUMENT CONTEXT - Use this information to enhance your response:]\n\n" +
		"Document 1: report.pdf\n" +
		"Content Summary: Quarterly results.\n" +
		"Key Information: Revenue, Costs\n" +
		"Content Preview: Revenue grew.\n\n" +
		"[END DOCUMENT CONTEXT]\n\n" +
		"Please use the document context above to inform your response when relevant."
	if got != want {
		t.Errorf("InjectContext =\n%s\nwant\n%s", got, want)
	}
}

func TestFormatSummaryTwoDocuments(t *testing.T) {
	got := FormatSummary([]DocumentContext{doc("a", "a.txt"), doc("b", "b.txt")})
	if !strings.Contains(got, "Content Preview: content of a.txt\n\nDocument 2: b.txt\n") {
		t.Errorf("documents not separated by a blank line:\n%s", got)
	}
	if !strings.HasSuffix(got, "\n\n[END DOCUMENT CONTEXT]") {
		t.Errorf("missing footer:\n%s", got)
	}
}

func TestPreview(t *testing.T) {
	exact := strings.Repeat("x", PreviewLength)
	long := strings.Repeat("y", PreviewLength+1)
	unicode := strings.Repeat("é", PreviewLength+10)

	if got := preview(exact, PreviewLength); got != exact {
		t.Error("content of exactly the limit should not get an ellipsis")
	}
	if got := preview(long, PreviewLength); got != strings.Repeat("y", PreviewLength)+"..." {
		t.Errorf("long preview has %d bytes", len(got))
	}
	got := preview(unicode, PreviewLength)
	if got != strings.Repeat("é", PreviewLength)+"..." {
		t.Error("preview must cut on character boundaries")
	}
}

// ---------------------------------------------------------------------------
// Document context builder
// ---------------------------------------------------------------------------

func TestNewDocumentContextFromSections(t *testing.T) {
	pd := &parser.ProcessedDocument{
		Content: "Intro sentence one. Intro sentence two.\nMore text here.",
		Sections: []parser.Section{
			{Title: "Overview"}, {Title: "Results"}, {Title: " "},
		},
	}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	dc := NewDocumentContext("doc-1", "intro.txt", pd, at)

	if dc.ID != "doc-1" || dc.FileName != "intro.txt" || dc.Content != pd.Content {
		t.Errorf("unexpected fields %+v", dc)
	}
	if dc.Summary != "Intro sentence one. Intro sentence two. More text here." {
		t.Errorf("Summary = %q", dc.Summary)
	}
	if !reflect.DeepEqual(dc.KeyPoints, []string{"Overview", "Results"}) {
		t.Errorf("KeyPoints = %v", dc.KeyPoints)
	}
	if dc.UploadedAt.Location() != time.UTC {
		t.Error("UploadedAt should be UTC")
	}
}

func TestNewDocumentContextSentenceKeyPoints(t *testing.T) {
	long := strings.Repeat("word ", 70) + "end."
	pd := &parser.ProcessedDocument{Content: long + " Second point. Third point."}
	dc := NewDocumentContext("", "x.txt", pd, time.Now())

	if dc.ID == "" {
		t.Error("expected generated id")
	}
	if n := len([]rune(dc.Summary)); n != summaryLength || !strings.HasSuffix(dc.Summary, "...") {
		t.Errorf("summary has %d chars: %q", n, dc.Summary)
	}
	if !reflect.DeepEqual(dc.KeyPoints, []string{"Second point.", "Third point."}) {
		t.Errorf("KeyPoints = %v", dc.KeyPoints)
	}
}

func TestNewDocumentContextNilDocument(t *testing.T) {
	dc := NewDocumentContext("id", "empty.txt", nil, time.Now())
	if dc.Summary != "" || dc.KeyPoints == nil || len(dc.KeyPoints) != 0 {
		t.Errorf("unexpected %+v", dc)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Version 1.5 shipped. Did it work? Yes!\nNext line")
	want := []string{"Version 1.5 shipped.", "Did it work?", "Yes!", "Next line"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitSentences = %q, want %q", got, want)
	}
}
