package pages

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ChonangRai/tool-factory/internal/pdf"
)

func newTestCollection() *Collection {
	c := NewCollection()
	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return c
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func assertOrders(t *testing.T, items []Item) {
	t.Helper()
	for i, it := range items {
		if it.Order != i {
			t.Fatalf("item %s has order %d at position %d", it.ID, it.Order, i)
		}
	}
}

func seed(c *Collection, n int) {
	docs := make([]NewItem, n)
	for i := range docs {
		docs[i] = NewItem{Name: fmt.Sprintf("doc%d.pdf", i), Document: []byte{byte(i)}, Pages: 1}
	}
	c.Add(docs...)
}

func TestAddAssignsOrderAndRotation(t *testing.T) {
	c := newTestCollection()
	seed(c, 2)
	added := c.Add(NewItem{Name: "third.pdf", Document: []byte("x"), Pages: 3})

	if len(added) != 1 || added[0].Order != 2 || added[0].Rotation != 0 {
		t.Fatalf("unexpected added item: %+v", added)
	}
	items := c.Items()
	if diff := cmp.Diff([]string{"id-1", "id-2", "id-3"}, ids(items)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	assertOrders(t, items)
	if items[2].Size != 1 || items[2].Pages != 3 {
		t.Fatalf("unexpected metadata: %+v", items[2])
	}
}

func TestRotateFourTimesRoundTrips(t *testing.T) {
	c := newTestCollection()
	seed(c, 1)
	want := []int{90, 180, 270, 0}
	for i, w := range want {
		it, err := c.Rotate("id-1")
		if err != nil {
			t.Fatalf("Rotate returned error: %v", err)
		}
		if it.Rotation != w {
			t.Fatalf("rotation after %d rotations = %d, want %d", i+1, it.Rotation, w)
		}
	}
}

func TestRotateUnknownIDReturnsNotFound(t *testing.T) {
	c := newTestCollection()
	seed(c, 1)
	_, err := c.Rotate("missing")
	if !errors.Is(err, pdf.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if it, _ := c.Get("id-1"); it.Rotation != 0 {
		t.Fatalf("existing item changed: %+v", it)
	}
}

func TestReorder(t *testing.T) {
	c := newTestCollection()
	seed(c, 3)

	if err := c.Reorder([]string{"id-3", "id-1", "id-2"}); err != nil {
		t.Fatalf("Reorder returned error: %v", err)
	}
	items := c.Items()
	if diff := cmp.Diff([]string{"id-3", "id-1", "id-2"}, ids(items)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	assertOrders(t, items)
}

func TestReorderRejectsNonPermutation(t *testing.T) {
	tests := map[string][]string{
		"duplicate": {"id-1", "id-1", "id-2"},
		"missing":   {"id-1", "id-2"},
		"unknown":   {"id-1", "id-2", "id-9"},
		"extra":     {"id-1", "id-2", "id-3", "id-4"},
	}
	for name, order := range tests {
		t.Run(name, func(t *testing.T) {
			c := newTestCollection()
			seed(c, 3)
			err := c.Reorder(order)
			if !errors.Is(err, pdf.ErrInvalidOperation) {
				t.Fatalf("expected invalid operation, got %v", err)
			}
			if diff := cmp.Diff([]string{"id-1", "id-2", "id-3"}, ids(c.Items())); diff != "" {
				t.Fatalf("list changed on failure (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReorderPermutationInvariant(t *testing.T) {
	c := newTestCollection()
	seed(c, 8)
	want := ids(c.Items())
	sort.Strings(want)

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		current := ids(c.Items())
		rng.Shuffle(len(current), func(i, j int) { current[i], current[j] = current[j], current[i] })
		if err := c.Reorder(current); err != nil {
			t.Fatalf("round %d: Reorder returned error: %v", round, err)
		}
		items := c.Items()
		assertOrders(t, items)
		got := ids(items)
		sort.Strings(got)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round %d: id set changed (-want +got):\n%s", round, diff)
		}
	}
}

func TestRemoveCompactsOrder(t *testing.T) {
	c := newTestCollection()
	seed(c, 4)
	if err := c.Remove("id-2"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	items := c.Items()
	if diff := cmp.Diff([]string{"id-1", "id-3", "id-4"}, ids(items)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	assertOrders(t, items)

	if err := c.Remove("id-2"); !errors.Is(err, pdf.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMove(t *testing.T) {
	tests := []struct {
		id    string
		index int
		want  []string
	}{
		{"id-1", 2, []string{"id-2", "id-3", "id-1", "id-4"}},
		{"id-4", 0, []string{"id-4", "id-1", "id-2", "id-3"}},
		{"id-2", 99, []string{"id-1", "id-3", "id-4", "id-2"}},
		{"id-3", -5, []string{"id-3", "id-1", "id-2", "id-4"}},
	}
	for _, tt := range tests {
		c := newTestCollection()
		seed(c, 4)
		if err := c.Move(tt.id, tt.index); err != nil {
			t.Fatalf("Move(%s, %d) returned error: %v", tt.id, tt.index, err)
		}
		items := c.Items()
		if diff := cmp.Diff(tt.want, ids(items)); diff != "" {
			t.Fatalf("Move(%s, %d) mismatch (-want +got):\n%s", tt.id, tt.index, diff)
		}
		assertOrders(t, items)
	}
}

func TestReplaceKeepsRotationAfterBake(t *testing.T) {
	tests := []struct {
		name    string
		rotates int
		baked   int
		want    int
	}{
		{name: "fully baked", rotates: 1, baked: 90, want: 0},
		{name: "rotated after bake", rotates: 2, baked: 90, want: 90},
		{name: "rotated past full turn", rotates: 1, baked: 270, want: 180},
		{name: "nothing baked", rotates: 3, baked: 0, want: 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollection()
			seed(c, 2)
			for range tt.rotates {
				if _, err := c.Rotate("id-2"); err != nil {
					t.Fatalf("Rotate returned error: %v", err)
				}
			}
			it, err := c.Replace("id-2", []byte("baked"), 1, tt.baked)
			if err != nil {
				t.Fatalf("Replace returned error: %v", err)
			}
			if it.Rotation != tt.want || string(it.Document) != "baked" || it.Order != 1 || it.Size != 5 {
				t.Fatalf("unexpected replaced item: %+v", it)
			}
		})
	}

	c := newTestCollection()
	if _, err := c.Replace("missing", nil, 0, 0); !errors.Is(err, pdf.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExpandInsertsPartsInPlace(t *testing.T) {
	c := newTestCollection()
	seed(c, 3)
	created, err := c.Expand("id-2", []NewItem{
		{Name: "doc1-page-1.pdf", Document: []byte("p1"), Pages: 1},
		{Name: "doc1-page-2.pdf", Document: []byte("p2"), Pages: 1},
	})
	if err != nil {
		t.Fatalf("Expand returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"id-4", "id-5"}, ids(created)); diff != "" {
		t.Fatalf("created ids mismatch (-want +got):\n%s", diff)
	}
	items := c.Items()
	if diff := cmp.Diff([]string{"id-1", "id-4", "id-5", "id-3"}, ids(items)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	assertOrders(t, items)
	if created[1].Order != 2 || created[1].Rotation != 0 {
		t.Fatalf("unexpected part: %+v", created[1])
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	c := newTestCollection()
	seed(c, 2)
	snapshot := c.Items()
	snapshot[0].Rotation = 270
	if err := c.Remove("id-1"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if snapshot[0].ID != "id-1" || snapshot[1].ID != "id-2" {
		t.Fatalf("snapshot changed after mutation: %+v", snapshot)
	}
	if it, _ := c.Get("id-2"); it.Rotation != 0 {
		t.Fatalf("collection affected by snapshot write: %+v", it)
	}
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	c := NewCollection()
	seed(c, 1)
	id := c.Items()[0].ID

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.Rotate(id)
		}()
		go func() {
			defer wg.Done()
			c.Add(NewItem{Name: "x.pdf"})
		}()
	}
	wg.Wait()

	it, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if it.Rotation != 0 {
		t.Fatalf("rotation after 40 rotations = %d, want 0", it.Rotation)
	}
	items := c.Items()
	if len(items) != 41 {
		t.Fatalf("len(items) = %d, want 41", len(items))
	}
	assertOrders(t, items)
}

func TestReset(t *testing.T) {
	c := newTestCollection()
	seed(c, 3)
	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("Len = %d after reset", c.Len())
	}
}
