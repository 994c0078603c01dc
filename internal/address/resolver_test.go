package address

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/matheus3301/smsd/internal/store"
	"go.uber.org/zap"
)

func testResolver(t *testing.T) (*Resolver, *store.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewResolver(db, zap.NewNop()), db
}

func TestResolveCreatesConversation(t *testing.T) {
	r, _ := testResolver(t)

	conv, created, err := r.Resolve([]string{"5551234567"}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("created = false, want true for first contact")
	}
	if conv.IDMatcher != "51234567" {
		t.Errorf("matcher = %q, want 51234567", conv.IDMatcher)
	}
	if conv.Group() {
		t.Error("single-address conversation reported as group")
	}
}

func TestResolveFindsExistingAcrossFormats(t *testing.T) {
	r, _ := testResolver(t)

	first, _, err := r.Resolve([]string{"5551234567"}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	// Same number, different carrier formatting.
	second, created, err := r.Resolve([]string{"+1 (555) 123-4567"}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("created = true, want reuse of existing conversation")
	}
	if second.ID != first.ID {
		t.Errorf("resolved to conversation %d, want %d", second.ID, first.ID)
	}
}

func TestResolveMalformedAddressFallsBack(t *testing.T) {
	r, _ := testResolver(t)

	conv, created, err := r.Resolve([]string{"MY-BANK"}, nil, "")
	if err != nil {
		t.Fatalf("malformed sender must not fail ingestion: %v", err)
	}
	if !created {
		t.Error("created = false, want true")
	}
	if conv.IDMatcher != "MY-BANK" {
		t.Errorf("matcher = %q, want raw string fallback MY-BANK", conv.IDMatcher)
	}

	again, created, err := r.Resolve([]string{"MY-BANK"}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if created || again.ID != conv.ID {
		t.Error("raw-string key did not resolve to the same conversation")
	}
}

func TestResolveFiltersOwnNumbers(t *testing.T) {
	r, _ := testResolver(t)

	conv, _, err := r.Resolve(
		[]string{"5551234567", "5550000000"},
		[]string{"(555) 000-0000"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Group() {
		t.Error("own number not filtered: resolved as group")
	}
	if conv.IDMatcher != "51234567" {
		t.Errorf("matcher = %q, want the external participant's key", conv.IDMatcher)
	}
}

func TestResolveSelfAddressedKeepsParticipants(t *testing.T) {
	r, _ := testResolver(t)

	// A note-to-self send: filtering would leave zero participants.
	conv, created, err := r.Resolve([]string{"5550000000"}, []string{"5550000000"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("self-addressed send did not create a conversation")
	}
	if conv.PhoneNumbers != "5550000000" {
		t.Errorf("phone numbers = %q, want the original address kept", conv.PhoneNumbers)
	}
}

func TestResolveGroupOrderIndependent(t *testing.T) {
	r, _ := testResolver(t)

	first, created, err := r.Resolve([]string{"5551111111", "5552222222"}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if !created || !first.Group() {
		t.Fatalf("want a freshly created group, got created=%v group=%v", created, first.Group())
	}

	second, created, err := r.Resolve([]string{"5552222222", "5551111111"}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if created || second.ID != first.ID {
		t.Errorf("reordered participants resolved to %d (created=%v), want %d", second.ID, created, first.ID)
	}
}

func TestResolveGroupByTitleFallback(t *testing.T) {
	r, _ := testResolver(t)

	first, _, err := r.Resolve([]string{"5551111111", "5552222222"}, nil, "weekend plans")
	if err != nil {
		t.Fatal(err)
	}

	// A different participant snapshot (member added) but the same title.
	second, created, err := r.Resolve([]string{"5551111111", "5552222222", "5553333333"}, nil, "weekend plans")
	if err != nil {
		t.Fatal(err)
	}
	if created || second.ID != first.ID {
		t.Errorf("title fallback resolved to %d (created=%v), want %d", second.ID, created, first.ID)
	}
}

func TestResolveGroupKeepsExternalParticipants(t *testing.T) {
	r, _ := testResolver(t)

	// Own number inside a group must be filtered without collapsing the
	// group to a one-on-one with the wrong membership.
	conv, _, err := r.Resolve(
		[]string{"5551111111", "5552222222", "5550000000"},
		[]string{"5550000000"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !conv.Group() {
		t.Fatal("group collapsed after own-number filtering")
	}
	if conv.PhoneNumbers != CanonicalJoin([]string{"5551111111", "5552222222"}) {
		t.Errorf("participants = %q, want the two external numbers", conv.PhoneNumbers)
	}
}

func TestResolveConcurrentSingleRow(t *testing.T) {
	r, db := testResolver(t)

	const n = 16
	var wg sync.WaitGroup
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := r.Resolve([]string{"5558675309"}, nil, "")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent resolves produced different conversations: %v", ids)
		}
	}

	convs, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Errorf("got %d conversation rows, want exactly 1", len(convs))
	}
}

func TestResolveGroupConcurrentSingleRow(t *testing.T) {
	r, db := testResolver(t)

	// Groups have a blank matcher, so the unique index cannot backstop
	// the create; the singleflight on the canonical set has to.
	const n = 16
	var wg sync.WaitGroup
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addrs := []string{"5551111111", "5552222222"}
			if i%2 == 1 {
				addrs = []string{"5552222222", "5551111111"}
			}
			conv, _, err := r.Resolve(addrs, nil, "")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent group resolves produced different conversations: %v", ids)
		}
	}

	convs, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Errorf("got %d conversation rows, want exactly 1", len(convs))
	}
}
