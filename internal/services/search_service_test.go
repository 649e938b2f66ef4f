package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tbourn/visitproof/internal/domain"
	"github.com/tbourn/visitproof/internal/repo"
	"github.com/tbourn/visitproof/internal/storage"
)

func TestSearch_EmptyValueDoesNotTouchStore(t *testing.T) {
	// A nil DB panics if touched.
	s := &SearchService{}
	for _, v := range []string{"", "   ", "-/-"} {
		if got := s.Search(context.Background(), "DOC", v); got.Exists || got.HasProof != nil || got.Data != nil {
			t.Fatalf("Search(%q) = %+v; want {exists:false}", v, got)
		}
	}
}

func TestSearch_StoreErrorIsNotFound(t *testing.T) {
	db := newServiceDB(t)
	if err := db.Migrator().DropTable(&domain.Entry{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	s := &SearchService{DB: db}
	got := s.Search(context.Background(), "", "KA01")
	if got.Exists || !got.Degraded {
		t.Fatalf("got %+v; want degraded not found", got)
	}
	if b, _ := json.Marshal(got); string(b) != `{"exists":false}` {
		t.Fatalf("json = %s", b)
	}
}

// End to end: a photo-less submission is found immediately, with no proof.
func TestSearch_AfterSubmitWithoutProof(t *testing.T) {
	db := newServiceDB(t)
	sub := &SubmitService{DB: db, Schema: repo.FullSchema(), Store: storage.NewMemoryStore(), ObjectPrefix: "visits"}
	res, err := sub.Submit(context.Background(), SubmitInput{DocNo: "A123", Name: "Jane"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.SyncStatus != domain.SyncPending {
		t.Fatalf("status = %q", res.SyncStatus)
	}

	s := &SearchService{DB: db}
	got := s.Search(context.Background(), "DOC", "a 123")
	b, _ := json.Marshal(got)
	if string(b) != `{"exists":true,"hasProof":false,"data":{}}` {
		t.Fatalf("json = %s", b)
	}
}

func TestSearch_ProofAfterSync(t *testing.T) {
	db := newServiceDB(t)
	syncer := &SyncService{DB: db, Schema: repo.FullSchema(), Archive: &stubArchive{}}
	insert(t, syncer, domain.Entry{
		ID: "e1", DocNo: "A123", Name: "JANE", IDNormKey: "A123",
		Remark: "OWNER", Unit: "B-402", Reason: "OTHER", ReasonOther: "PLUMBER",
	})
	if st := syncer.SyncEntry(context.Background(), "e1"); st != domain.SyncDone {
		t.Fatalf("sync = %q", st)
	}

	got := (&SearchService{DB: db}).Search(context.Background(), "", "a123")
	if !got.Exists || got.HasProof == nil || !*got.HasProof || got.Data == nil {
		t.Fatalf("got %+v", got)
	}
	if got.Data.PhotoLink != "https://archive/e1" || got.Data.Name != "JANE" {
		t.Fatalf("data = %+v", got.Data)
	}
	if got.Data.Remark != "OWNER (B-402)" || got.Data.Reason != "OTHER (PLUMBER)" {
		t.Fatalf("display formatting: remark=%q reason=%q", got.Data.Remark, got.Data.Reason)
	}
}

func TestSearch_OlderProofSurvivesNewerSubmission(t *testing.T) {
	db := newServiceDB(t)
	syncer := &SyncService{DB: db, Schema: repo.FullSchema()}
	old := time.Now().UTC().Add(-48 * time.Hour)
	insert(t, syncer, domain.Entry{
		ID: "old", CreatedAt: old, RegNo: "KA01", RegNormKey: "KA01", Name: "OLD NAME",
		ExternalURL: strp("https://archive/old"), SyncStatus: domain.SyncDone,
	})
	insert(t, syncer, domain.Entry{ID: "new", RegNo: "KA 01", RegNormKey: "KA01", Name: "NEW NAME"})

	got := (&SearchService{DB: db}).Search(context.Background(), "REG", "ka-01")
	if !got.Exists || got.HasProof == nil || !*got.HasProof {
		t.Fatalf("got %+v", got)
	}
	if got.Data.PhotoLink != "https://archive/old" {
		t.Fatalf("photo link = %q; want the older proof", got.Data.PhotoLink)
	}
	if got.Data.Name != "NEW NAME" {
		t.Fatalf("identity fields should come from the latest entry, got %q", got.Data.Name)
	}
}

func TestSearch_RegistrationBeforeIdentity(t *testing.T) {
	db := newServiceDB(t)
	syncer := &SyncService{DB: db, Schema: repo.FullSchema()}
	insert(t, syncer, domain.Entry{ID: "byreg", RegNormKey: "X1", Name: "REG", ExternalURL: strp("https://a/reg")})
	insert(t, syncer, domain.Entry{ID: "bydoc", IDNormKey: "X1", Name: "DOC", ExternalURL: strp("https://a/doc")})

	s := &SearchService{DB: db}
	if got := s.Search(context.Background(), "", "x1"); got.Data == nil || got.Data.Name != "REG" {
		t.Fatalf("ANY should resolve registration first: %+v", got.Data)
	}
	if got := s.Search(context.Background(), "id", "x1"); got.Data == nil || got.Data.Name != "DOC" {
		t.Fatalf("DOC hint: %+v", got.Data)
	}
}

func TestSearch_UnknownKey(t *testing.T) {
	db := newServiceDB(t)
	s := &SearchService{DB: db, Audit: true}
	if got := s.Search(context.Background(), "", "nobody"); got.Exists {
		t.Fatalf("got %+v", got)
	}
	if n, _ := repo.CountVisits(context.Background(), db, domain.VisitSearch); n != 1 {
		t.Fatalf("search visits = %d; want 1", n)
	}
}

func TestFormatRemarkAndReason(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{FormatRemark("OWNER", "A1"), "OWNER (A1)"},
		{FormatRemark("TENANT", "A1"), "TENANT (A1)"},
		{FormatRemark("GUEST", "A1"), "GUEST"},
		{FormatRemark("OWNER", ""), "OWNER"},
		{FormatReason("OTHER", "COURIER"), "OTHER (COURIER)"},
		{FormatReason("DELIVERY", "COURIER"), "DELIVERY"},
		{FormatReason("OTHER", ""), "OTHER"},
	}
	for i, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("case %d: got %q; want %q", i, tc.got, tc.want)
		}
	}
}
