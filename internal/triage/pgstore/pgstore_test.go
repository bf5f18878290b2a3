package pgstore_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/crisisconnect/internal/postgres"
	"github.com/linnemanlabs/crisisconnect/internal/triage"
	"github.com/linnemanlabs/crisisconnect/internal/triage/pgstore"
)

// openPool connects to the test database inside a fresh schema that is
// dropped when the test ends, so tests never see each other's rows.
func openPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("CRISISCONNECT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CRISISCONNECT_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()

	admin, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(admin.Close)

	name := "crisisconnect_test_" + strings.ToLower(ulid.Make().String())
	ident := pgx.Identifier{name}.Sanitize()
	if _, err := admin.Exec(ctx, `CREATE SCHEMA `+ident); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		if _, err := admin.Exec(context.Background(), `DROP SCHEMA `+ident+` CASCADE`); err != nil {
			t.Logf("cleanup: %v", err)
		}
	})

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	pcfg.ConnConfig.RuntimeParams["search_path"] = name
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		t.Fatalf("pgxpool.NewWithConfig: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func openStore(t *testing.T, opts ...pgstore.Option) (*pgstore.Store, *pgxpool.Pool) {
	t.Helper()
	pool := openPool(t)
	s, err := pgstore.New(context.Background(), pool, opts...)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s, pool
}

// fixedClock returns the given instants in order, one per call.
func fixedClock(stamps ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ts := stamps[i%len(stamps)]
		i++
		return ts
	}
}

func TestCreateAndGet(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	in := &triage.HelpRequest{
		Description:  "Water rising, elderly couple on second floor",
		Location:     triage.Location{Lat: 9.9312, Lng: 76.2673},
		PhoneNumber:  "+91-9000000000",
		Source:       triage.SourceSMS,
		Urgency:      triage.UrgencyCritical,
		RequestTypes: []string{"Rescue", "Medical"},
		Notes:        "no boat access",
		ReporterName: "Anil",
		NumPeople:    2,
	}
	created, err := s.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	assertEqual(t, "ID", created.ID, got.ID)
	assertEqual(t, "Description", in.Description, got.Description)
	assertEqual(t, "Location", in.Location, got.Location)
	assertEqual(t, "PhoneNumber", in.PhoneNumber, got.PhoneNumber)
	assertEqual(t, "Source", in.Source, got.Source)
	assertEqual(t, "Status", triage.StatusPending, got.Status)
	assertEqual(t, "Urgency", in.Urgency, got.Urgency)
	assertEqual(t, "Notes", in.Notes, got.Notes)
	assertEqual(t, "ReporterName", in.ReporterName, got.ReporterName)
	assertEqual(t, "NumPeople", in.NumPeople, got.NumPeople)
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, created.CreatedAt)
	}
	if len(got.RequestTypes) != 2 || got.RequestTypes[0] != "Rescue" || got.RequestTypes[1] != "Medical" {
		t.Errorf("RequestTypes mismatch: got %v", got.RequestTypes)
	}
}

func TestCreateDefaults(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &triage.HelpRequest{Description: "need water"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertEqual(t, "Source", triage.SourceApp, got.Source)
	assertEqual(t, "Urgency", triage.UrgencyRequest, got.Urgency)
	assertEqual(t, "NumPeople", 1, got.NumPeople)
	if got.RequestTypes == nil || len(got.RequestTypes) != 0 {
		t.Errorf("RequestTypes = %#v, want empty non-nil", got.RequestTypes)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	s, _ := openStore(t)

	_, err := s.Create(context.Background(), &triage.HelpRequest{Description: "   "})
	if !triage.IsValidation(err) {
		t.Fatalf("Create err = %v, want ValidationError", err)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := openStore(t)

	_, err := s.Get(context.Background(), "nonexistent-id")
	if !triage.IsNotFound(err) {
		t.Fatalf("Get err = %v, want NotFoundError", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	base := time.Date(2199, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := openStore(t, pgstore.WithClock(fixedClock(base, base.Add(time.Second), base.Add(time.Second))))
	ctx := context.Background()

	var ids []string
	for _, d := range []string{"first", "second", "third"} {
		r, err := s.Create(ctx, &triage.HelpRequest{Description: d})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, r.ID)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) < 3 {
		t.Fatalf("List len = %d, want >= 3", len(list))
	}
	// equal timestamps fall back to insertion order, latest first
	want := []string{ids[2], ids[1], ids[0]}
	for i, id := range want {
		assertEqual(t, "list id", id, list[i].ID)
	}
}

func TestCreateBackwardsClockKeepsOrder(t *testing.T) {
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	s, _ := openStore(t, pgstore.WithClock(fixedClock(base, base.Add(-time.Minute))))
	ctx := context.Background()

	first, err := s.Create(ctx, &triage.HelpRequest{Description: "first"})
	if err != nil {
		t.Fatalf("Create first: %v", err)
	}
	second, err := s.Create(ctx, &triage.HelpRequest{Description: "second"})
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}
	if !second.CreatedAt.Equal(base) {
		t.Errorf("second CreatedAt = %v, want clamped to %v", second.CreatedAt, base)
	}
	if second.CreatedAt.Before(first.CreatedAt) {
		t.Fatalf("second CreatedAt %v before first %v", second.CreatedAt, first.CreatedAt)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	assertEqual(t, "newest", second.ID, list[0].ID)
}

func TestConcurrentCreatesKeepOrder(t *testing.T) {
	s, pool := openStore(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	for range n {
		wg.Go(func() {
			if _, err := s.Create(ctx, &triage.HelpRequest{Description: "race"}); err != nil {
				t.Errorf("Create: %v", err)
			}
		})
	}
	wg.Wait()

	var regressions int
	err := pool.QueryRow(ctx, `SELECT count(*) FROM (
		SELECT created_at < lag(created_at) OVER (ORDER BY seq) AS back FROM help_requests
	) w WHERE back`).Scan(&regressions)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	assertEqual(t, "created_at regressions in seq order", 0, regressions)
}

func TestListCreatedBetween(t *testing.T) {
	base := time.Date(2198, 3, 4, 22, 0, 0, 0, time.UTC)
	stamps := []time.Time{base, base.Add(2 * time.Hour), base.Add(3 * time.Hour), base.Add(26 * time.Hour)}
	s, _ := openStore(t, pgstore.WithClock(fixedClock(stamps...)))
	ctx := context.Background()

	var ids []string
	for range stamps {
		r, err := s.Create(ctx, &triage.HelpRequest{Description: "window"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, r.ID)
	}

	from := time.Date(2198, 3, 5, 0, 0, 0, 0, time.UTC)
	got, err := s.ListCreatedBetween(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ListCreatedBetween: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	assertEqual(t, "got[0]", ids[2], got[0].ID)
	assertEqual(t, "got[1]", ids[1], got[1].ID)
}

func TestUpdate(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &triage.HelpRequest{Description: "roof", Urgency: triage.UrgencyLow})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Update(ctx, created.ID, func(r *triage.HelpRequest) {
		r.Status = triage.StatusDispatched
		r.Urgency = triage.UrgencyCritical
		r.ID = "hijack"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	assertEqual(t, "ID", created.ID, got.ID)
	assertEqual(t, "Status", triage.StatusDispatched, got.Status)

	reread, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertEqual(t, "Status", triage.StatusDispatched, reread.Status)
	assertEqual(t, "Urgency", triage.UrgencyCritical, reread.Urgency)
	assertEqual(t, "Description", "roof", reread.Description)
}

func TestUpdateRejectsInvalidState(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &triage.HelpRequest{Description: "guard"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = s.Update(ctx, created.ID, func(r *triage.HelpRequest) { r.Status = "bogus" })
	if !triage.IsValidation(err) {
		t.Fatalf("Update err = %v, want ValidationError", err)
	}
	got, _ := s.Get(ctx, created.ID)
	assertEqual(t, "Status", triage.StatusPending, got.Status)
}

func TestUpdateMissing(t *testing.T) {
	s, _ := openStore(t)

	_, err := s.Update(context.Background(), "missing", func(*triage.HelpRequest) {})
	if !triage.IsNotFound(err) {
		t.Fatalf("Update err = %v, want NotFoundError", err)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &triage.HelpRequest{Description: "counter"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, created.ID, func(r *triage.HelpRequest) { r.NumPeople++ })
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// every read-modify-write saw the previous one
	assertEqual(t, "NumPeople", 1+n, got.NumPeople)
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: got %v, want %v", field, got, want)
	}
}
