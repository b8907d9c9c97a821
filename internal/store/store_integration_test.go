package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lexpilot/seatwise/internal/report"
	"github.com/lexpilot/seatwise/internal/store"
	"github.com/lexpilot/seatwise/migrations"
)

func TestStoreLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("seatwise"),
		tcPostgres.WithUsername("seatwise"),
		tcPostgres.WithPassword("seatwise"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	pgHost, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	pgPort, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://seatwise:seatwise@%s:%s/seatwise?sslmode=disable", pgHost, pgPort.Port())
	if err := applyMigrations(ctx, dsn); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer func() { _ = st.DB.Close() }()

	if err := st.CreateUser(ctx, "integration@example.com", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	ownerID, _, err := st.GetUserByEmail(ctx, "integration@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}

	project, err := st.CreateProject(ctx, ownerID, "Acme v Beta", "seat review", "", map[string]interface{}{
		report.KeyCurrentSeat: "London",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if project.Status != store.StatusWorking {
		t.Fatalf("default status %q", project.Status)
	}

	got, found, err := st.GetProject(ctx, project.ID, ownerID)
	if err != nil || !found {
		t.Fatalf("get project: found=%v err=%v", found, err)
	}
	if got.Intake[report.KeyCurrentSeat] != "London" {
		t.Fatalf("intake round trip: %v", got.Intake)
	}

	// Ownership scoping: another owner never sees the project.
	if _, found, err := st.GetProject(ctx, project.ID, "00000000-0000-0000-0000-000000000000"); err != nil || found {
		t.Fatalf("cross-owner read must be not-found, found=%v err=%v", found, err)
	}

	doc, err := st.InsertDocument(ctx, store.Document{
		ProjectID:     project.ID,
		OwnerID:       ownerID,
		Filename:      "contract.pdf",
		StorageBucket: "seatwise",
		StoragePath:   ownerID + "/" + project.ID + "/documents/d1-contract.pdf",
		MimeType:      "application/pdf",
		ByteSize:      42,
	})
	if err != nil {
		t.Fatalf("insert document: %v", err)
	}
	docs, err := st.ListDocuments(ctx, project.ID, ownerID)
	if err != nil || len(docs) != 1 || docs[0].ID != doc.ID {
		t.Fatalf("list documents: %v %v", docs, err)
	}

	for _, content := range []string{"first", "second", "third"} {
		if _, err := st.InsertMessage(ctx, project.ID, ownerID, store.RoleUser, content); err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}
	recent, err := st.ListRecentMessages(ctx, project.ID, ownerID, 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "second" || recent[1].Content != "third" {
		t.Fatalf("recent window wrong: %+v", recent)
	}

	reportErr := "no extractable text found"
	if err := st.SetReportError(ctx, project.ID, ownerID, &reportErr); err != nil {
		t.Fatalf("set report error: %v", err)
	}
	art := store.ReportArtifact{
		Bucket:      "seatwise",
		Path:        ownerID + "/" + project.ID + "/reports/r1-report.md",
		MimeType:    "text/markdown",
		ByteSize:    100,
		GeneratedAt: time.Now().UTC(),
	}
	if err := st.SetReportArtifact(ctx, project.ID, ownerID, art, store.StatusIntervention, false); err != nil {
		t.Fatalf("set report artifact: %v", err)
	}
	got, _, err = st.GetProject(ctx, project.ID, ownerID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.ReportError == nil || *got.ReportError != reportErr {
		t.Fatalf("non-clearing artifact write must keep the error, got %v", got.ReportError)
	}
	if got.ReportPath != art.Path || got.Status != store.StatusIntervention {
		t.Fatalf("artifact not persisted: %+v", got)
	}

	if err := st.SetReportArtifact(ctx, project.ID, ownerID, art, store.StatusComplete, true); err != nil {
		t.Fatalf("set report artifact: %v", err)
	}
	got, _, err = st.GetProject(ctx, project.ID, ownerID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.ReportError != nil {
		t.Fatalf("clearing artifact write must drop the error, got %v", *got.ReportError)
	}

	if err := st.DeleteProject(ctx, project.ID, ownerID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if docs, err := st.ListDocuments(ctx, project.ID, ownerID); err != nil || len(docs) != 0 {
		t.Fatalf("documents must cascade on project delete: %v %v", docs, err)
	}
}

func TestReportLockSerializes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer func() { _ = client.Close() }()

	locker := &report.RedisLocker{Client: client}

	token, ok, err := locker.Acquire(ctx, "p1", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("first acquire: ok=%v token=%q err=%v", ok, token, err)
	}
	if _, ok, err := locker.Acquire(ctx, "p1", time.Minute); err != nil || ok {
		t.Fatalf("second acquire must be denied, ok=%v err=%v", ok, err)
	}
	cur, err := locker.Current(ctx, "p1")
	if err != nil || cur != token {
		t.Fatalf("current: %q err=%v", cur, err)
	}
	if err := locker.Release(ctx, "p1", "wrong-token"); err != nil {
		t.Fatalf("release wrong token: %v", err)
	}
	if cur, _ := locker.Current(ctx, "p1"); cur != token {
		t.Fatalf("wrong-token release must not drop the lock")
	}
	if err := locker.Release(ctx, "p1", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if cur, _ := locker.Current(ctx, "p1"); cur != "" {
		t.Fatalf("lock must be gone after release, got %q", cur)
	}
}

func applyMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	schemaSQL, err := migrations.FS.ReadFile("0001_init.up.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
