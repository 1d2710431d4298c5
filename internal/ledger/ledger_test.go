package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/verbalab/verbactl/internal/testing"
)

func TestOpen(t *testing.T) {
	t.Run("creates missing parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state", "nested", "import.db")
		store, err := Open(path)
		require.NoError(t, err)
		t.Cleanup(func() {
			store.Close()
		})

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := Open("")
		assert.EqualError(t, err, "ledger path is required")
	})

	t.Run("reopen same database", func(t *testing.T) {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "import.db")

		store, err := Open(path)
		require.NoError(t, err)
		err = store.BeginRun(ctx, Run{ID: testutil.TestRunID, InputDir: "/data/docs"})
		require.NoError(t, err)
		require.NoError(t, store.Close())

		reopened, err := Open(path)
		require.NoError(t, err)
		t.Cleanup(func() {
			reopened.Close()
		})

		got, err := reopened.GetRun(ctx, testutil.TestRunID)
		require.NoError(t, err)
		assert.Equal(t, "/data/docs", got.InputDir)
	})

	t.Run("nil close", func(t *testing.T) {
		assert.NoError(t, (*Store)(nil).Close())
	})
}

func TestBeginRun(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		store := openTestStore(t)
		run := Run{
			ID:        testutil.TestRunID,
			InputDir:  "/data/docs",
			Endpoint:  "/parse_document/ppt",
			Host:      "http://localhost:8000",
			StartedAt: testutil.FixedTime,
		}
		err := store.BeginRun(ctx, run)
		require.NoError(t, err)

		got, err := store.GetRun(ctx, testutil.TestRunID)
		require.NoError(t, err)
		assert.Equal(t, testutil.TestRunID, got.ID)
		assert.Equal(t, "/data/docs", got.InputDir)
		assert.Equal(t, "/parse_document/ppt", got.Endpoint)
		assert.Equal(t, "http://localhost:8000", got.Host)
		assert.Equal(t, testutil.FixedTime, got.StartedAt)
		assert.Nil(t, got.FinishedAt)
		assert.Zero(t, got.Processed)
		assert.Zero(t, got.Failed)
		assert.Zero(t, got.Skipped)
	})

	t.Run("auto started_at", func(t *testing.T) {
		store := openTestStore(t)
		err := store.BeginRun(ctx, Run{ID: testutil.TestRunID, InputDir: "/data/docs"})
		require.NoError(t, err)

		got, err := store.GetRun(ctx, testutil.TestRunID)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), got.StartedAt, time.Second)
	})

	t.Run("nil store", func(t *testing.T) {
		err := (*Store)(nil).BeginRun(ctx, Run{ID: "x", InputDir: "y"})
		assert.EqualError(t, err, "ledger store is nil")
	})

	t.Run("nil db", func(t *testing.T) {
		err := (&Store{}).BeginRun(ctx, Run{ID: "x", InputDir: "y"})
		assert.EqualError(t, err, "ledger store is nil")
	})

	t.Run("missing id", func(t *testing.T) {
		store := openTestStore(t)
		err := store.BeginRun(ctx, Run{InputDir: "/data/docs"})
		assert.EqualError(t, err, "run id is required")
	})

	t.Run("missing input_dir", func(t *testing.T) {
		store := openTestStore(t)
		err := store.BeginRun(ctx, Run{ID: testutil.TestRunID})
		assert.EqualError(t, err, "run input_dir is required")
	})

	t.Run("duplicate id", func(t *testing.T) {
		store := openTestStore(t)
		run := Run{ID: testutil.TestRunID, InputDir: "/data/docs"}
		require.NoError(t, store.BeginRun(ctx, run))

		err := store.BeginRun(ctx, run)
		assert.Error(t, err)
	})
}

func TestFinishRun(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.BeginRun(ctx, Run{ID: testutil.TestRunID, InputDir: "/data/docs"}))

		err := store.FinishRun(ctx, testutil.TestRunID, 3, 1, 2)
		require.NoError(t, err)

		got, err := store.GetRun(ctx, testutil.TestRunID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Processed)
		assert.Equal(t, 1, got.Failed)
		assert.Equal(t, 2, got.Skipped)
		require.NotNil(t, got.FinishedAt)
		assert.WithinDuration(t, time.Now().UTC(), *got.FinishedAt, time.Second)
	})

	t.Run("run not found", func(t *testing.T) {
		store := openTestStore(t)
		err := store.FinishRun(ctx, "missing", 0, 0, 0)
		assert.EqualError(t, err, "run missing not found")
	})

	t.Run("nil store", func(t *testing.T) {
		err := (*Store)(nil).FinishRun(ctx, "x", 0, 0, 0)
		assert.EqualError(t, err, "ledger store is nil")
	})

	t.Run("missing id", func(t *testing.T) {
		store := openTestStore(t)
		err := store.FinishRun(ctx, "", 0, 0, 0)
		assert.EqualError(t, err, "run id is required")
	})
}

func TestGetRun(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		store := openTestStore(t)
		_, err := store.GetRun(ctx, "missing")
		assert.EqualError(t, err, "run missing not found")
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := (*Store)(nil).GetRun(ctx, "x")
		assert.EqualError(t, err, "ledger store is nil")
	})
}

func TestRecordDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.BeginRun(ctx, Run{ID: testutil.TestRunID, InputDir: "/data/docs"}))

		doc := Document{
			RunID:     testutil.TestRunID,
			RelPath:   "slides/intro deck.pptx",
			SHA256:    "abc123",
			SizeBytes: 42,
			Status:    StatusImported,
			CreatedAt: testutil.FixedTime,
		}
		require.NoError(t, store.RecordDocument(ctx, doc))

		docs, err := store.DocumentsForRun(ctx, testutil.TestRunID)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "slides/intro deck.pptx", docs[0].RelPath)
		assert.Equal(t, "abc123", docs[0].SHA256)
		assert.Equal(t, int64(42), docs[0].SizeBytes)
		assert.Equal(t, StatusImported, docs[0].Status)
		assert.Equal(t, "", docs[0].Error)
		assert.Equal(t, testutil.FixedTime, docs[0].CreatedAt)
	})

	t.Run("failure reason stored", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.BeginRun(ctx, Run{ID: testutil.TestRunID, InputDir: "/data/docs"}))

		doc := Document{
			RunID:   testutil.TestRunID,
			RelPath: "broken.pdf",
			SHA256:  "def456",
			Status:  StatusFailed,
			Error:   "upload status 500",
		}
		require.NoError(t, store.RecordDocument(ctx, doc))

		docs, err := store.DocumentsForRun(ctx, testutil.TestRunID)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, StatusFailed, docs[0].Status)
		assert.Equal(t, "upload status 500", docs[0].Error)
	})

	t.Run("auto created_at", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.BeginRun(ctx, Run{ID: testutil.TestRunID, InputDir: "/data/docs"}))

		doc := Document{RunID: testutil.TestRunID, RelPath: "a.txt", SHA256: "s", Status: StatusImported}
		require.NoError(t, store.RecordDocument(ctx, doc))

		docs, err := store.DocumentsForRun(ctx, testutil.TestRunID)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.WithinDuration(t, time.Now().UTC(), docs[0].CreatedAt, time.Second)
	})

	t.Run("unknown run rejected", func(t *testing.T) {
		store := openTestStore(t)
		doc := Document{RunID: "ghost", RelPath: "a.txt", SHA256: "s", Status: StatusImported}
		err := store.RecordDocument(ctx, doc)
		assert.Error(t, err)
		testutil.RequireNoRows(t, store.DB, `SELECT COUNT(1) FROM documents WHERE run_id = ?`, "ghost")
	})

	t.Run("nil store", func(t *testing.T) {
		err := (*Store)(nil).RecordDocument(ctx, Document{RunID: "x", RelPath: "y", Status: StatusImported})
		assert.EqualError(t, err, "ledger store is nil")
	})

	t.Run("missing run_id", func(t *testing.T) {
		store := openTestStore(t)
		err := store.RecordDocument(ctx, Document{RelPath: "a.txt", Status: StatusImported})
		assert.EqualError(t, err, "document run_id is required")
	})

	t.Run("missing rel_path", func(t *testing.T) {
		store := openTestStore(t)
		err := store.RecordDocument(ctx, Document{RunID: testutil.TestRunID, Status: StatusImported})
		assert.EqualError(t, err, "document rel_path is required")
	})

	t.Run("missing status", func(t *testing.T) {
		store := openTestStore(t)
		err := store.RecordDocument(ctx, Document{RunID: testutil.TestRunID, RelPath: "a.txt"})
		assert.EqualError(t, err, "document status is required")
	})
}

func TestHasImported(t *testing.T) {
	ctx := context.Background()

	t.Run("empty ledger", func(t *testing.T) {
		store := openTestStore(t)
		found, err := store.HasImported(ctx, "a/b.pdf", "s1")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("imported in earlier run", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.BeginRun(ctx, Run{ID: "run-old", InputDir: "/data/docs"}))
		doc := Document{RunID: "run-old", RelPath: "a/b.pdf", SHA256: "s1", Status: StatusImported}
		require.NoError(t, store.RecordDocument(ctx, doc))

		found, err := store.HasImported(ctx, "a/b.pdf", "s1")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("different content hash", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.BeginRun(ctx, Run{ID: "run-old", InputDir: "/data/docs"}))
		doc := Document{RunID: "run-old", RelPath: "a/b.pdf", SHA256: "s1", Status: StatusImported}
		require.NoError(t, store.RecordDocument(ctx, doc))

		found, err := store.HasImported(ctx, "a/b.pdf", "edited")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("failed outcome does not count", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.BeginRun(ctx, Run{ID: "run-old", InputDir: "/data/docs"}))
		doc := Document{RunID: "run-old", RelPath: "c.pdf", SHA256: "s2", Status: StatusFailed, Error: "boom"}
		require.NoError(t, store.RecordDocument(ctx, doc))

		found, err := store.HasImported(ctx, "c.pdf", "s2")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("skipped outcome does not count", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.BeginRun(ctx, Run{ID: "run-old", InputDir: "/data/docs"}))
		doc := Document{RunID: "run-old", RelPath: "d.pdf", SHA256: "s3", Status: StatusSkipped}
		require.NoError(t, store.RecordDocument(ctx, doc))

		found, err := store.HasImported(ctx, "d.pdf", "s3")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := (*Store)(nil).HasImported(ctx, "x", "y")
		assert.EqualError(t, err, "ledger store is nil")
	})
}

func TestDocumentsForRun(t *testing.T) {
	ctx := context.Background()

	t.Run("insertion order", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.BeginRun(ctx, Run{ID: testutil.TestRunID, InputDir: "/data/docs"}))

		for _, rel := range []string{"z.pdf", "a.pdf", "m.pdf"} {
			doc := Document{
				RunID:     testutil.TestRunID,
				RelPath:   rel,
				SHA256:    "s",
				Status:    StatusImported,
				CreatedAt: testutil.FixedTime,
			}
			require.NoError(t, store.RecordDocument(ctx, doc))
		}

		docs, err := store.DocumentsForRun(ctx, testutil.TestRunID)
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, "z.pdf", docs[0].RelPath)
		assert.Equal(t, "a.pdf", docs[1].RelPath)
		assert.Equal(t, "m.pdf", docs[2].RelPath)
	})

	t.Run("empty run", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.BeginRun(ctx, Run{ID: testutil.TestRunID, InputDir: "/data/docs"}))

		docs, err := store.DocumentsForRun(ctx, testutil.TestRunID)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("scoped to run", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.BeginRun(ctx, Run{ID: "run-1", InputDir: "/data/docs"}))
		require.NoError(t, store.BeginRun(ctx, Run{ID: "run-2", InputDir: "/data/docs"}))
		require.NoError(t, store.RecordDocument(ctx, Document{RunID: "run-1", RelPath: "one.pdf", SHA256: "s", Status: StatusImported}))
		require.NoError(t, store.RecordDocument(ctx, Document{RunID: "run-2", RelPath: "two.pdf", SHA256: "s", Status: StatusImported}))

		docs, err := store.DocumentsForRun(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "one.pdf", docs[0].RelPath)
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := (*Store)(nil).DocumentsForRun(ctx, "x")
		assert.EqualError(t, err, "ledger store is nil")
	})
}

func TestMigrate(t *testing.T) {
	t.Run("creates schema", func(t *testing.T) {
		db := testutil.OpenTestDB(t)
		require.NoError(t, Migrate(db))

		res, err := db.Exec(`INSERT INTO runs (id, input_dir, endpoint, host, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			testutil.TestRunID, "/data/docs", "/parse_document/ppt", "http://localhost:8000", "2024-01-01T12:00:00Z")
		require.NoError(t, err)
		testutil.RequireRowsAffected(t, res, 1)
	})

	t.Run("idempotent", func(t *testing.T) {
		db := testutil.OpenTestDB(t)
		require.NoError(t, Migrate(db))
		require.NoError(t, Migrate(db))

		var count int
		err := db.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, len(migrations), count)
	})

	t.Run("nil db", func(t *testing.T) {
		assert.EqualError(t, Migrate(nil), "db is nil")
	})

	t.Run("unknown recorded version", func(t *testing.T) {
		db := testutil.OpenTestDB(t)
		require.NoError(t, Migrate(db))

		_, err := db.Exec(`INSERT INTO schema_migrations (version, name, applied_at)
			VALUES (99, 'future', '2024-01-01T00:00:00Z')`)
		require.NoError(t, err)

		assert.EqualError(t, Migrate(db), "unknown schema migration version 99")
	})
}
