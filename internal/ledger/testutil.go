package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	testutil "github.com/verbalab/verbactl/internal/testing"
)

// openTestStore creates a test ledger in a temporary directory.
// The database is automatically closed and removed when the test completes.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := testutil.MkdirTempInDir(t, t.TempDir())
	store, err := Open(filepath.Join(dir, "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
