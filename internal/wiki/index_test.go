package wiki

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const benefitsPage = `## Vacation policy
Employees accrue twenty five vacation days per year. Vacation requests
go through the booking tool and need manager approval for more than
ten consecutive days.

## Sick leave
Sick leave is unlimited with a doctor's note after the third day.
Short absences only need a message to your manager.

## Tiny
Too short.
`

const officesPage = `The Hamburg office is at Fischmarkt 12. The front desk is staffed on
weekdays from eight to six. Visitor badges are issued at the desk.

## Parking
Parking spots are behind the building. Charging for electric cars is
available on the lower level.
`

func seedSnapshot(t *testing.T, sha string) *Store {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, sha)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "facilities"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "benefits.md"), []byte(benefitsPage), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "facilities", "offices.md"), []byte(officesPage), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not indexed"), 0o644))
	return NewStore(root, zaptest.NewLogger(t))
}

func TestPagesListsMarkdownOnly(t *testing.T) {
	store := seedSnapshot(t, "abc123")
	pages, err := store.Pages("abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"benefits.md", "facilities/offices.md"}, pages)
}

func TestSearchRanksMatchingSection(t *testing.T) {
	store := seedSnapshot(t, "abc123")
	results, err := store.Search("abc123", "vacation days approval", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "benefits.md", results[0].Path)
	assert.Equal(t, "Vacation policy", results[0].Section)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearchPreludeGetsIntroductionSection(t *testing.T) {
	store := seedSnapshot(t, "abc123")
	results, err := store.Search("abc123", "visitor badges front desk", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "facilities/offices.md", results[0].Path)
	assert.Equal(t, "Introduction", results[0].Section)
}

func TestSearchHonorsTopK(t *testing.T) {
	store := seedSnapshot(t, "abc123")
	results, err := store.Search("abc123", "the", 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 1)
}

func TestSearchEmptyQuery(t *testing.T) {
	store := seedSnapshot(t, "abc123")
	results, err := store.Search("abc123", "  ...  ", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestShortSectionsAreNotIndexed(t *testing.T) {
	store := seedSnapshot(t, "abc123")
	results, err := store.Search("abc123", "too short tiny", 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "Tiny", r.Section)
	}
}

func TestUnknownSnapshotErrors(t *testing.T) {
	store := seedSnapshot(t, "abc123")
	_, err := store.Search("deadbeef", "anything", 5)
	assert.Error(t, err)
	_, err = store.Pages("deadbeef")
	assert.Error(t, err)
}

func TestPageReadsFullText(t *testing.T) {
	store := seedSnapshot(t, "abc123")
	text, err := store.Page("abc123", "facilities/offices.md")
	require.NoError(t, err)
	assert.Contains(t, text, "Fischmarkt 12")
}

func TestPageRejectsTraversal(t *testing.T) {
	store := seedSnapshot(t, "abc123")
	for _, path := range []string{"../secrets.md", "a/../../x.md", "/etc/passwd"} {
		_, err := store.Page("abc123", path)
		assert.Error(t, err, "path %s", path)
	}
}
