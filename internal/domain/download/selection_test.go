package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
	"github.com/GriffinCanCode/moodlearchiver/internal/testutil"
)

func TestFilter(t *testing.T) {
	courses := testutil.Courses()

	tests := []struct {
		name  string
		query string
		want  []int64
	}{
		{"empty query keeps all", "", []int64{1, 2, 3}},
		{"display name", "linear", []int64{2}},
		{"short name ignores case", "cs1", []int64{1}},
		{"full name only", "communication", []int64{3}},
		{"shared substring keeps order", "in", []int64{1, 2, 3}},
		{"no match", "zoology", []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(courses, tt.query)
			ids := make([]int64, 0, len(got))
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestFilterIsIdempotent(t *testing.T) {
	courses := testutil.Courses()
	for _, q := range []string{"", "cs", "IN", "Algebra", "x"} {
		once := Filter(courses, q)
		assert.Equal(t, once, Filter(once, q), "query %q", q)
	}
}

func TestFilterDoesNotAlias(t *testing.T) {
	courses := testutil.Courses()
	got := Filter(courses, "")
	got[0].ShortName = "changed"
	assert.Equal(t, "CS101", courses[0].ShortName)
}

func TestToggle(t *testing.T) {
	sel := Selection{"1", "3"}

	added := Toggle(sel, "2")
	assert.Equal(t, Selection{"1", "3", "2"}, added)
	assert.Equal(t, Selection{"1", "3"}, sel, "input must not change")

	removed := Toggle(sel, "1")
	assert.Equal(t, Selection{"3"}, removed)
	assert.Equal(t, Selection{"1", "3"}, sel, "input must not change")
}

func TestToggleIsItsOwnInverse(t *testing.T) {
	selections := []Selection{{}, {"1"}, {"1", "2", "3"}, {"7", "2"}}
	for _, sel := range selections {
		for _, id := range []string{"1", "2", "9"} {
			assert.True(t, Toggle(Toggle(sel, id), id).Equal(sel), "sel %v id %s", sel, id)
		}
	}
}

func TestSelectAllFiltered(t *testing.T) {
	courses := testutil.Courses()

	sel := SelectAllFiltered(Selection{"99", "2"}, Filter(courses, "cs"))
	assert.Equal(t, Selection{"99", "2", "1"}, sel)

	assert.Equal(t, Selection{}, SelectAllFiltered(nil, nil))
}

func TestSelectAllThenClearIsEmpty(t *testing.T) {
	courses := testutil.Courses()
	for _, prior := range []Selection{nil, {}, {"1"}, {"5", "6"}} {
		_ = SelectAllFiltered(prior, courses)
		assert.Empty(t, ClearSelection())
	}
}

func TestSelectedCoursesKeepsCourseOrder(t *testing.T) {
	courses := testutil.Courses()
	got := SelectedCourses(courses, Selection{"3", "1", "42"})

	require.Len(t, got, 2)
	assert.Equal(t, "CS101", got[0].ShortName)
	assert.Equal(t, "EN110", got[1].ShortName)
}

func TestArchiveName(t *testing.T) {
	courses := []backend.Course{{ID: 1, ShortName: "CS101"}, {ID: 2, ShortName: "MA201"}}

	day := time.Date(2024, 5, 3, 9, 15, 0, 0, time.UTC)
	assert.Equal(t, "CS101_MA201_2024-05-03.zip", ArchiveName(courses, day))

	ist := time.FixedZone("IST", 5*3600+1800)
	lateNight := time.Date(2024, 5, 4, 2, 0, 0, 0, ist)
	assert.Equal(t, "CS101_MA201_2024-05-03.zip", ArchiveName(courses, lateNight))
}

func TestSelectionEncoding(t *testing.T) {
	sel := Selection{"12", "3", "7"}

	encoded, err := EncodeSelection(sel)
	require.NoError(t, err)
	assert.Equal(t, "WyIxMiIsIjMiLCI3Il0=", encoded)

	decoded, err := DecodeSelection(encoded)
	require.NoError(t, err)
	assert.Equal(t, sel, decoded)

	empty, err := EncodeSelection(nil)
	require.NoError(t, err)
	decoded, err = DecodeSelection(empty)
	require.NoError(t, err)
	assert.Equal(t, Selection{}, decoded)
}

func TestDecodeSelectionRejectsGarbage(t *testing.T) {
	_, err := DecodeSelection("%%%")
	assert.Error(t, err)

	_, err = DecodeSelection("bm90IGpzb24=")
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "idle", StatusIdle.String())
	assert.Equal(t, "packaging", StatusPackaging.String())
	assert.Equal(t, "unknown", Status(42).String())

	assert.True(t, StatusEnumerating.Active())
	assert.False(t, StatusFailed.Active())
	assert.True(t, StatusSucceeded.Terminal())
	assert.False(t, StatusIdle.Terminal())

	text, err := StatusDownloading.MarshalText()
	require.NoError(t, err)

	var s Status
	require.NoError(t, s.UnmarshalText(text))
	assert.Equal(t, StatusDownloading, s)
	assert.Error(t, s.UnmarshalText([]byte("paused")))
}
