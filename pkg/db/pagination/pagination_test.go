package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var sortable = map[string]string{
	"issued_at":      "issued_at",
	"remaining_uses": "remaining_uses",
}

func TestNormalizeDefaults(t *testing.T) {
	p, err := Page{}.Normalize(sortable, "issued_at")
	require.NoError(t, err)
	require.Equal(t, Page{Page: 1, Size: 20, SortField: "issued_at", SortDir: SortDesc}, p)
	require.Equal(t, 0, p.Offset())
}

func TestNormalizeRejectsOutOfRange(t *testing.T) {
	cases := []Page{
		{Page: -1},
		{Size: 101},
		{Size: -3},
		{SortField: "bearer_token"},
		{SortDir: "sideways"},
	}
	for _, c := range cases {
		_, err := c.Normalize(sortable, "issued_at")
		require.Error(t, err, "%+v", c)
	}
}

func TestNormalizeCaseInsensitiveDirection(t *testing.T) {
	p, err := Page{Page: 3, Size: 10, SortField: "remaining_uses", SortDir: "ASC"}.Normalize(sortable, "issued_at")
	require.NoError(t, err)
	require.Equal(t, SortAsc, p.SortDir)
	require.Equal(t, 20, p.Offset())
}

func TestBuildPageInfo(t *testing.T) {
	require.True(t, BuildPageInfo(Page{Page: 1, Size: 2}, 3).HasMore)
	require.False(t, BuildPageInfo(Page{Page: 2, Size: 2}, 3).HasMore)
	require.False(t, BuildPageInfo(Page{Page: 1, Size: 20}, 0).HasMore)
}
