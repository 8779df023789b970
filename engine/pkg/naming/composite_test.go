package naming

import (
	"fmt"
	"strings"
	"testing"

	"github.com/malbeclabs/wapor/engine/pkg/werr"
	"github.com/stretchr/testify/require"
)

func TestWapor_Naming_Decompose(t *testing.T) {
	t.Parallel()

	letters, err := Decompose("AETI")
	require.NoError(t, err)
	require.Equal(t, []string{"E", "T", "I"}, letters)

	letters, err = Decompose("ETI")
	require.NoError(t, err)
	require.Equal(t, []string{"E", "T", "I"}, letters)

	_, err = Decompose("")
	require.ErrorIs(t, err, werr.ErrConfig)
	_, err = Decompose("AA")
	require.ErrorIs(t, err, werr.ErrConfig)
	_, err = Decompose("EET")
	require.ErrorContains(t, err, "repeats")
	_, err = Decompose("eti")
	require.ErrorIs(t, err, werr.ErrConfig)
}

func TestWapor_Naming_CompositeResolver_SourceCollections(t *testing.T) {
	t.Parallel()

	c, err := NewCompositeResolver("projects/fao_wapor", "L1")
	require.NoError(t, err)

	ids, err := c.SourceCollectionIDs("AETI")
	require.NoError(t, err)
	require.Equal(t, []string{"L1_E_D", "L1_T_D", "L1_I_D"}, ids)

	paths, err := c.SourceCollectionPaths("AETI")
	require.NoError(t, err)
	require.Equal(t, []string{
		"projects/fao_wapor/L1/L1_E_D",
		"projects/fao_wapor/L1/L1_T_D",
		"projects/fao_wapor/L1/L1_I_D",
	}, paths)
}

func TestWapor_Naming_DestinationImageIDs(t *testing.T) {
	t.Parallel()

	t.Run("all dekads are 36 ascending zero-padded ids", func(t *testing.T) {
		t.Parallel()
		ids, err := DestinationImageIDs("L1_AETI_16", Dekadal)
		require.NoError(t, err)
		require.Len(t, ids, DekadsPerYear)

		seen := map[string]bool{}
		for i, id := range ids {
			require.Equal(t, fmt.Sprintf("L1_AETI_16%02d", i+1), id)
			require.False(t, seen[id])
			seen[id] = true
			if i > 0 {
				require.Less(t, ids[i-1], id)
			}
		}
		require.Equal(t, "L1_AETI_1601", ids[0])
		require.Equal(t, "L1_AETI_1636", ids[35])
	})

	t.Run("a single dekad yields one id for every valid dekad", func(t *testing.T) {
		t.Parallel()
		for d := 1; d <= DekadsPerYear; d++ {
			ids, err := DestinationImageIDs("L1_AETI_16", Dekadal, d)
			require.NoError(t, err)
			require.Len(t, ids, 1)
			require.True(t, strings.HasSuffix(ids[0], fmt.Sprintf("%02d", d)))
		}
	})

	t.Run("dekads outside 1..36 fail instead of wrapping", func(t *testing.T) {
		t.Parallel()
		for _, d := range []int{0, 37, -1, 100} {
			ids, err := DestinationImageIDs("L1_AETI_16", Dekadal, d)
			require.Nil(t, ids)
			require.ErrorIs(t, err, werr.ErrConfig, d)
		}
	})

	t.Run("non-dekadal resolutions emit nothing", func(t *testing.T) {
		t.Parallel()
		for _, res := range []Resolution{Annual, Everyday, Seasonal} {
			ids, err := DestinationImageIDs("L1_AETI_16", res)
			require.NoError(t, err)
			require.Empty(t, ids)
		}
	})
}

func TestWapor_Naming_CompositeResolver_DestinationAssetIDs(t *testing.T) {
	t.Parallel()

	c, err := NewCompositeResolver("projects/fao_wapor", "L1")
	require.NoError(t, err)

	ids, err := c.DestinationAssetIDs("AETI", Dekadal, 2016)
	require.NoError(t, err)
	require.Len(t, ids, 36)
	require.Equal(t, "projects/fao_wapor/L1/L1_AETI_D/L1_AETI_1601", ids[0])
	require.Equal(t, "projects/fao_wapor/L1/L1_AETI_D/L1_AETI_1636", ids[35])
	for _, id := range ids {
		parsed, err := ParseAssetPath(c.Workspace(), id)
		require.NoError(t, err)
		require.Equal(t, "AETI", parsed.Collection.Component)
		require.Equal(t, Dekadal, parsed.Collection.Resolution)
	}

	one, err := c.DestinationAssetIDs("AETI", Dekadal, 2016, 7)
	require.NoError(t, err)
	require.Equal(t, []string{"projects/fao_wapor/L1/L1_AETI_D/L1_AETI_1607"}, one)

	none, err := c.DestinationAssetIDs("AETI", Annual, 2016)
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = c.DestinationAssetIDs("AETI", Dekadal, 2016, 37)
	require.ErrorIs(t, err, werr.ErrConfig)
}
