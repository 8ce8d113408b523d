package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func fourSamples(t *testing.T) *Dataset {
	t.Helper()
	in := "0,1,2\n1,3,4\n2,5,6\n3,7,8\n"
	ds, err := ReadCSV(strings.NewReader(in), 1, 2, false, Options{Classes: 4})
	require.NoError(t, err)
	return ds
}

func TestBatch(t *testing.T) {
	ds := fourSamples(t)
	x, lbl := ds.Batch([]int{2, 0})
	assert.Equal(t, []int{2, 1, 1, 2}, []int(x.Shape()))
	assert.Equal(t, []float64{5, 6, 1, 2}, x.Data())
	assert.Equal(t, []float64{2, 0}, lbl.Data())

	// Batch copies; the source is untouched.
	x.Data()[0] = 100
	assert.Equal(t, 5.0, ds.Images.Data()[4])
}

func TestBatches(t *testing.T) {
	ds := fourSamples(t)

	ordered := ds.Batches(3, nil)
	require.Len(t, ordered, 2)
	assert.Equal(t, []int{0, 1, 2}, ordered[0])
	assert.Equal(t, []int{3}, ordered[1])

	shuffled := ds.Batches(2, rand.New(rand.NewSource(1)))
	seen := map[int]bool{}
	for _, b := range shuffled {
		for _, i := range b {
			seen[i] = true
		}
	}
	assert.Len(t, seen, 4)
}

func TestSplit(t *testing.T) {
	ds := fourSamples(t)
	train, val, err := ds.Split(0.75)
	require.NoError(t, err)
	assert.Equal(t, 3, train.Len())
	assert.Equal(t, 1, val.Len())
	assert.Equal(t, []float64{3}, val.Labels.Data())

	_, _, err = ds.Split(1)
	assert.Error(t, err)
	_, _, err = ds.Split(0)
	assert.Error(t, err)
}
