package chirp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateFilterSuppressesConsecutiveOnly(t *testing.T) {
	var f DuplicateFilter
	var emitted []string
	for _, text := range []string{"1234", "1234", "5678", "1234", "1234"} {
		if f.Observe(text) {
			emitted = append(emitted, text)
		}
	}
	assert.Equal(t, []string{"1234", "5678", "1234"}, emitted)
}

func TestDuplicateFilterReset(t *testing.T) {
	var f DuplicateFilter
	require.True(t, f.Observe("abc"))
	require.False(t, f.Observe("abc"))
	f.Reset()
	assert.True(t, f.Observe("abc"))
}

func TestDuplicateFilterEmptyStringIsAValue(t *testing.T) {
	var f DuplicateFilter
	assert.True(t, f.Observe(""))
	assert.False(t, f.Observe(""))
}

func TestResultHistoryMostRecentFirstAndCapped(t *testing.T) {
	h := NewResultHistory(HistoryLimit)
	base := time.Now()
	for i := 0; i < 15; i++ {
		h.Add(DecodedResult{Text: fmt.Sprintf("code-%d", i), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	results := h.Results()
	require.Len(t, results, HistoryLimit)
	assert.Equal(t, "code-14", results[0].Text)
	assert.Equal(t, "code-5", results[HistoryLimit-1].Text)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, "code-14", latest.Text)
}

func TestResultHistoryReturnsCopies(t *testing.T) {
	h := NewResultHistory(3)
	h.Add(DecodedResult{Text: "a"})
	results := h.Results()
	results[0].Text = "mutated"
	assert.Equal(t, "a", h.Results()[0].Text)
}

func TestResultHistoryFillsTimestamp(t *testing.T) {
	h := NewResultHistory(0)
	h.Add(DecodedResult{Text: "a"})
	latest, ok := h.Latest()
	require.True(t, ok)
	assert.False(t, latest.Timestamp.IsZero())
}

func TestResultHistoryClear(t *testing.T) {
	h := NewResultHistory(3)
	h.Add(DecodedResult{Text: "a"})
	h.Add(DecodedResult{Text: "b"})
	h.Clear()
	assert.Equal(t, 0, h.Len())
	_, ok := h.Latest()
	assert.False(t, ok)
}
