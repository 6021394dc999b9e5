package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedArray = `[
	{"match_id": "m-1", "domain": "fixtures", "data": {"home": "Arsenal"}},
	{"match_id": "m-2", "domain": "fixtures", "data": {"home": "Leeds"}},
	{"match_id": "m-3", "domain": "stats", "data": {"shots": 14}}
]`

// drainJSON collects every element and the final error.
func drainJSON[T any](t *testing.T, outCh <-chan T, errCh <-chan error) ([]T, error) {
	t.Helper()
	var out []T
	for elem := range outCh {
		out = append(out, elem)
	}
	return out, <-errCh
}

func TestDecodeJSONObject(t *testing.T) {
	in := `{"match_id": "m-1", "domain": "odds", "data": {"home_win": 2.1}}`

	doc, err := DecodeJSONObject[map[string]any](strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, "m-1", (*doc)["match_id"])
	assert.Equal(t, "odds", (*doc)["domain"])
}

func TestDecodeJSONObject_Malformed(t *testing.T) {
	_, err := DecodeJSONObject[map[string]any](strings.NewReader(`{"match_id": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json: decode document")
}

func TestStreamJSONArray_Elements(t *testing.T) {
	outCh, errCh := StreamJSONArray[map[string]any](context.Background(), strings.NewReader(feedArray))

	elems, err := drainJSON(t, outCh, errCh)
	require.NoError(t, err)
	require.Len(t, elems, 3)
	assert.Equal(t, "m-1", elems[0]["match_id"])
	assert.Equal(t, "stats", elems[2]["domain"])
}

func TestStreamJSONArray_TypedElements(t *testing.T) {
	type payload struct {
		MatchID string `json:"match_id"`
		Domain  string `json:"domain"`
	}

	outCh, errCh := StreamJSONArray[payload](context.Background(), strings.NewReader(feedArray))

	elems, err := drainJSON(t, outCh, errCh)
	require.NoError(t, err)
	require.Len(t, elems, 3)
	assert.Equal(t, payload{MatchID: "m-2", Domain: "fixtures"}, elems[1])
}

func TestStreamJSONArray_EmptyArray(t *testing.T) {
	outCh, errCh := StreamJSONArray[map[string]any](context.Background(), strings.NewReader(`[]`))

	elems, err := drainJSON(t, outCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, elems)
}

func TestStreamJSONArray_EmptyInput(t *testing.T) {
	outCh, errCh := StreamJSONArray[map[string]any](context.Background(), strings.NewReader(""))

	elems, err := drainJSON(t, outCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, elems)
}

func TestStreamJSONArray_NotAnArray(t *testing.T) {
	outCh, errCh := StreamJSONArray[map[string]any](context.Background(), strings.NewReader(`{"match_id": "m-1"}`))

	_, err := drainJSON(t, outCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected array")
}

func TestStreamJSONArray_MalformedElement(t *testing.T) {
	in := `[{"match_id": "m-1"}, {"match_id": ]`
	outCh, errCh := StreamJSONArray[map[string]any](context.Background(), strings.NewReader(in))

	elems, err := drainJSON(t, outCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode element")
	assert.Len(t, elems, 1, "elements before the bad one are still delivered")
}

func TestStreamJSONArray_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outCh, errCh := StreamJSONArray[map[string]any](ctx, strings.NewReader(feedArray))
	_, err := drainJSON(t, outCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
}
