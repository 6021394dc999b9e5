package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONObject decodes a single JSON document from r.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var doc T
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "json: decode document")
	}
	return &doc, nil
}

// StreamJSONArray decodes a top-level JSON array element by element, so
// a whole-season feed never needs to fit in memory. The caller must
// drain the element channel; exactly one value arrives on the error
// channel (nil on success) and both channels close when decoding ends.
func StreamJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)
		errCh <- streamElements(ctx, r, outCh)
	}()

	return outCh, errCh
}

func streamElements[T any](ctx context.Context, r io.Reader, outCh chan<- T) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return eris.Errorf("json: expected array, got %v", tok)
	}

	for dec.More() {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "json: cancelled")
		}

		var elem T
		if err := dec.Decode(&elem); err != nil {
			return eris.Wrap(err, "json: decode element")
		}

		select {
		case outCh <- elem:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "json: cancelled")
		}
	}

	if _, err := dec.Token(); err != nil && err != io.EOF {
		return eris.Wrap(err, "json: read closing token")
	}
	return nil
}
