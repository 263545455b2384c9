// Package json streams JSON record collections into raw records for the
// analytics engine.
//
// Accepted shapes:
//   - a root array of flat objects
//   - an envelope object whose first array-of-objects field holds the records
//   - a single root object (one record)
//   - trailing newline-delimited objects after any of the above
//
// Nested objects are flattened with dot-joined keys so downstream column
// handling stays flat. Numbers are preserved as json.Number at this boundary;
// coercion happens later.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"trafficlens/pkg/records"
)

// StreamRecords decodes src and sends one flattened records.Record per
// input object to out. The field list is the caller's problem: objects with
// heterogeneous keys are emitted as-is and ReadBatch unions the keys.
//
// A root value that is not an object or array is a terminal parse failure,
// as is malformed JSON anywhere in the stream: JSON carries its own framing,
// so a tokenizer error means the rest of the input cannot be trusted.
func StreamRecords(ctx context.Context, src io.Reader, out chan<- records.Record) error {
	dec := json.NewDecoder(src)
	dec.UseNumber()

	emit := func(obj map[string]any) error {
		flat := make(records.Record, len(obj))
		flattenObject("", obj, flat)
		select {
		case out <- flat:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	switch d {
	case '[':
		if err := streamArray(ctx, dec, emit); err != nil {
			return err
		}
		if err := consumeDelim(dec, ']'); err != nil {
			return err
		}
	case '{':
		streamed, single, err := streamEnvelopeOrSingle(ctx, dec, emit)
		if err != nil {
			return err
		}
		if err := consumeDelim(dec, '}'); err != nil {
			return err
		}
		if !streamed && single != nil {
			if err := emit(single); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("json: unsupported root delimiter %q", d)
	}

	// Trailing NDJSON objects.
	for {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
}

// ReadBatch collects the complete record set and derives the batch field
// list as the sorted union of keys observed across all records. dropped
// reports records beyond the maxRecords cap, which are decoded to the end of
// the input and discarded so the caller can account for them.
func ReadBatch(ctx context.Context, src io.Reader, maxRecords int) (batch records.Batch, dropped int, err error) {
	out := make(chan records.Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		errCh <- StreamRecords(ctx, src, out)
	}()

	for rec := range out {
		if maxRecords > 0 && len(batch.Records) >= maxRecords {
			dropped++
			continue
		}
		batch.Records = append(batch.Records, rec)
	}

	if err := <-errCh; err != nil {
		return records.Batch{}, dropped, err
	}

	batch.Fields = unionFields(batch.Records)
	return batch, dropped, nil
}

// unionFields collects every key observed across the batch, sorted for
// deterministic column order.
func unionFields(recs []records.Record) []string {
	set := make(map[string]struct{})
	for _, r := range recs {
		for k := range r {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func streamArray(ctx context.Context, dec *json.Decoder, emit func(map[string]any) error) error {
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("json: array element not an object (got %T)", raw)
		}
		if err := emit(obj); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// streamEnvelopeOrSingle walks a root object after '{' has been consumed.
// The first field holding an array of objects is streamed as the record set
// and the remaining fields are skipped without materializing. When no such
// field exists the whole object is returned as a single record.
func streamEnvelopeOrSingle(ctx context.Context, dec *json.Decoder, emit func(map[string]any) error) (streamed bool, single map[string]any, _ error) {
	single = make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return false, nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return false, nil, fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return false, nil, fmt.Errorf("json: read object value token: %w", err)
		}

		if delim, ok := valTok.(json.Delim); ok && delim == '[' {
			if err := streamArray(ctx, dec, emit); err != nil {
				return false, nil, err
			}
			if err := consumeDelim(dec, ']'); err != nil {
				return false, nil, err
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return true, nil, fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := skipValue(dec); err != nil {
					return true, nil, err
				}
			}
			return true, nil, nil
		}

		val, err := materializeValue(dec, valTok)
		if err != nil {
			return false, nil, err
		}
		single[key] = val
	}

	return false, single, nil
}

func consumeDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value token: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip object key: %w", err)
			}
			if err := skipValue(dec); err != nil {
				return err
			}
		}
		return consumeDelim(dec, '}')
	case '[':
		for dec.More() {
			if err := skipValue(dec); err != nil {
				return err
			}
		}
		return consumeDelim(dec, ']')
	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// materializeValue builds a Go value for the current JSON value given its
// first token. Only used on the single-root-object path, which is small.
func materializeValue(dec *json.Decoder, tok any) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch d {
	case '{':
		m := make(map[string]any)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested key: %w", err)
			}
			k, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("json: nested key not string (got %T)", kt)
			}
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested value token: %w", err)
			}
			v, err := materializeValue(dec, vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		if err := consumeDelim(dec, '}'); err != nil {
			return nil, err
		}
		return m, nil

	case '[':
		var arr []any
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested array token: %w", err)
			}
			v, err := materializeValue(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if err := consumeDelim(dec, ']'); err != nil {
			return nil, err
		}
		return arr, nil

	default:
		return nil, fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// flattenObject flattens nested objects into dot-joined keys. Arrays and
// scalars pass through untouched.
func flattenObject(prefix string, in map[string]any, out records.Record) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok {
			flattenObject(key, m, out)
			continue
		}
		out[key] = v
	}
}
