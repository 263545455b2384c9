// Package csv streams delimited-text content with a header row into raw
// records for the analytics engine.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"trafficlens/internal/config"
	"trafficlens/pkg/records"
)

// StreamRecords reads delimited text from src and sends one records.Record
// per well-formed data line to out. The header row defines the field list,
// which is reported through onHeader before any record is emitted. Headers
// not renamed through header_map are normalized to lowercase identifiers
// (see config.NormalizeName), so "Route ID" reads as "route_id" downstream.
//
// Options:
//   - comma: delimiter (default ","; pass "\t" for TSV)
//   - trim_space: trim cell whitespace (default true)
//   - lazy_quotes: tolerate bare quotes (default true; probing is lenient)
//   - encoding: source charset ("latin1", "windows-1252"; default UTF-8)
//   - header_map: optional original-header -> field-name renames
//
// Malformed lines are skipped and reported through onErr; only an unreadable
// header or an unknown encoding is terminal.
func StreamRecords(
	ctx context.Context,
	src io.Reader,
	opt config.Options,
	out chan<- records.Record,
	onHeader func(fields []string),
	onErr func(line int, err error),
) error {
	r, err := decodeReader(src, opt.String("encoding", ""))
	if err != nil {
		return err
	}

	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", true)
	cr.FieldsPerRecord = -1 // validated manually so bad lines can be skipped
	cr.ReuseRecord = true

	line := 0
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := readRec()
	if err != nil {
		return fmt.Errorf("csv: read header: %w", err)
	}

	fields := make([]string, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if mapped, ok := hm[h]; ok {
			h = mapped
		} else {
			h = config.NormalizeName(h)
		}
		fields[i] = h
	}
	if onHeader != nil {
		onHeader(fields)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}
		if len(rec) != len(fields) {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv: %d fields, want %d", len(rec), len(fields)))
			}
			continue
		}

		row := make(records.Record, len(fields))
		for i, name := range fields {
			v := rec[i]
			if trim {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				row[name] = nil
			} else {
				row[name] = v
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReadBatch collects a complete batch from src, bounded by maxRecords when
// positive. skipped reports how many malformed lines were discarded; dropped
// reports well-formed records beyond the cap, which are read to the end of
// the input and discarded so the caller can account for them.
func ReadBatch(ctx context.Context, src io.Reader, opt config.Options, maxRecords int) (batch records.Batch, skipped, dropped int, err error) {
	out := make(chan records.Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		errCh <- StreamRecords(ctx, src, opt,
			out,
			func(fields []string) { batch.Fields = fields },
			func(line int, err error) { skipped++ },
		)
	}()

	for rec := range out {
		if maxRecords > 0 && len(batch.Records) >= maxRecords {
			dropped++
			continue
		}
		batch.Records = append(batch.Records, rec)
	}

	if err := <-errCh; err != nil {
		return records.Batch{}, skipped, dropped, err
	}
	return batch, skipped, dropped, nil
}

// decodeReader wraps src with a charset decoder when the source is not UTF-8.
func decodeReader(src io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf8", "utf-8":
		return src, nil
	case "latin1", "iso-8859-1":
		return transform.NewReader(src, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(src, charmap.Windows1252.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("csv: unsupported encoding %q", encoding)
	}
}
