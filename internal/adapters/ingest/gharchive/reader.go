package gharchive

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"io"

	perr "ghstrata/internal/platform/errors"
	"ghstrata/internal/platform/logger"
)

// push events of huge monorepos produce lines of several MB
const maxLine = 32 << 20

// Reader decodes one envelope per NDJSON line of a gzip hour file
type Reader struct {
	src io.ReadCloser
	gz  *gzip.Reader
	sc  *bufio.Scanner
	err error

	events, malformed int
	bytes             int64
}

// NewReader takes ownership of r. A body that is not gzip (truncated
// download, html error page) is reported as transient
func NewReader(r io.ReadCloser) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		_ = r.Close()
		return nil, perr.Transient(err, "gharchive: open gzip")
	}
	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 0, 512<<10), maxLine)
	return &Reader{src: r, gz: gz, sc: sc}, nil
}

// Next returns the next decodable envelope or io.EOF. Lines that are not
// JSON are counted and skipped
func (rd *Reader) Next() (EventEnvelope, error) {
	for rd.err == nil {
		if !rd.sc.Scan() {
			rd.err = io.EOF
			if err := rd.sc.Err(); err != nil {
				rd.err = perr.Transient(err, "gharchive: read stream")
			}
			break
		}
		line := rd.sc.Bytes()
		rd.bytes += int64(len(line)) + 1
		if len(line) == 0 {
			continue
		}

		raw := append([]byte(nil), line...)
		var env EventEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			rd.malformed++
			if rd.malformed == 1 {
				logger.Named("gharchive").Debug().Err(err).Int("bytes", len(raw)).Msg("gharchive: skipping malformed line")
			}
			continue
		}
		env.Raw = raw
		rd.events++
		return env, nil
	}
	return EventEnvelope{}, rd.err
}

// Close closes the gzip stream and the underlying body
func (rd *Reader) Close() error {
	gerr := rd.gz.Close()
	if err := rd.src.Close(); err != nil {
		return err
	}
	return gerr
}

// Stats returns decoded envelopes, skipped lines and uncompressed bytes so far
func (rd *Reader) Stats() (events, malformed int, bytes int64) {
	return rd.events, rd.malformed, rd.bytes
}
