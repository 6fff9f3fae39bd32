// Package archive walks gzip-compressed tar streams entry by entry.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
)

// ErrStop may be returned by a WalkFunc to end the walk early without an error
var ErrStop = errors.New("stop walk")

// WalkFunc is called for each regular file in the archive. body is only valid until
// the callback returns.
type WalkFunc func(hdr *tar.Header, body io.Reader) error

// OpenError reports that the stream is not a readable gzip archive
type OpenError struct {
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open gzip stream: %v", e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Walk reads r as a tar.gz archive and calls fn for every regular file, in archive
// order. Directories and other non-regular entries are skipped. The first error from
// fn ends the walk and is returned as is.
func Walk(r io.Reader, fn WalkFunc) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return &OpenError{Err: err}
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		if err := fn(hdr, tr); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}
