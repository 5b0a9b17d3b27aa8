// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jutsu

import (
	"errors"
	"io"
)

// ErrBodyTooLarge is returned when a page body exceeds maxPageSize.
var ErrBodyTooLarge = errors.New("response body too large")

// maxPageSize bounds a single listing or episode page.
const maxPageSize = 32 << 20

// limitReader returns a Reader that reads from r
// but fails with err once more than n bytes were requested past the limit.
func limitReader(r io.Reader, n int64, err error) io.Reader { return &limitedReader{r, n, err} }

type limitedReader struct {
	r   io.Reader
	n   int64 // bytes remaining
	err error // returned when n <= 0
}

func (l *limitedReader) Read(p []byte) (n int, err error) {
	if l.n <= 0 {
		return 0, l.err
	}
	if int64(len(p)) > l.n {
		p = p[0:l.n]
	}
	n, err = l.r.Read(p)
	l.n -= int64(n)
	return
}

// readPage reads a whole page body, failing with ErrBodyTooLarge past maxPageSize.
func readPage(r io.Reader) ([]byte, error) {
	return io.ReadAll(limitReader(r, maxPageSize+1, ErrBodyTooLarge))
}

// ProgressFunc receives the number of bytes just transferred.
type ProgressFunc func(n int64)

// progressReader reports every successful read to fn.
type progressReader struct {
	r  io.Reader
	fn ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.fn != nil {
		p.fn(int64(n))
	}
	return n, err
}
