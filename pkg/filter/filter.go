// Package filter defines the composition contract for the
// compression/encryption stages layered over a super-block's bytes.
// Concrete filter bodies (gzip, bz2, lz4, zstd, AES) are out of scope for
// this core; only the Reader/Writer composition seam lives here.
package filter

import "io"

// Stage wraps a reader or writer with one transformation (decompression,
// decryption, or their inverses). A Chain composes stages in order.
type Stage interface {
	WrapReader(r io.Reader) (io.Reader, error)
	WrapWriter(w io.Writer) (io.WriteCloser, error)
}

// Chain applies a sequence of Stage, outermost first, to a stream.
type Chain []Stage

// WrapReader applies every stage in order, each wrapping the previous
// reader.
func (c Chain) WrapReader(r io.Reader) (io.Reader, error) {
	var err error
	for _, s := range c {
		r, err = s.WrapReader(r)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// WrapWriter applies every stage in order. Closing the returned writer
// closes every stage it wrapped, outermost first.
func (c Chain) WrapWriter(w io.Writer) (io.WriteCloser, error) {
	closers := make([]io.Closer, 0, len(c))
	cur := io.Writer(w)
	for _, s := range c {
		wc, err := s.WrapWriter(cur)
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i].Close()
			}
			return nil, err
		}
		closers = append(closers, wc)
		cur = wc
	}
	return &chainWriter{w: cur, closers: closers}, nil
}

type chainWriter struct {
	w       io.Writer
	closers []io.Closer
}

func (cw *chainWriter) Write(p []byte) (int, error) { return cw.w.Write(p) }

func (cw *chainWriter) Close() error {
	var firstErr error
	for i := len(cw.closers) - 1; i >= 0; i-- {
		if err := cw.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// identityStage is a no-op Stage: it implements the interface but
// performs no transformation.
type identityStage struct{}

func (identityStage) WrapReader(r io.Reader) (io.Reader, error) { return r, nil }

func (identityStage) WrapWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Identity returns a Stage that passes bytes through unchanged. Used by
// tests and by callers with no compression or encryption configured.
func Identity() Stage { return identityStage{} }
