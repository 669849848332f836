package core

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/databacker/mysql-s3-backup/pkg/compression"
)

// errPeerAborted is what a stage sees on its pipe when the stage on the other
// side has given up.
var errPeerAborted = errors.New("neighbouring stage aborted")

// watchedReader records whether a read failed because the writing stage aborted.
type watchedReader struct {
	r       io.Reader
	aborted atomic.Bool
}

func (w *watchedReader) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if err != nil && errors.Is(err, errPeerAborted) {
		w.aborted.Store(true)
	}
	return n, err
}

// watchedWriter records whether a write failed because the reading stage aborted.
type watchedWriter struct {
	w       io.Writer
	aborted atomic.Bool
}

func (w *watchedWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if err != nil && errors.Is(err, errPeerAborted) {
		w.aborted.Store(true)
	}
	return n, err
}

// closeOutput ends the stream a stage produces. On failure the reader gets
// errPeerAborted instead of a clean EOF, so a partial stream is never taken as
// complete.
func closeOutput(pw *io.PipeWriter, err error) {
	if err != nil {
		_ = pw.CloseWithError(errPeerAborted)
		return
	}
	_ = pw.Close()
}

// closeInput stops the stage feeding a reader. Further writes by that stage
// fail with errPeerAborted.
func closeInput(pr *io.PipeReader, err error) {
	if err != nil {
		_ = pr.CloseWithError(errPeerAborted)
		return
	}
	_ = pr.Close()
}

// compress copies src into dst through c. The compressor is closed only when
// the whole input was read, so a failed stream never gets a valid trailer.
func compress(c compression.Compressor, dst io.Writer, src io.Reader) error {
	cw, err := c.Compress(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(cw, src); err != nil {
		return err
	}
	return cw.Close()
}
