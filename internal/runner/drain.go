package runner

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxCapture bounds the bytes kept per stream. Anything beyond is still
// read and discarded so the child never blocks on a full pipe.
const maxCapture = 32 << 20

// Drainer reads stdout and stderr concurrently from the moment it is
// created. It must exist before the child starts writing.
type Drainer struct {
	stdout, stderr io.ReadCloser
	out, err       capped
	done           chan struct{}
	closeOnce      sync.Once
}

func NewDrainer(stdout, stderr io.ReadCloser) *Drainer {
	d := &Drainer{
		stdout: stdout,
		stderr: stderr,
		out:    capped{limit: maxCapture},
		err:    capped{limit: maxCapture},
		done:   make(chan struct{}),
	}
	var g errgroup.Group
	g.Go(func() error { return drain(&d.out, stdout) })
	g.Go(func() error { return drain(&d.err, stderr) })
	go func() {
		_ = g.Wait()
		close(d.done)
	}()
	return d
}

func drain(w io.Writer, r io.Reader) error {
	_, err := io.Copy(w, r)
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// Join waits up to timeout for both streams to reach EOF. On expiry the
// read ends are closed, the readers return and Join reports false.
func (d *Drainer) Join(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-d.done:
		d.close()
		return true
	case <-t.C:
		d.Cancel()
		return false
	}
}

// Cancel closes the read ends immediately and waits for the readers.
func (d *Drainer) Cancel() {
	d.close()
	<-d.done
}

func (d *Drainer) close() {
	d.closeOnce.Do(func() {
		_ = d.stdout.Close()
		_ = d.stderr.Close()
	})
}

// Stdout is valid after Join or Cancel returned.
func (d *Drainer) Stdout() []byte {
	return d.out.Bytes()
}

// Stderr is valid after Join or Cancel returned.
func (d *Drainer) Stderr() []byte {
	return d.err.Bytes()
}

type capped struct {
	buf   bytes.Buffer
	limit int
}

func (c *capped) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) <= room {
			c.buf.Write(p)
		} else {
			c.buf.Write(p[:room])
		}
	}
	return len(p), nil
}

func (c *capped) Bytes() []byte {
	return c.buf.Bytes()
}
