package broker

import (
	"fmt"

	"github.com/kstaniek/go-chat-broker/internal/metrics"
)

// startWriter launches the goroutine that drains c's outbound queue onto the
// socket. Blocking on an empty channel is this repo's realization of the
// spec's "write ∈ interest_set ⟺ send_queue non-empty" invariant: the
// goroutine has no work (and does no writes) exactly when the queue is
// empty, and resumes the instant a frame is enqueued.
func (w *Worker) startWriter(c *Connection) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case frame := <-c.sendCh:
				if _, err := c.Conn.Write(frame); err != nil {
					wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
					metrics.IncError(mapErrToMetric(wrap))
					c.Reset()
					return
				}
			case <-c.Closed():
				return
			}
		}
	}()
}
