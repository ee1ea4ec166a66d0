package broker

import (
	"errors"

	"github.com/kstaniek/go-chat-broker/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen     = errors.New("listen")
	ErrAccept     = errors.New("accept")
	ErrSlabFull   = errors.New("slab_full")
	ErrConnReset  = errors.New("conn_reset")
	ErrConnRead   = errors.New("conn_read")
	ErrConnWrite  = errors.New("conn_write")
	ErrDecode     = errors.New("decode")
	ErrContext    = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrConnRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrConnWrite
	case errors.Is(err, ErrAccept):
		return metrics.ErrAccept
	case errors.Is(err, ErrListen):
		return metrics.ErrListen
	case errors.Is(err, ErrContext):
		return metrics.ErrContext
	default:
		return "other"
	}
}
