package relay

import (
	"github.com/pkg/errors"
)

// ErrInvalidConfig is returned by NewEndpoint when a Config field violates
// an invariant (e.g. a zero buffer size). Construction-time failures are the
// only place this package returns an `error`; per-packet paths stay
// counter-driven (see Endpoint.Counters) because they must remain
// allocation-free and non-blocking.
var ErrInvalidConfig = errors.New("relay: invalid config")

func configError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}
