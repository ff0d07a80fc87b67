package tsmap

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is wrapped by every configuration error raised before
	// fitting starts.
	ErrConfig = errors.New("tsmap: invalid configuration")
	// ErrKernelTooLarge is returned when the kernel footprint does not fit
	// inside the map.
	ErrKernelTooLarge = fmt.Errorf("%w: kernel footprint larger than map", ErrConfig)
)

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
