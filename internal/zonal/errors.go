package zonal

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
)

// ErrNoIntersection is recorded when sampling returns no pixels at all: the
// county does not overlap the raster or lies entirely in excluded cells.
var ErrNoIntersection = eris.New("zonal: county does not intersect raster")

// SamplingError wraps any failure raised while sampling one county,
// including a panic in the sampler and a per-county timeout.
type SamplingError struct {
	FIPS string
	Err  error
}

func (e *SamplingError) Error() string {
	return "zonal: sample county " + e.FIPS + ": " + e.Err.Error()
}

func (e *SamplingError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a sampling failure caused by the
// per-county deadline.
func IsTimeout(err error) bool {
	var se *SamplingError
	return errors.As(err, &se) && errors.Is(se.Err, context.DeadlineExceeded)
}
