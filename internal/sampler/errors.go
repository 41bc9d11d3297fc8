package sampler

import "codeberg.org/mutker/loadlogger/internal/errors"

const (
	ErrSourceRead  = errors.ErrorCode("sampler_source_read_failed")
	ErrSourceRange = errors.ErrorCode("sampler_source_empty_range")
)
