package ondemand

import "errors"

// Common decoder errors
var (
	ErrSeekFailed        = errors.New("seek failed")
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	ErrInvalidChannel    = errors.New("channel out of range")
	ErrInvalidRange      = errors.New("invalid sample range")
	ErrInvalidStream     = errors.New("invalid stream index")
	ErrDecoderClosed     = errors.New("decoder is closed")
)
