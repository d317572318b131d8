package voxmap

import "errors"

var (
	// ErrDegenerateRay is returned when a ray starts and ends in the same voxel.
	ErrDegenerateRay = errors.New("degenerate ray")
	// ErrKeyOutOfRange is returned when a coordinate quantizes outside the key range.
	ErrKeyOutOfRange = errors.New("voxel key out of range")
	// ErrInvalidPoint is returned for NaN or infinite coordinates.
	ErrInvalidPoint = errors.New("invalid point")
	// ErrMapInternal wraps a failure raised while a map lock was held.
	ErrMapInternal = errors.New("occupancy map internal failure")
	// ErrInvalidFrame is returned when a frame's dimensions and labels disagree.
	ErrInvalidFrame = errors.New("invalid frame")

	// Input rejections. The frame is dropped without touching the map.
	ErrRateLimited = errors.New("frame rate limited")
	ErrNoMapFrame  = errors.New("no map frame established")
	ErrNoTransform = errors.New("no transform to map frame")

	ErrEmptyPayload  = errors.New("empty payload")
	ErrUnknownFormat = errors.New("unknown payload format")
)

// IsRejection reports whether err means a frame was skipped before any
// map work happened.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNoMapFrame) ||
		errors.Is(err, ErrNoTransform)
}
