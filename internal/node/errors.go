package node

import (
	"errors"
	"fmt"
)

// Error categories. Every specific error below wraps exactly one of them,
// so callers can branch on the category with errors.Is:
//
//	if errors.Is(err, node.ErrConflict) {
//	    // 409
//	}
var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("node: validation failed")

	// ErrNotFound marks a missing node or sub-device.
	ErrNotFound = errors.New("node: not found")

	// ErrConflict marks an invariant violation.
	ErrConflict = errors.New("node: conflict")
)

// Domain errors for the node package.
var (
	// ErrNodeNotFound is returned when a node ID does not exist.
	ErrNodeNotFound = categorised(ErrNotFound, "node does not exist")

	// ErrNodeExists is returned when creating a node with an ID that already exists.
	ErrNodeExists = categorised(ErrConflict, "node already exists")

	// ErrActiveNodeExists is returned when an account already has an active node.
	ErrActiveNodeExists = categorised(ErrConflict, "account already has an active node")

	// ErrSubDeviceExists is returned when adding a sub-device whose name is taken.
	ErrSubDeviceExists = categorised(ErrConflict, "sub-device already exists")

	// ErrSubDeviceNotFound is returned when a referenced sub-device is absent.
	// It is both a validation and a not-found failure.
	ErrSubDeviceNotFound = fmt.Errorf("%w: %w: sub-device does not exist", ErrValidation, ErrNotFound)

	// ErrInvalidNode is returned when node field validation fails.
	ErrInvalidNode = categorised(ErrValidation, "invalid node")

	// ErrInvalidSubDevice is returned when a sub-device name is empty.
	ErrInvalidSubDevice = categorised(ErrValidation, "invalid sub-device")

	// ErrInvalidStatus is returned for negative status values or a deleted status filter.
	ErrInvalidStatus = categorised(ErrValidation, "invalid status")

	// ErrInvalidPage is returned when page or size is out of range.
	ErrInvalidPage = categorised(ErrValidation, "invalid page")
)

func categorised(category error, msg string) error {
	return fmt.Errorf("%w: %s", category, msg)
}
