package address

import "github.com/pkg/errors"

// ErrOverflow is the error returned when address arithmetic would move an
// offset outside the legal offsets of its space.
var ErrOverflow error = errors.New("address overflow")

// ErrDuplicateName is the error returned when a space name is already in use.
var ErrDuplicateName error = errors.New("duplicate address space name")
