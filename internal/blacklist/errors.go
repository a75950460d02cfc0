package blacklist

import "errors"

// ErrEmptyTag is returned when a toggle is requested for a blank tag.
var ErrEmptyTag = errors.New("empty tag")
