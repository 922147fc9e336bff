package core

import "errors"

// ErrNotFound is returned by store lookups when the requested key is
// absent. Mirrors the teacher's core.ErrNotFound sentinel used throughout
// storage and state code.
var ErrNotFound = errors.New("core: not found")
