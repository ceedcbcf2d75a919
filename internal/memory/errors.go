package memory

import "errors"

// ErrInvalidArgument is returned for malformed filters, unsupported
// aggregation fields, limits over the cap, unparseable condition strings,
// and unknown discussion references. It is always raised before any
// mutating or expensive read executes.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrNoSession is returned by operations that need a live session when
// none has been opened.
var ErrNoSession = errors.New("no open session")
