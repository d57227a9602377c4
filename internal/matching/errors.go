package matching

import "errors"

var ErrInvalidArgs = errors.New("matching: invalid arguments")
