package nodeobject

import "errors"

var ErrInvalidHashLength = errors.New("nodeobject: invalid hash length")
