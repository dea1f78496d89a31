package host

import "errors"

var errNoLoader = errors.New("host: descriptor has no loader")
