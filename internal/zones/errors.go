package zones

import "errors"

var errInvalidIPv4 = errors.New("zones: invalid IPv4 address")
