package render

import "errors"

var errShowPanicked = errors.New("show notification panicked")
