package configtree

import "errors"

var errEmptyPath = errors.New("configtree: empty path")
