package main

import (
	"errors"
)

var (
	ERR_BAD_INPUT           error = errors.New("Can't open input")
	ERR_EMPTY_FOLDER        error = errors.New("No images in folder")
	ERR_UNKNOWN_DEVICE      error = errors.New("Unknown device")
	ERR_INTERRUPTED_BY_USER error = errors.New("Interrupted by user")
)
