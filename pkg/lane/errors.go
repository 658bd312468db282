package lane

import "errors"

var (
	ERR_DUPLICATE_SEQ   error = errors.New("Sequence number already in flight")
	ERR_LOST_COMPLETION error = errors.New("Completion never arrived")
)
