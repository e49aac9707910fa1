package keeps

import "errors"

var (
	ErrKeepNotFound  = errors.New("keep not found")
	ErrNotAuthor     = errors.New("only the author can modify this keep")
	ErrUnknownType   = errors.New("unknown keep type")
	ErrInvalidCursor = errors.New("invalid pagination cursor")
)
