package domain

import "errors"

var (
	ErrUnknownClassification = errors.New("unrecognized image classification")
	ErrHistoryClosed         = errors.New("conversation history closed")
	ErrTurnOrder             = errors.New("conversation turns must alternate starting with assistant")
	ErrEmptyTurn             = errors.New("conversation turn text is empty")
	ErrEmptyImage            = errors.New("image is empty")
)
