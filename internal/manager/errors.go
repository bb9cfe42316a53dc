package manager

import "errors"

var (
	// ErrUnknownTask is returned by any single-task operation given an id
	// not present in the registry.
	ErrUnknownTask = errors.New("manager: unknown task id")

	// ErrInvalidTransition is returned when an operation's requested
	// transition does not appear as an arrow in the task state machine.
	ErrInvalidTransition = errors.New("manager: invalid state transition")

	// ErrPauseUnsupported is returned by Pause for a task whose downloader
	// kind does not implement resumable pausing (HLS, YouTube-like).
	ErrPauseUnsupported = errors.New("manager: this source does not support pausing")

	// ErrInvalidURL is returned by AddTask for a syntactically invalid URL.
	ErrInvalidURL = errors.New("manager: invalid url")
)
