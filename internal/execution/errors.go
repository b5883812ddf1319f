package execution

import "errors"

var (
	ErrInvalidID    = errors.New("invalid snippet id")
	ErrStaging      = errors.New("staging failed")
	ErrBuild        = errors.New("image build failed")
	ErrStart        = errors.New("instance start failed")
	ErrStream       = errors.New("log stream failed")
	ErrNotRunning   = errors.New("execution not running")
	ErrUpdateQueued = errors.New("execution is still building; update queued")

	// errGone means the entry was torn down between lookup and update.
	errGone = errors.New("execution torn down")
)
