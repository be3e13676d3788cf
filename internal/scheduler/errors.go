package scheduler

import "errors"

// ErrShutdownTimeout is returned by Shutdown when the scheduler goroutine
// does not exit within the given deadline.
var ErrShutdownTimeout = errors.New("scheduler: timed out waiting for shutdown")
