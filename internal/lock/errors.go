package lock

import "errors"

// ErrLocked — блокировка уже захвачена другим воркером.
var ErrLocked = errors.New("arch build is locked by another worker")
