package supervisor

// Terminator ends a spawned process together with everything it spawned. Terminate asks
// politely, Kill forces. Both must treat an already exited process as success.
//
// On POSIX systems the process tree is the process group the child was started in. On
// Windows the tree is enumerated by taskkill.
type Terminator interface {
	Terminate(pid int) error
	Kill(pid int) error
}

// DefaultTerminator returns the terminator of the current platform.
func DefaultTerminator() Terminator {
	return newPlatformTerminator()
}
