//go:build darwin || linux

package callframe

import "runtime"

// libcPath returns the platform's default libc shared object path, used
// only by tests to obtain a well-known function address to dispatch
// against.
func libcPath() string {
	if runtime.GOOS == "darwin" {
		return "/usr/lib/libSystem.B.dylib"
	}
	return "libc.so.6"
}
