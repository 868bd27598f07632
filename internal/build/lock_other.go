//go:build !unix

package build

// lockRoot is a no-op where flock is unavailable; install roots are still
// unique per node within one process.
func lockRoot(dir string) (unlock func(), err error) {
	return func() {}, nil
}
