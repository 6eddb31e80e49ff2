//go:build !linux
// +build !linux

package ferrule

// newKernelTransport reports the platform gap (Stub). Sessions on non-Linux
// platforms must be given an explicit transport, typically a MemTransport.
func newKernelTransport(netnsRef string) (Transport, error) {
	return nil, ErrUnsupportedPlatform
}
