//go:build !linux

package listener

func setTransparent(network string, fd uintptr) error {
	return ErrTransparentUnsupported
}
