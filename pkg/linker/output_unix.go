//go:build unix

package linker

import (
	"os"

	"golang.org/x/sys/unix"
)

// WriteOutputFile replaces path with data. Executables and shared
// objects get the execute bits the umask allows.
func WriteOutputFile(path string, data []byte, exec bool) error {
	os.Remove(path)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if exec {
		mask := unix.Umask(0)
		unix.Umask(mask)
		if err := unix.Fchmod(int(f.Fd()), uint32(0777&^mask)); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
