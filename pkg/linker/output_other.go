//go:build !unix

package linker

import (
	"os"
)

func WriteOutputFile(path string, data []byte, exec bool) error {
	mode := os.FileMode(0666)
	if exec {
		mode = 0777
	}
	return os.WriteFile(path, data, mode)
}
