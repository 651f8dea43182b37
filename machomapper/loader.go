package machomapper

import (
	"os"
	"path/filepath"

	"github.com/ius/corebridge/abi"
)

// DirectoryLoader resolves a library name against a search path list the
// way a host harness would configure a sysroot or a bundled framework
// directory; it is the default, disk-backed ImageLoader.
type DirectoryLoader struct {
	SearchPaths []string
}

func (d DirectoryLoader) Load(name string) ([]byte, error) {
	if filepath.IsAbs(name) {
		if data, err := os.ReadFile(name); err == nil {
			return data, nil
		}
	}
	for _, dir := range d.SearchPaths {
		candidate := filepath.Join(dir, filepath.Base(name))
		data, err := os.ReadFile(candidate)
		if err == nil {
			return data, nil
		}
	}
	return nil, abi.Newf(abi.Unsupported, "could not locate Mach-O image %q in any search path", name)
}
