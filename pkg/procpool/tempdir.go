package procpool

import "os"

// tempDir resolves the directory used for a pool's default lock file
// when Config.LockFilePath is left empty.
func tempDir() string {
	return os.TempDir()
}
