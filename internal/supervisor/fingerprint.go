package supervisor

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Fingerprint returns "blake3:<hex>" of the file at path, or "" if it cannot
// be read. It identifies which version of a script produced a history entry.
func Fingerprint(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil))
}
