package transferproto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// UniquePath returns a path in dir that does not currently exist, derived
// from filename. If filename is already free it is returned unchanged. A
// first collision inserts "_1" before the extension; if that is also taken
// (e.g. a concurrent transfer from the same sender landed between the two
// stat calls) the stem is suffixed with the current Unix nanosecond
// timestamp instead of continuing to increment, since two transfers racing
// on the same "_1" name are rare enough that a monotonic counter isn't
// worth the extra stat round trip (spec §6.6, grounded on
// original_source/src/core/utils.rs::get_unique_path). An empty or
// path-only filename falls back to "unknown_file" so a hostile or
// malformed header never produces an empty destination path.
func UniquePath(dir, filename string) (string, error) {
	safe := filepath.Base(filename)
	if safe == "" || safe == "." || safe == string(filepath.Separator) {
		safe = "unknown_file"
	}

	candidate := filepath.Join(dir, safe)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	} else if err != nil {
		return "", fmt.Errorf("transferproto: cannot stat %s: %w", candidate, err)
	}

	ext := filepath.Ext(safe)
	stem := strings.TrimSuffix(safe, ext)

	tryOne := filepath.Join(dir, fmt.Sprintf("%s_1%s", stem, ext))
	if _, err := os.Stat(tryOne); os.IsNotExist(err) {
		return tryOne, nil
	} else if err != nil {
		return "", fmt.Errorf("transferproto: cannot stat %s: %w", tryOne, err)
	}

	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, time.Now().UnixNano(), ext)), nil
}
