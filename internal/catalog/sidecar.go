package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"rompatch/internal/logging"
)

// sidecarExts are the sidecar file extensions probed in order; the first
// parsable one wins.
var sidecarExts = []string{".yaml", ".yml", ".json"}

// SidecarMetadata loads the metadata sidecar sitting next to patchPath:
// a file with the same stem and a .yaml, .yml, or .json extension. It
// reports false when no sidecar exists or none parses; an unparsable
// sidecar is logged and skipped, never fatal.
func SidecarMetadata(patchPath string) (Metadata, bool) {
	base := strings.TrimSuffix(patchPath, filepath.Ext(patchPath))

	for _, ext := range sidecarExts {
		path := base + ext
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var meta Metadata
		if ext == ".json" {
			err = json.Unmarshal(data, &meta)
		} else {
			err = yaml.Unmarshal(data, &meta)
		}
		if err != nil {
			logging.Warn("unparsable metadata sidecar", "path", path, "error", err)
			continue
		}
		return meta, true
	}
	return Metadata{}, false
}
