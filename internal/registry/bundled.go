package registry

import (
	_ "embed"
)

//go:embed bundled/tools.json
var bundledManifest []byte

// BundledManifest returns the manifest shipped inside the binary.
func BundledManifest() []byte {
	return append([]byte(nil), bundledManifest...)
}
