package gateway

import (
	"fmt"

	"github.com/bft-labs/sensorship/pkg/hdtp"
	"github.com/bft-labs/sensorship/pkg/log"
	"github.com/bft-labs/sensorship/pkg/template"
)

// Version information for the gateway module.
const (
	Version              = "1.0.0"
	MinCompatibleVersion = "1.0.0"
)

// ModuleVersions returns the versions of the modules the gateway is built from.
func ModuleVersions() map[string]string {
	return map[string]string{
		"gateway":  Version,
		"hdtp":     hdtp.Version,
		"template": template.Version,
		"log":      log.Version,
	}
}

// validateModuleVersions checks that all module versions are compatible.
func validateModuleVersions() error {
	modules := map[string]struct {
		version    string
		minVersion string
	}{
		"hdtp":     {hdtp.Version, hdtp.MinCompatibleVersion},
		"template": {template.Version, template.MinCompatibleVersion},
		"log":      {log.Version, log.MinCompatibleVersion},
	}

	for name, m := range modules {
		if !isVersionCompatible(m.version, m.minVersion) {
			return fmt.Errorf("module %s version %s is below minimum compatible version %s",
				name, m.version, m.minVersion)
		}
	}
	return nil
}

// isVersionCompatible reports whether version >= minVersion.
// Versions are "major.minor.patch".
func isVersionCompatible(version, minVersion string) bool {
	var vMajor, vMinor, vPatch int
	var mMajor, mMinor, mPatch int

	_, _ = fmt.Sscanf(version, "%d.%d.%d", &vMajor, &vMinor, &vPatch)
	_, _ = fmt.Sscanf(minVersion, "%d.%d.%d", &mMajor, &mMinor, &mPatch)

	if vMajor != mMajor {
		return vMajor > mMajor
	}
	if vMinor != mMinor {
		return vMinor > mMinor
	}
	return vPatch >= mPatch
}
