package packageregistry

import (
	"encoding/json"

	"github.com/blang/semver/v4"
)

// HostCompatVersion is the compatibility version this fluxion build
// tolerates packages against, per §4.7 step 3 ("compatibility version
// satisfies the host's tolerance"). A package is accepted if its
// manifest's Package.CompatVersion has the same major version.
const HostCompatVersion = "1.0.0"

// Manifest is the package archive's manifest.json, per §6's schema.
type Manifest struct {
	Package ManifestPackage `json:"package"`
	Library ManifestLibrary `json:"library"`
	Tasks   []ManifestTask  `json:"tasks"`
	// ExecutionOrder is advisory: a pre-computed topological order the
	// original producer used. fluxion recomputes its own via
	// workflow.ExecutionLevels and does not trust this field for anything
	// but logging/diagnostics.
	ExecutionOrder []string `json:"execution_order"`
}

type ManifestPackage struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Description  string `json:"description"`
	ABIVersion   uint32 `json:"abi_version"`
	CompatVersion string `json:"cloacina_version"`
}

type ManifestLibrary struct {
	Filename     string   `json:"filename"`
	Symbols      []string `json:"symbols"`
	Architecture string   `json:"architecture"`
}

type ManifestTask struct {
	Index          uint32   `json:"index"`
	ID             string   `json:"id"`
	Dependencies   []string `json:"dependencies"`
	Description    string   `json:"description"`
	SourceLocation string   `json:"source_location"`
}

// ParseManifest decodes and structurally validates a manifest.json blob.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errInvalidArchive("malformed manifest.json: " + err.Error())
	}
	if m.Package.Name == "" {
		return nil, errInvalidArchive("manifest missing package.name")
	}
	if _, err := semver.Parse(m.Package.Version); err != nil {
		return nil, errInvalidArchive("manifest package.version is not valid semver: " + err.Error())
	}
	if len(m.Tasks) == 0 {
		return nil, errInvalidArchive("manifest declares no tasks")
	}
	return &m, nil
}

// CheckCompatVersion enforces §4.7's compatibility-version tolerance
// check: the manifest's declared compatibility version must share a major
// version with HostCompatVersion.
func CheckCompatVersion(m *Manifest) error {
	declared, err := semver.Parse(m.Package.CompatVersion)
	if err != nil {
		return errVersionIncompatible("manifest cloacina_version is not valid semver: " + err.Error())
	}
	host, err := semver.Parse(HostCompatVersion)
	if err != nil {
		return err
	}
	if declared.Major != host.Major {
		return errVersionIncompatible("package compat version " + declared.String() + " incompatible with host " + host.String())
	}
	return nil
}

// taskIDSet returns the set of task ids the manifest declares.
func (m *Manifest) taskIDSet() map[string]bool {
	set := make(map[string]bool, len(m.Tasks))
	for _, t := range m.Tasks {
		set[t.ID] = true
	}
	return set
}
