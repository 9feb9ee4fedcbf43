/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package buildinfo reports the guardian version.
package buildinfo

import (
	"regexp"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const shortName = "guardian"

const moduleName = "github.com/complianceguardian/" + shortName

const defaultVersion = "v0.0.0-dev"

// Version may be set at link time: -ldflags "-X github.com/complianceguardian/guardian/internal/buildinfo.Version=v1.2.3".
var Version string

var version string
var versionOnce sync.Once

// GetVersion returns the link-time version, or the module version from the build info.
func GetVersion() string {
	versionOnce.Do(func() {
		version = Version
		if version == "" {
			if buildInfo, ok := debug.ReadBuildInfo(); ok {
				version = extractVersion(buildInfo, moduleName)
			}
		}
		if version == "" {
			version = defaultVersion
		}
	})
	return version
}

// UserAgent returns the User-Agent used by guardian HTTP clients.
func UserAgent() string {
	return shortName + "/" + GetVersion()
}

// NewInfoGauge returns a "guardian_build_info" gauge set to 1 with the version label.
func NewInfoGauge() prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "guardian_build_info",
		Help:        "Build information about guardian.",
		ConstLabels: prometheus.Labels{"version": GetVersion()},
	})
	g.Set(1)
	return g
}

// extractVersion returns the version of the main module or of a dependency named modName or modName/vX.
// "(devel)" is reported by binaries built from a local checkout and is not a version.
func extractVersion(buildInfo *debug.BuildInfo, modName string) string {
	if buildInfo == nil {
		return ""
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(modName) + `(/v[0-9]+)?$`)
	if re.MatchString(buildInfo.Main.Path) && buildInfo.Main.Version != "(devel)" {
		return buildInfo.Main.Version
	}
	for _, dep := range buildInfo.Deps {
		if re.MatchString(dep.Path) {
			return dep.Version
		}
	}
	return ""
}
