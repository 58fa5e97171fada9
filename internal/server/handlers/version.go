package handlers

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/floodgate/floodgate/internal/appid"
)

// Build metadata injected from main via SetVersionInfo.
var (
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
	appIdentity  *appidentity.Identity
)

// reportedModules are the storage and transport modules surfaced by /version.
var reportedModules = map[string]string{
	"github.com/go-chi/chi/v5":           "chi",
	"github.com/redis/go-redis/v9":       "go-redis",
	"github.com/tursodatabase/go-libsql": "go-libsql",
	"github.com/jackc/pgx/v5":            "pgx",
	"github.com/robfig/cron/v3":          "cron",
}

var (
	moduleVersionsOnce sync.Once
	moduleVersions     map[string]string
)

// SetVersionInfo sets the build metadata reported by VersionHandler.
func SetVersionInfo(version, commit, buildDate string) {
	AppVersion = version
	AppCommit = commit
	AppBuildDate = buildDate
}

// SetAppIdentity sets the identity reported by VersionHandler.
func SetAppIdentity(identity *appidentity.Identity) {
	appIdentity = identity
}

// VersionResponse is the /version payload.
type VersionResponse struct {
	App          AppInfo           `json:"app"`
	Dependencies map[string]string `json:"dependencies"`
	Runtime      RuntimeInfo       `json:"runtime"`
}

// AppInfo contains application version details.
type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// RuntimeInfo contains runtime environment information.
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// VersionHandler reports build, dependency and runtime information.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	identity := appIdentity
	if identity == nil {
		identity = appid.Default()
	}

	deps := map[string]string{}
	for name, version := range buildModuleVersions() {
		deps[name] = version
	}
	version := crucible.GetVersion()
	deps["gofulmen"] = version.Gofulmen
	deps["crucible"] = version.Crucible

	writeJSON(w, http.StatusOK, VersionResponse{
		App: AppInfo{
			Name:      identity.BinaryName,
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Dependencies: deps,
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	})
}

// buildModuleVersions reads the linked module versions once. Test binaries
// carry no dependency list, so the map may be empty.
func buildModuleVersions() map[string]string {
	moduleVersionsOnce.Do(func() {
		moduleVersions = map[string]string{}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, dep := range info.Deps {
			name := reportedModules[dep.Path]
			if name == "" {
				continue
			}
			version := dep.Version
			if dep.Replace != nil {
				version = dep.Replace.Version
			}
			moduleVersions[name] = version
		}
	})
	return moduleVersions
}
