// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package version

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/io/basp"
	"go.uber.org/zap"
)

// Set with -ldflags "-X github.com/pingcap/tiactor/pkg/version.<name>=...".
var (
	ReleaseVersion = "None"
	BuildTS        = "None"
	GitHash        = "None"
	GitBranch      = "None"
	GoVersion      = "None"
)

// describe output of a commit after the tag, e.g. v0.3.0-12-g1234567.
var describeSuffix = regexp.MustCompile(`-[0-9]+-g[0-9a-f]{7,}(-dirty)?$`)

// Info describes the running binary.
type Info struct {
	Release     string `json:"release"`
	GitHash     string `json:"git_hash"`
	GitBranch   string `json:"git_branch"`
	BuildTime   string `json:"utc_build_time"`
	GoVersion   string `json:"go_version"`
	BASPVersion uint64 `json:"basp_version"`
}

// Current returns the build information of this binary.
func Current() Info {
	return Info{
		Release:     ReleaseVersion,
		GitHash:     GitHash,
		GitBranch:   GitBranch,
		BuildTime:   BuildTS,
		GoVersion:   GoVersion,
		BASPVersion: basp.Version,
	}
}

// Semver parses the release as a semantic version. It returns nil for
// builds without a tagged release.
func (i Info) Semver() *semver.Version {
	s := strings.TrimPrefix(describeSuffix.ReplaceAllLiteralString(i.Release, ""), "v")
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil
	}
	return v
}

// Fields returns i as zap fields.
func (i Info) Fields() []zap.Field {
	return []zap.Field{
		zap.String("release-version", i.Release),
		zap.String("git-hash", i.GitHash),
		zap.String("git-branch", i.GitBranch),
		zap.String("utc-build-time", i.BuildTime),
		zap.String("go-version", i.GoVersion),
		zap.Uint64("basp-version", i.BASPVersion),
	}
}

// String returns one "Key: value" line per field.
func (i Info) String() string {
	var b strings.Builder
	for _, kv := range [][2]string{
		{"Release Version", i.Release},
		{"Git Commit Hash", i.GitHash},
		{"Git Branch", i.GitBranch},
		{"UTC Build Time", i.BuildTime},
		{"Go Version", i.GoVersion},
		{"BASP Version", fmt.Sprint(i.BASPVersion)},
	} {
		fmt.Fprintf(&b, "%s: %s\n", kv[0], kv[1])
	}
	return b.String()
}

// JSON returns i as indented JSON.
func (i Info) JSON() string {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		// Only strings and integers, cannot fail.
		panic(err)
	}
	return string(data) + "\n"
}

// Log logs the build information of this binary.
func Log() {
	log.Info("Welcome to TiActor", Current().Fields()...)
}
