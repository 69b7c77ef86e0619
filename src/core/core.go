// Package core contains the shared data model of the cache engine: content
// hashes, fingerprints, observed path sets and configuration.
package core

import (
	"os"

	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("core")

// DirPermissions are the default permission bits we apply to directories.
const DirPermissions = os.ModeDir | 0775
