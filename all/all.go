// Package all registers every origin scanner via blank imports.
//
// Import this package to enable scanning all supported origin kinds:
//
//	import _ "github.com/git-pkgs/aptsync/all"
package all

import (
	_ "github.com/git-pkgs/aptsync/internal/apt"
	_ "github.com/git-pkgs/aptsync/internal/obs"
)
