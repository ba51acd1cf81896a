package filesystem

import (
	"io/fs"
	"strings"
)

// FS is the boot medium modules and images are read from.
type FS interface {
	fs.FS
	fs.StatFS
}

// Clean strips the leading slashes boot command lines commonly carry.
func Clean(name string) string {
	name = strings.TrimLeft(name, "/")
	if name == "" {
		return "."
	}
	return name
}
