package boot

import (
	"github.com/wnxd/microboot/filesystem"
	"github.com/wnxd/microboot/loader"
)

type FileManager interface {
	GetFS() filesystem.FS
	OpenImage(name string) (loader.Image, error)
}
