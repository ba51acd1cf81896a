package boot

import (
	"github.com/wnxd/microboot/boot"
	"github.com/wnxd/microboot/filesystem"
	"github.com/wnxd/microboot/loader"
)

type fileManager struct {
	fs filesystem.FS
}

func (fm *fileManager) ctor(cfg boot.Config) {
	fm.fs = cfg.FS
	if fm.fs == nil {
		fm.fs = filesystem.NewMemFS()
	}
}

func (fm *fileManager) dtor() {
}

func (fm *fileManager) GetFS() filesystem.FS {
	return fm.fs
}

func (fm *fileManager) OpenImage(name string) (loader.Image, error) {
	f, err := fm.fs.Open(filesystem.Clean(name))
	if err != nil {
		return nil, err
	}
	return loader.NewImage(f), nil
}
