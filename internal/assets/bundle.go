package assets

import (
	"os"

	"github.com/emberlab/devgate/web"
)

// LoadBundle loads the UI from dir, or the embedded bundle when dir is
// empty.
func LoadBundle(dir string) (*Table, error) {
	if dir == "" {
		return Load(web.FS())
	}
	return Load(os.DirFS(dir))
}
