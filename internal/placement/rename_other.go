//go:build !linux

package placement

func renameNoReplace(src, dst string) (string, error) {
	return linkRename(src, dst)
}
