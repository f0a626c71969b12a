//go:build !darwin && !linux

package fsguard

func detectType(string) (string, error) {
	return "", errUnsupported
}
