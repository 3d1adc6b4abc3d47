//go:build !linux

package usb

// OpenFunctionFS 非Linux平台没有FunctionFS
func OpenFunctionFS(dir string) (EndpointHAL, error) {
	return nil, ErrUnsupported
}
