//go:build !linux

package platform

import "errors"

const mmapSupported = false

var errMmapUnsupported = errors.New("platform: executable memory mapping is not implemented on this GOOS")

func MmapCodeSegment(size int) ([]byte, error) { return nil, errMmapUnsupported }

func MunmapCodeSegment(code []byte) error { return errMmapUnsupported }

func RemapCodeSegment(code []byte, size int) ([]byte, error) { return nil, errMmapUnsupported }
