package transport

import (
	"path/filepath"
	"strings"
)

// ValidateDevice checks that a device name is usable as an endpoint.
func ValidateDevice(device string) error {
	if strings.TrimSpace(device) == "" {
		return &ValidationError{Field: "device", Value: device, Reason: "must not be empty"}
	}

	return nil
}

// ValidateRead checks the arguments of a Read call.
func ValidateRead(device string, size int, offset int) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}
	if size <= 0 {
		return &ValidationError{Field: "size", Value: size, Reason: "must be positive"}
	}
	if offset < 0 {
		return &ValidationError{Field: "offset", Value: offset, Reason: "must not be negative"}
	}

	return nil
}

// ValidateWrite checks the arguments of a BlindWrite call.
// Hardware registers are 32-bit-word addressed, so both offset and length must be word aligned.
func ValidateWrite(device string, data []byte, offset int) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}
	if data == nil {
		return &ValidationError{Field: "data", Value: nil, Reason: "must supply binary data"}
	}
	if len(data)%WordSize != 0 {
		return &ValidationError{Field: "size", Value: len(data), Reason: "must write 32-bit-bounded words"}
	}
	if offset < 0 {
		return &ValidationError{Field: "offset", Value: offset, Reason: "must not be negative"}
	}
	if offset%WordSize != 0 {
		return &ValidationError{Field: "offset", Value: offset, Reason: "must write 32-bit-bounded words"}
	}

	return nil
}

// ValidateImagePath checks that path names a reconfiguration image.
func ValidateImagePath(path string) error {
	if path == "" {
		return &ValidationError{Field: "image path", Value: path, Reason: "must not be empty"}
	}
	if filepath.Ext(path) != ImageExtension {
		return &ValidationError{Field: "image path", Value: path, Reason: "must have " + ImageExtension + " extension"}
	}

	return nil
}
