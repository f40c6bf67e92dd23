package util

import (
	"io"
	"log"
	"os"
	"reflect"
)

// CloseWithErr closes a resource and logs any error.
func CloseWithErr(closer io.Closer, name string) {
	if closer == nil {
		return
	}
	val := reflect.ValueOf(closer)
	if val.Kind() == reflect.Ptr && val.IsNil() {
		return
	}
	if err := closer.Close(); err != nil {
		if name == "" {
			log.Printf("close error: %v", err)
			return
		}
		log.Printf("close %s: %v", name, err)
	}
}

// RemoveFiles deletes every path that exists and returns the first failure.
// Missing files are not an error.
func RemoveFiles(paths ...string) error {
	var first error
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}
