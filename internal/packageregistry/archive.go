package packageregistry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"strings"
)

// gzipMagic is the three-byte gzip header fluxion uses to detect an
// archive vs a raw library per §4.7 step 1.
var gzipMagic = []byte{0x1f, 0x8b, 0x08}

// IsGzipArchive reports whether data begins with the gzip magic bytes.
func IsGzipArchive(data []byte) bool {
	return len(data) >= len(gzipMagic) && bytes.Equal(data[:len(gzipMagic)], gzipMagic)
}

// extractedArchive holds the two payloads register_workflow needs out of
// a package tarball: the manifest and the dynamic-library bytes.
type extractedArchive struct {
	manifestJSON    []byte
	libraryBytes    []byte
	libraryFilename string
}

// extractArchive un-gzips and un-tars data, per §4.7's "gzip-compressed
// tar containing manifest.json plus a dynamic-library file" layout.
// Raw-library registration (non-gzip input) is refused here — §4.7 step 1
// names it a future extension, not part of this core.
func extractArchive(data []byte) (*extractedArchive, error) {
	if !IsGzipArchive(data) {
		return nil, errInvalidArchive("raw-library registration is not supported; archive must be gzip-compressed tar")
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errInvalidArchive("invalid gzip stream: " + err.Error())
	}
	defer gz.Close()

	out := &extractedArchive{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errInvalidArchive("invalid tar stream: " + err.Error())
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		switch {
		case hdr.Name == "manifest.json":
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, errInvalidArchive("read manifest.json: " + err.Error())
			}
			out.manifestJSON = buf
		case isDynamicLibrary(hdr.Name):
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, errInvalidArchive("read library entry: " + err.Error())
			}
			out.libraryBytes = buf
			out.libraryFilename = hdr.Name
		}
	}
	if out.manifestJSON == nil {
		return nil, errInvalidArchive("archive missing manifest.json")
	}
	if out.libraryBytes == nil {
		return nil, errInvalidArchive("archive missing a .so/.dylib/.dll entry")
	}
	return out, nil
}

func isDynamicLibrary(name string) bool {
	return strings.HasSuffix(name, ".so") || strings.HasSuffix(name, ".dylib") || strings.HasSuffix(name, ".dll")
}
