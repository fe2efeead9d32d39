package resolver

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

type archiveFormat int

const (
	archiveNone archiveFormat = iota
	archiveTarGz
	archiveZip
)

func archiveKind(asset string) archiveFormat {
	lower := strings.ToLower(asset)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return archiveTarGz
	case strings.HasSuffix(lower, ".zip"):
		return archiveZip
	default:
		return archiveNone
	}
}

// isBinaryEntry matches the nuscr executable anywhere inside an archive.
func isBinaryEntry(name string) bool {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return base == binaryName || base == binaryName+".exe"
}

func extractBinary(kind archiveFormat, archivePath, dest string) error {
	switch kind {
	case archiveTarGz:
		return extractTarGz(archivePath, dest)
	case archiveZip:
		return extractZip(archivePath, dest)
	default:
		return fmt.Errorf("resolver: unknown archive format")
	}
}

func extractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("resolver: open archive: %w", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("resolver: read gzip: %w", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("resolver: read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !isBinaryEntry(hdr.Name) {
			continue
		}
		return writeBinary(dest, tr)
	}
	return fmt.Errorf("resolver: archive has no %s entry", binaryName)
}

func extractZip(archivePath, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("resolver: open zip: %w", err)
	}
	defer zr.Close()
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || !isBinaryEntry(entry.Name) {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("resolver: open zip entry: %w", err)
		}
		err = writeBinary(dest, rc)
		rc.Close()
		return err
	}
	return fmt.Errorf("resolver: archive has no %s entry", binaryName)
}

func writeBinary(dest string, src io.Reader) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("resolver: create binary: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("resolver: unpack binary: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("resolver: unpack binary: %w", err)
	}
	return nil
}
