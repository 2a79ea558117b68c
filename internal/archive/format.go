package archive

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Format is an archive container (plus optional compression).
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
)

var ErrUnknownFormat = errors.New("unknown archive format")

// ParseFormat accepts canonical names and the legacy client aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zip", "shell-zip":
		return FormatZip, nil
	case "tar", "php-tar", "shell-tar":
		return FormatTar, nil
	case "tar.gz", "tgz":
		return FormatTarGz, nil
	case "tar.zst", "tzst":
		return FormatTarZst, nil
	}
	return "", ErrUnknownFormat
}

// Ext is the file name extension for the format, including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// ContentType is the media type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatZip:
		return "application/zip"
	case FormatTar:
		return "application/x-tar"
	case FormatTarGz:
		return "application/gzip"
	case FormatTarZst:
		return "application/zstd"
	}
	return "application/octet-stream"
}

// container is the streaming writer behind each format.
type container interface {
	addFile(name string, info fs.FileInfo, r io.Reader, buf []byte) error
	Close() error
}

func newContainer(f Format, w io.Writer) (container, error) {
	switch f {
	case FormatZip:
		zw := zip.NewWriter(w)
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, flate.DefaultCompression)
		})
		return &zipContainer{zw: zw}, nil
	case FormatTar:
		return &tarContainer{tw: tar.NewWriter(w)}, nil
	case FormatTarGz:
		gz := gzip.NewWriter(w)
		return &tarContainer{tw: tar.NewWriter(gz), comp: gz}, nil
	case FormatTarZst:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return &tarContainer{tw: tar.NewWriter(zw), comp: zw}, nil
	}
	return nil, ErrUnknownFormat
}

type zipContainer struct {
	zw *zip.Writer
}

func (c *zipContainer) addFile(name string, info fs.FileInfo, r io.Reader, buf []byte) error {
	h, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	h.Name = name
	h.Method = zip.Deflate
	wr, err := c.zw.CreateHeader(h)
	if err != nil {
		return err
	}
	_, err = io.CopyBuffer(wr, r, buf)
	return err
}

func (c *zipContainer) Close() error {
	return c.zw.Close()
}

type tarContainer struct {
	tw   *tar.Writer
	comp io.WriteCloser
}

func (c *tarContainer) addFile(name string, info fs.FileInfo, r io.Reader, buf []byte) error {
	h, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	h.Name = name
	h.Uname, h.Gname = "", ""
	h.Format = tar.FormatPAX
	if err := c.tw.WriteHeader(h); err != nil {
		return err
	}
	// The header size is authoritative: a file that grew is cut, one that
	// shrank aborts the stream.
	n, err := io.CopyBuffer(c.tw, io.LimitReader(r, info.Size()), buf)
	if err != nil {
		return err
	}
	if n < info.Size() {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (c *tarContainer) Close() error {
	err := c.tw.Close()
	if c.comp != nil {
		if cerr := c.comp.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
