// Package stl writes triangle meshes as STL files, binary or ASCII,
// optionally gzip compressed. Encoding and decoding are done by go-stl.
package stl

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gostl "github.com/flywave/go-stl"
	"github.com/klauspost/compress/gzip"

	"slicesurf/pkg/mesh"
)

// headerSize is the length of the binary STL header before the triangle count
const headerSize = 80

// ErrMalformed is returned by Read when the data is neither a complete
// binary STL nor parseable ASCII STL
var ErrMalformed = errors.New("malformed STL data")

// Options controls the output format
type Options struct {
	// ASCII selects the text format instead of binary
	ASCII bool

	// Name is the solid name, written into the ASCII solid line or the
	// binary header
	Name string
}

func vec32(v [3]float64) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}

// binaryHeader pads "binary <name>" to the 80 byte header. A binary header
// must not start with "solid", which marks ASCII files.
func binaryHeader(name string) []byte {
	header := make([]byte, headerSize)
	copy(header, "binary "+name)
	return header
}

// FromMesh converts an indexed mesh into a solid. Facet normals are the unit
// face normals.
func FromMesh(m *mesh.Mesh, opts Options) *gostl.Solid {
	solid := &gostl.Solid{Triangles: make([]gostl.Triangle, 0, len(m.Triangles))}
	name := strings.ReplaceAll(opts.Name, "\n", " ")
	solid.SetName(name)
	solid.SetASCII(opts.ASCII)
	if !opts.ASCII {
		solid.SetBinaryHeader(binaryHeader(name))
	}

	for _, t := range m.Triangles {
		n := mesh.Normalize(m.FaceNormal(t))
		a := m.Vertices[t[0]].Position
		b := m.Vertices[t[1]].Position
		c := m.Vertices[t[2]].Position

		var tri gostl.Triangle
		tri.Normal = vec32([3]float64{n.X, n.Y, n.Z})
		tri.Vertices[0] = vec32([3]float64{a.X, a.Y, a.Z})
		tri.Vertices[1] = vec32([3]float64{b.X, b.Y, b.Z})
		tri.Vertices[2] = vec32([3]float64{c.X, c.Y, c.Z})
		solid.AppendTriangle(tri)
	}
	return solid
}

// Write encodes m to w
func Write(w io.Writer, m *mesh.Mesh, opts Options) error {
	if err := m.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if err := FromMesh(m, opts).WriteAll(bw); err != nil {
		return fmt.Errorf("error writing STL: %w", err)
	}
	return bw.Flush()
}

// Read decodes a binary or ASCII STL stream. The stream is buffered in
// memory since format detection needs to seek.
func Read(r io.Reader) (*gostl.Solid, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	solid, err := gostl.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return solid, nil
}

// Save writes m to path. Paths ending in .gz are gzip compressed.
func Save(path string, m *mesh.Mesh, opts Options) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating STL file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if !isGzip(path) {
		return Write(file, m, opts)
	}

	zw := gzip.NewWriter(file)
	zw.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := Write(zw, m, opts); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Load reads an STL file written by Save, decompressing .gz paths
func Load(path string) (*gostl.Solid, error) {
	if !isGzip(path) {
		solid, err := gostl.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return solid, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	zr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return Read(zr)
}

func isGzip(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".gz")
}
