// Package codecs provides the built-in decoders and the registry of decoder
// images the playback engine resolves codec types to.
//
// A decoder image is a small file named "<codec>.codec" whose first line is
// "GOPLAYCODEC1 <name>". The loader maps that name to one of the decoders
// compiled into this package.
package codecs

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tphakala/go-playback/internal/codec"
	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
)

const componentCodecs = "codecs"

const (
	imageMagic = "GOPLAYCODEC1"
	imageExt   = ".codec"
)

// ErrUnknownImage is returned for images that do not name a built-in decoder
var ErrUnknownImage = errors.NewStd("unknown decoder image")

// GetLogger returns the codecs module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("codecs")
}

type factory func() codec.Codec

// builtins maps image names to decoders. Names match metadata.CodecType.String
// of the base codec.
var builtins = map[string]factory{
	metadata.CodecPCM.String():  func() codec.Codec { return &wavDecoder{} },
	metadata.CodecFLAC.String(): func() codec.Codec { return &flacDecoder{} },
	metadata.CodecMP3.String():  func() codec.Codec { return &mp3Decoder{} },
}

// Names returns the built-in decoder names in sorted order
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Image returns the image bytes for the named decoder
func Image(name string) []byte {
	return []byte(imageMagic + " " + name + "\n")
}

// parseImage extracts the decoder name from an image header
func parseImage(image []byte) (string, bool) {
	line, _, _ := bytes.Cut(image, []byte("\n"))
	magic, name, ok := strings.Cut(strings.TrimSpace(string(line)), " ")
	if !ok || magic != imageMagic || name == "" {
		return "", false
	}
	return name, true
}

// Loader instantiates built-in decoders from their images
type Loader struct{}

// NewLoader creates a loader
func NewLoader() *Loader {
	return &Loader{}
}

// Load implements codec.Loader
func (l *Loader) Load(image []byte) (codec.Codec, error) {
	name, ok := parseImage(image)
	if !ok {
		return nil, errors.New(ErrUnknownImage).
			Component(componentCodecs).
			Category(errors.CategoryCodec).
			Context("image_size", len(image)).
			Build()
	}
	f, ok := builtins[name]
	if !ok {
		return nil, errors.New(ErrUnknownImage).
			Component(componentCodecs).
			Category(errors.CategoryCodec).
			Context("decoder", name).
			Build()
	}
	return f(), nil
}

// Registry resolves codec types to decoder images in a directory
type Registry struct {
	dir string
}

// NewRegistry creates a registry over dir
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Dir returns the image directory
func (r *Registry) Dir() string {
	return r.dir
}

// Resolve implements codec.Resolver. Related codecs share the image of their
// base type.
func (r *Registry) Resolve(t metadata.CodecType) (string, bool) {
	base := t.Base()
	if base == metadata.CodecUnknown {
		return "", false
	}
	path := filepath.Join(r.dir, base.String()+imageExt)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// Available lists the codec names that have an image in the directory
func (r *Registry) Available() []string {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), imageExt); ok && !e.IsDir() {
			names = append(names, name)
		}
	}
	return names
}

// Install writes the images of all built-in decoders to the registry
// directory, creating it when needed. Existing images are left untouched.
func (r *Registry) Install() ([]string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, errors.New(err).
			Component(componentCodecs).
			Category(errors.CategoryFileIO).
			Context("dir", r.dir).
			Build()
	}

	var written []string
	for _, name := range Names() {
		path := filepath.Join(r.dir, name+imageExt)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, Image(name), 0o644); err != nil {
			return written, errors.New(err).
				Component(componentCodecs).
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
		written = append(written, path)
	}
	if len(written) > 0 {
		GetLogger().Info("decoder images installed",
			logger.String("dir", r.dir),
			logger.Int("count", len(written)))
	}
	return written, nil
}

// ValidateImage checks that the file at path is a loadable decoder image
func ValidateImage(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil {
		return "", errors.New(ErrUnknownImage).
			Component(componentCodecs).
			Category(errors.CategoryCodec).
			Context("path", path).
			Build()
	}
	name, ok := parseImage([]byte(line))
	if _, known := builtins[name]; !ok || !known {
		return "", errors.New(ErrUnknownImage).
			Component(componentCodecs).
			Category(errors.CategoryCodec).
			Context("path", path).
			Build()
	}
	return name, nil
}

var _ codec.Loader = (*Loader)(nil)
var _ codec.Resolver = (*Registry)(nil)
