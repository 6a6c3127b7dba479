package playlist

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
)

// IsPlaylistFile reports whether path names an M3U playlist
func IsPlaylistFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u", ".m3u8":
		return true
	default:
		return false
	}
}

// IsAudioFile reports whether path has an extension the engine knows
func IsAudioFile(path string) bool {
	return metadata.CodecFromExtension(path) != metadata.CodecUnknown
}

// ParseM3U reads playlist entries from r. Comment and blank lines are
// skipped; relative entries are resolved against base.
func ParseM3U(r io.Reader, base string) ([]string, error) {
	var entries []string
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = filepath.FromSlash(strings.ReplaceAll(line, `\`, "/"))
		if !filepath.IsAbs(line) {
			line = filepath.Join(base, line)
		}
		entries = append(entries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.New(err).
			Component(componentPlaylist).
			Category(errors.CategoryFileParsing).
			Build()
	}
	return entries, nil
}

// ScanDir lists the audio files under root in path order. Subdirectories are
// included when recursive is set.
func ScanDir(root string, recursive bool) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			GetLogger().Warn("skipping unreadable path", logger.String("path", path), logger.Error(err))
			return nil
		}
		if d.IsDir() {
			if path != root && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if IsAudioFile(path) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(err).
			Component(componentPlaylist).
			Category(errors.CategoryFileIO).
			Context("dir", root).
			Build()
	}
	slices.Sort(entries)
	return entries, nil
}

// Load builds entries from path: a directory is scanned, an M3U file is
// parsed and any other file becomes a single entry.
func Load(path string, recursive bool) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(err).
			Component(componentPlaylist).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if info.IsDir() {
		return ScanDir(path, recursive)
	}
	if !IsPlaylistFile(path) {
		return []string{path}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component(componentPlaylist).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer f.Close()
	return ParseM3U(f, filepath.Dir(path))
}

// WriteM3U writes entries as an extended M3U playlist
func WriteM3U(w io.Writer, entries []string) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("#EXTM3U\n"); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := bw.WriteString(e + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
