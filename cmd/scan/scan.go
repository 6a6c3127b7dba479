// Package scan implements the scan command, which lists the tracks of a
// playlist source together with their tags and decoder availability.
package scan

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/tphakala/go-playback/internal/codecs"
	"github.com/tphakala/go-playback/internal/conf"
	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
	"github.com/tphakala/go-playback/internal/playlist"
)

const componentScan = "scan"

// Result is the outcome of probing one playlist entry
type Result struct {
	Path    string
	Track   *metadata.Track
	Decoder bool // a decoder image is installed for the track's codec
	Err     error
}

// Command creates the scan command
func Command(settings *conf.Settings) *cobra.Command {
	var m3u string

	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "List the tracks of a directory or playlist",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				settings.Playlist.Path = args[0]
			}
			results, err := Scan(settings)
			if err != nil {
				return err
			}
			Render(cmd.OutOrStdout(), results)
			if m3u != "" {
				return writePlaylist(m3u, results)
			}
			return nil
		},
	}

	d := conf.Defaults()
	cmd.Flags().Bool("recursive", d.Playlist.Recursive, "Scan directories recursively")
	cmd.Flags().Bool("v1first", d.Playback.ID3v1First, "Prefer ID3v1 tags over ID3v2")
	cmd.Flags().StringVar(&m3u, "m3u", "", "Write the readable tracks to an M3U playlist")
	conf.MapFlag(cmd, "recursive", "playlist.recursive")
	conf.MapFlag(cmd, "v1first", "playback.id3v1first")

	return cmd
}

// Scan loads the configured playlist source and inspects every entry
func Scan(settings *conf.Settings) ([]Result, error) {
	entries, err := playlist.Load(settings.Playlist.Path, settings.Playlist.Recursive)
	if err != nil {
		return nil, err
	}

	parser := metadata.NewParser(time.Minute)
	registry := codecs.NewRegistry(settings.Codecs.Dir)
	log := logger.Global().Module(componentScan)

	results := make([]Result, 0, len(entries))
	for _, path := range entries {
		r := Result{Path: path}
		r.Track, r.Err = inspect(parser, path, settings.Playback.ID3v1First)
		if r.Err != nil {
			log.Debug("entry unreadable", logger.String("path", path), logger.Error(r.Err))
		} else {
			_, r.Decoder = registry.Resolve(r.Track.Codec)
		}
		results = append(results, r)
	}
	return results, nil
}

func inspect(parser *metadata.Parser, path string, v1First bool) (*metadata.Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return parser.Parse(f, info.Size(), path, v1First)
}

// Render writes results as a table followed by a summary line
func Render(w io.Writer, results []Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Title", "Artist", "Codec", "Length", "Rate", "Decoder"})

	var playable int
	for i, r := range results {
		if r.Err != nil {
			t.AppendRow(table.Row{i, metadata.FromPath(r.Path).DisplayTitle(), "", "", "", "",
				text.FgHiRed.Sprint("unreadable")})
			continue
		}

		decoder := text.FgGreen.Sprint("yes")
		if r.Decoder {
			playable++
		} else {
			decoder = text.FgYellow.Sprint("missing")
		}
		tr := r.Track
		t.AppendRow(table.Row{
			i,
			tr.DisplayTitle(),
			tr.Artist,
			tr.Codec.String(),
			formatLength(tr.Length),
			formatRate(tr),
			decoder,
		})
	}
	t.Render()
	fmt.Fprintf(w, "%d tracks, %d playable\n", len(results), playable)
}

func formatLength(ms int64) string {
	d := (time.Duration(ms) * time.Millisecond).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func formatRate(t *metadata.Track) string {
	if t.Bitrate > 0 {
		vbr := ""
		if t.VBR {
			vbr = " VBR"
		}
		return fmt.Sprintf("%d kbit/s%s", t.Bitrate, vbr)
	}
	if t.Frequency > 0 {
		return fmt.Sprintf("%d Hz", t.Frequency)
	}
	return ""
}

// writePlaylist saves the readable entries as an M3U playlist
func writePlaylist(path string, results []Result) error {
	var entries []string
	for _, r := range results {
		if r.Err == nil {
			entries = append(entries, r.Path)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.New(err).
			Component(componentScan).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := playlist.WriteM3U(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
