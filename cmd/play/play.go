// Package play implements the play command: it wires the playlist, the
// decoders and the output stage to a playback engine and runs it until the
// playlist ends or the command is interrupted.
package play

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-playback/internal/codecs"
	"github.com/tphakala/go-playback/internal/conf"
	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/metadata"
	"github.com/tphakala/go-playback/internal/observability"
	"github.com/tphakala/go-playback/internal/pcmout"
	"github.com/tphakala/go-playback/internal/playback"
	"github.com/tphakala/go-playback/internal/playlist"
)

const componentPlay = "play"

// statusPoll is how often the command checks whether playback has finished
const statusPoll = 250 * time.Millisecond

// metadataTTL bounds how long parsed tags stay cached
const metadataTTL = 30 * time.Minute

// options are the flags that only apply to a single run
type options struct {
	announce    string
	start       int
	offset      int64
	interactive bool
}

// Command creates the play command
func Command(settings *conf.Settings) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "play [path]",
		Short: "Play a directory, playlist or audio file",
		Long: `Play the tracks found at path. A directory is scanned for audio files,
an M3U playlist is read entry by entry and any other file is played on its own.
Without a path the configured playlist path is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				settings.Playlist.Path = args[0]
			}
			return run(cmd.Context(), settings, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	setupFlags(cmd, &opts)
	return cmd
}

// setupFlags defines the play flags. Flags mapped to config keys override the
// configuration file when set.
func setupFlags(cmd *cobra.Command, opts *options) {
	d := conf.Defaults()
	f := cmd.Flags()

	f.String("crossfade", d.Playback.Crossfade, "Crossfade mode: off, always, manual")
	f.Bool("voice", d.Playback.Voice, "Enable the voice overlay lane")
	f.Int("margin", d.Playback.BufferMargin, "Buffer margin index")
	f.Int("buffersize", d.Playback.BufferSize, "Ring buffer size in bytes, 0 sizes it from system memory")
	f.Bool("v1first", d.Playback.ID3v1First, "Prefer ID3v1 tags over ID3v2")
	f.Bool("watch", d.Playlist.Watch, "Reload the playlist when files change")
	f.Bool("recursive", d.Playlist.Recursive, "Scan directories recursively")
	f.String("sink", d.Output.Sink, "Output sink: wav, null")
	f.StringP("output", "o", d.Output.Path, "WAV file written by the wav sink")
	f.Bool("realtime", d.Output.Realtime, "Pace output at the sample rate")
	f.Bool("metrics", d.Metrics.Enabled, "Serve Prometheus metrics")

	conf.MapFlag(cmd, "crossfade", "playback.crossfade")
	conf.MapFlag(cmd, "voice", "playback.voice")
	conf.MapFlag(cmd, "margin", "playback.buffermargin")
	conf.MapFlag(cmd, "buffersize", "playback.buffersize")
	conf.MapFlag(cmd, "v1first", "playback.id3v1first")
	conf.MapFlag(cmd, "watch", "playlist.watch")
	conf.MapFlag(cmd, "recursive", "playlist.recursive")
	conf.MapFlag(cmd, "sink", "output.sink")
	conf.MapFlag(cmd, "output", "output.path")
	conf.MapFlag(cmd, "realtime", "output.realtime")
	conf.MapFlag(cmd, "metrics", "metrics.enabled")

	f.StringVar(&opts.announce, "announce", "", "MP3 clip played over the music once playback starts")
	f.IntVar(&opts.start, "start", 0, "Playlist index to start from")
	f.Int64Var(&opts.offset, "offset", 0, "Byte offset into the first track")
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "Read control commands from standard input")
}

// session holds everything a run creates, in teardown order
type session struct {
	settings *conf.Settings
	log      logger.Logger

	list     *playlist.List
	metrics  *observability.Metrics
	parser   *metadata.Parser
	registry *codecs.Registry
	output   *pcmout.Buffer
	player   *playback.Player

	cancel context.CancelFunc
	wg     sync.WaitGroup
	quit   chan struct{}
}

func run(ctx context.Context, settings *conf.Settings, opts options, in io.Reader, out io.Writer) error {
	s := &session{
		settings: settings,
		log:      logger.Global().Module(componentPlay),
		quit:     make(chan struct{}),
	}
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.close()

	if err := s.loadPlaylist(opts.start); err != nil {
		return err
	}
	if err := s.setupMetrics(); err != nil {
		return err
	}
	if err := s.setupDecoders(); err != nil {
		return err
	}
	if err := s.setupOutput(ctx); err != nil {
		return err
	}
	if err := s.setupPlayer(ctx); err != nil {
		return err
	}
	if settings.Playlist.Watch {
		if err := s.watch(ctx); err != nil {
			return err
		}
	}

	if err := s.player.Play(ctx, opts.offset); err != nil {
		return err
	}
	if opts.announce != "" {
		clip, err := os.ReadFile(opts.announce)
		if err != nil {
			return errors.New(err).
				Component(componentPlay).
				Category(errors.CategoryFileIO).
				Context("path", opts.announce).
				Build()
		}
		s.player.PlayVoice(clip, nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.interactive {
		ctrl := NewController(s.player, out)
		s.wg.Go(func() {
			_ = ctrl.Run(runCtx, in)
			cancel()
		})
	}

	s.wait(runCtx)
	return nil
}

// loadPlaylist reads the configured playlist source and places the cursor
func (s *session) loadPlaylist(start int) error {
	cfg := s.settings.Playlist
	entries, err := playlist.Load(cfg.Path, cfg.Recursive)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.Newf("no playable tracks found in %s", cfg.Path).
			Component(componentPlay).
			Category(errors.CategoryPlaylist).
			Context("path", cfg.Path).
			Build()
	}

	s.list = playlist.New(entries...)
	if start > 0 {
		if err := s.list.Seek(start); err != nil {
			return err
		}
	}
	s.log.Info("playlist loaded",
		logger.String("path", cfg.Path),
		logger.Int("entries", len(entries)),
		logger.Int("start", start))
	return nil
}

// setupMetrics creates the metrics registry and serves it when enabled
func (s *session) setupMetrics() error {
	if !s.settings.Metrics.Enabled {
		return nil
	}
	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	endpoint, err := observability.NewEndpoint(s.settings, m)
	if err != nil {
		return err
	}
	if err := endpoint.Start(&s.wg, s.quit); err != nil {
		return err
	}
	s.metrics = m
	return nil
}

// setupDecoders prepares the tag parser and installs the decoder images
func (s *session) setupDecoders() error {
	s.parser = metadata.NewParser(metadataTTL)
	if s.metrics != nil {
		s.parser.SetMetrics(s.metrics.Metadata)
	}

	s.registry = codecs.NewRegistry(s.settings.Codecs.Dir)
	if _, err := s.registry.Install(); err != nil {
		return err
	}
	s.log.Debug("decoders available", logger.Int("count", len(s.registry.Available())))
	return nil
}

// setupOutput opens the sink and starts the output stage
func (s *session) setupOutput(ctx context.Context) error {
	cfg := s.settings.OutputConfig()

	var sink io.Writer = io.Discard
	if s.settings.Output.Sink == conf.SinkWAV {
		wav, err := pcmout.NewWAVSink(s.settings.Output.Path, cfg.Format)
		if err != nil {
			return err
		}
		sink = wav
	}

	// The output stage owns the sink from here and closes it
	output, err := pcmout.New(cfg, sink)
	if err != nil {
		if c, ok := sink.(io.Closer); ok {
			_ = c.Close()
		}
		return err
	}
	if s.metrics != nil {
		output.SetMetrics(s.metrics.Output)
	}
	output.Start(ctx)
	s.output = output
	return nil
}

// setupPlayer creates and starts the engine
func (s *session) setupPlayer(ctx context.Context) error {
	cfg, err := s.settings.PlaybackConfig()
	if err != nil {
		return err
	}

	deps := playback.Dependencies{
		Playlist: s.list,
		Metadata: s.parser,
		Files:    playback.OSFiles{},
		Codecs:   s.registry,
		Loader:   codecs.NewLoader(),
		Output:   s.output,
		Logger:   logger.Global().Module("playback"),
	}
	if s.metrics != nil {
		deps.Metrics = s.metrics.Playback
	}

	player, err := playback.New(cfg, deps,
		playback.WithTrackChanged(s.trackChanged),
		playback.WithNotice(func(msg string) {
			s.log.Warn("playback notice", logger.String("message", msg))
		}))
	if err != nil {
		return err
	}
	player.Start(ctx)
	s.player = player
	return nil
}

func (s *session) trackChanged(t *metadata.Track) {
	if t == nil {
		s.log.Info("playlist finished")
		return
	}
	s.log.Info("now playing",
		logger.String("title", t.DisplayTitle()),
		logger.String("artist", t.Artist),
		logger.String("codec", t.Codec.String()),
		logger.Int64("length_ms", t.Length))
}

// watch reloads the playlist and rebuffers when its source changes
func (s *session) watch(ctx context.Context) error {
	cfg := s.settings.Playlist
	w, err := playlist.NewWatcher(cfg.Path, cfg.Recursive, playlist.DefaultDebounce, func(entries []string) {
		s.list.Reload(entries)
		if err := s.player.FlushAndReload(); err != nil {
			s.log.Warn("rebuffer after playlist change failed", logger.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.wg.Go(func() {
		if err := w.Run(ctx); err != nil {
			s.log.Warn("playlist watcher stopped", logger.Error(err))
		}
	})
	return nil
}

// wait blocks until playback ends or ctx is done
func (s *session) wait(ctx context.Context) {
	ticker := time.NewTicker(statusPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Play is synchronous, so a stopped engine here means the
			// playlist was played out or a stop command arrived
			if st := s.player.Status(); !st.Playing && !s.output.Playing() {
				return
			}
		}
	}
}

// close stops playback and releases everything in reverse setup order
func (s *session) close() {
	if s.player != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.player.Stop(stopCtx); err != nil && !errors.Is(err, playback.ErrClosed) {
			s.log.Warn("stop failed", logger.Error(err))
		}
		cancel()
		_ = s.player.Close()
	}
	s.cancel()
	if s.output != nil {
		if err := s.output.Close(); err != nil {
			s.log.Warn("closing output failed", logger.Error(err))
		}
	}
	close(s.quit)
	s.wg.Wait()
}
