package play

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/metadata"
	"github.com/tphakala/go-playback/internal/playback"
)

// Transport is the part of the player the controller drives
type Transport interface {
	Next() error
	Prev() error
	NextDir() error
	PrevDir() error
	Pause() error
	Resume() error
	Seek(ms int64) error
	Stop(ctx context.Context) error
	SetBufferMargin(index int)
	PlayVoice(clip []byte, more func() []byte)
	StopVoice()
	Status() playback.Status
	CurrentTrack() *metadata.Track
}

// errQuit ends the command loop
var errQuit = errors.NewStd("quit requested")

// Controller reads one command per line and applies it to a Transport
type Controller struct {
	player   Transport
	out      io.Writer
	readFile func(string) ([]byte, error)
}

// NewController creates a controller that reports to out
func NewController(player Transport, out io.Writer) *Controller {
	return &Controller{player: player, out: out, readFile: os.ReadFile}
}

// Run processes commands from in until it is exhausted, ctx is done or a
// quit command arrives. Command errors are reported and do not end the loop.
func (c *Controller) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.Exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// Exec applies a single command line
func (c *Controller) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "n", "next":
		return c.player.Next()
	case "p", "prev":
		return c.player.Prev()
	case "nextdir":
		return c.player.NextDir()
	case "prevdir":
		return c.player.PrevDir()
	case "pause":
		return c.player.Pause()
	case "resume":
		return c.player.Resume()
	case "seek":
		return c.seek(args)
	case "margin":
		return c.margin(args)
	case "say":
		return c.say(args)
	case "hush":
		c.player.StopVoice()
		return nil
	case "status", "s":
		c.printStatus()
		return nil
	case "stop":
		return c.player.Stop(ctx)
	case "q", "quit":
		return errQuit
	case "help", "?":
		fmt.Fprintln(c.out, "commands: next prev nextdir prevdir pause resume seek <seconds> "+
			"margin <index> say <mp3> hush status stop quit")
		return nil
	default:
		return errors.Newf("unknown command %q", name).
			Component("play").
			Category(errors.CategoryValidation).
			Build()
	}
}

func (c *Controller) seek(args []string) error {
	if len(args) != 1 {
		return usageError("seek <seconds>")
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil || secs < 0 {
		return usageError("seek <seconds>")
	}
	return c.player.Seek(int64(secs * float64(time.Second/time.Millisecond)))
}

func (c *Controller) margin(args []string) error {
	if len(args) != 1 {
		return usageError("margin <index>")
	}
	i, err := strconv.Atoi(args[0])
	if err != nil || i < 0 || i >= playback.MarginCount {
		return errors.Newf("margin index must be 0..%d", playback.MarginCount-1).
			Component("play").
			Category(errors.CategoryValidation).
			Build()
	}
	c.player.SetBufferMargin(i)
	fmt.Fprintf(c.out, "buffer margin %ds\n", playback.MarginSeconds(i))
	return nil
}

func (c *Controller) say(args []string) error {
	if len(args) != 1 {
		return usageError("say <mp3>")
	}
	clip, err := c.readFile(args[0])
	if err != nil {
		return errors.New(err).
			Component("play").
			Category(errors.CategoryFileIO).
			Context("path", args[0]).
			Build()
	}
	c.player.PlayVoice(clip, nil)
	return nil
}

func (c *Controller) printStatus() {
	st := c.player.Status()
	state := "stopped"
	switch {
	case st.Paused:
		state = "paused"
	case st.Playing:
		state = "playing"
	}
	fmt.Fprintf(c.out, "%s: %d tracks, %d KiB buffered, watermark %d KiB\n",
		state, st.Tracks, st.BufferedBytes>>10, st.Watermark>>10)
	if t := c.player.CurrentTrack(); t != nil {
		fmt.Fprintf(c.out, "now: %s [%s] %s / %s\n", t.DisplayTitle(), t.Codec,
			formatMillis(t.Elapsed), formatMillis(t.Length))
	}
}

func usageError(usage string) error {
	return errors.Newf("usage: %s", usage).
		Component("play").
		Category(errors.CategoryValidation).
		Build()
}

func formatMillis(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
