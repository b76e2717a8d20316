// Package main provides the control CLI for the playback daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/nowplaying/internal/api/connect"
	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/track"
)

var (
	app    = kingpin.New("playerctl", "nowplaying control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Player token").Envar("PLAYER_TOKEN").String()

	// track command
	trackCmd      = app.Command("track", "Play a single stream URL")
	trackID       = trackCmd.Arg("id", "Track ID").Required().String()
	trackURL      = trackCmd.Arg("url", "Stream URL").Required().String()
	trackName     = trackCmd.Flag("name", "Track name").String()
	trackDuration = trackCmd.Flag("duration", "Duration in seconds").Int()

	// play command
	playCmd     = app.Command("play", "Replace the queue with a track file and play it")
	playFile    = playCmd.Arg("file", "YAML or JSON track file").Required().ExistingFile()
	playShuffle = playCmd.Flag("shuffle", "Shuffle before playing").Bool()
	playTrackID = playCmd.Flag("track", "Start with this track ID instead of the first").String()

	// queue editing
	setQueueCmd   = app.Command("set-queue", "Replace the queue without playing")
	setQueueFile  = setQueueCmd.Arg("file", "YAML or JSON track file").Required().ExistingFile()
	setQueueStart = setQueueCmd.Flag("start", "Start index").Int()
	insertCmd     = app.Command("insert", "Queue tracks after the current one")
	insertFile    = insertCmd.Arg("file", "YAML or JSON track file").Required().ExistingFile()
	appendCmd     = app.Command("append", "Add tracks to the end of the queue")
	appendFile    = appendCmd.Arg("file", "YAML or JSON track file").Required().ExistingFile()
	clearQueueCmd = app.Command("clear-queue", "Empty the queue")

	// transport
	toggleCmd  = app.Command("toggle", "Toggle play/pause")
	nextCmd    = app.Command("next", "Skip to the next track")
	prevCmd    = app.Command("prev", "Go back to the previous track")
	seekCmd    = app.Command("seek", "Seek the current track")
	seekSecond = seekCmd.Arg("seconds", "Position in seconds").Required().Float64()
	clearCmd   = app.Command("clear", "Stop and reset the session")

	// observation
	statusCmd    = app.Command("status", "Show the current session").Default()
	watchCmd     = app.Command("watch", "Stream session notifications")
	historyCmd   = app.Command("history", "Show recently played tracks")
	historyLimit = historyCmd.Flag("limit", "Number of entries").Default("20").Int()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewDefaultPlayerClient(*server, *token)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		res *apiconnect.SessionResponse
		err error
	)
	switch command {
	case trackCmd.FullCommand():
		res, err = client.PlayTrack(ctx, adHocTrack(*trackID, *trackURL, *trackName, *trackDuration), nil)
	case playCmd.FullCommand():
		res, err = play(ctx, client)
	case setQueueCmd.FullCommand():
		res, err = withTracks(*setQueueFile, func(tracks []track.Track) (*apiconnect.SessionResponse, error) {
			return client.SetQueue(ctx, tracks, *setQueueStart)
		})
	case insertCmd.FullCommand():
		res, err = withTracks(*insertFile, func(tracks []track.Track) (*apiconnect.SessionResponse, error) {
			return client.InsertNext(ctx, tracks)
		})
	case appendCmd.FullCommand():
		res, err = withTracks(*appendFile, func(tracks []track.Track) (*apiconnect.SessionResponse, error) {
			return client.Append(ctx, tracks)
		})
	case clearQueueCmd.FullCommand():
		res, err = client.ClearQueue(ctx)
	case toggleCmd.FullCommand():
		res, err = client.TogglePlayPause(ctx)
	case nextCmd.FullCommand():
		res, err = client.Next(ctx)
	case prevCmd.FullCommand():
		res, err = client.Previous(ctx)
	case seekCmd.FullCommand():
		res, err = client.SeekTo(ctx, *seekSecond)
	case clearCmd.FullCommand():
		res, err = client.Clear(ctx)
	case statusCmd.FullCommand():
		res, err = client.GetSession(ctx)
	case watchCmd.FullCommand():
		err = watch(ctx, client)
	case historyCmd.FullCommand():
		err = showHistory(ctx, client, *historyLimit)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if res != nil {
		printSession(res.Session, res.Queue)
	}
}

func withTracks(path string, fn func([]track.Track) (*apiconnect.SessionResponse, error)) (*apiconnect.SessionResponse, error) {
	tracks, err := loadTracks(path)
	if err != nil {
		return nil, err
	}
	return fn(tracks)
}

func play(ctx context.Context, client *apiconnect.PlayerClient) (*apiconnect.SessionResponse, error) {
	tracks, err := loadTracks(*playFile)
	if err != nil {
		return nil, err
	}
	if *playTrackID == "" {
		return client.PlayQueue(ctx, tracks, *playShuffle)
	}
	for _, t := range tracks {
		if t.ID == *playTrackID {
			return client.PlayTrack(ctx, t, tracks)
		}
	}
	return nil, errors.Newf("track %s not found in %s", *playTrackID, *playFile)
}

func watch(ctx context.Context, client *apiconnect.PlayerClient) error {
	stream, err := client.WatchSession(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Println("Watching session. Press Ctrl+C to exit.")
	for stream.Receive() {
		printNotification(stream.Msg())
	}
	if ctx.Err() != nil {
		return nil
	}
	return stream.Err()
}

func showHistory(ctx context.Context, client *apiconnect.PlayerClient, limit int) error {
	res, err := client.History(ctx, limit)
	if err != nil {
		return err
	}
	if len(res.Entries) == 0 {
		fmt.Println("No history yet.")
		return nil
	}
	for _, e := range res.Entries {
		fmt.Printf("%s  %-24s %s", e.StartedAt.Local().Format(time.DateTime), e.TrackID, e.Name)
		if e.Artists != "" {
			fmt.Printf(" - %s", e.Artists)
		}
		fmt.Println()
	}
	return nil
}

func formatState(state playback.State) string {
	switch state {
	case playback.StateIdle:
		return "⏹  Idle"
	case playback.StateLoading:
		return "⏳ Loading"
	case playback.StatePlaying:
		return "▶️  Playing"
	case playback.StatePaused:
		return "⏸  Paused"
	case playback.StateReleased:
		return "🔚 Released"
	default:
		return "❓ Unknown"
	}
}

func formatClock(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func printSession(s playback.Session, queue []track.Track) {
	fmt.Printf("State: %s\n", formatState(s.State))
	if t := s.CurrentTrack; t != nil {
		fmt.Printf("Track: %s (%s)\n", t.Name, t.ID)
		if len(t.Artists) > 0 {
			fmt.Printf("Artists: %s\n", strings.Join(t.Artists, ", "))
		}
		fmt.Printf("Position: %s / %s\n", formatClock(s.CurrentTimeSeconds), formatClock(s.DurationSeconds))
	}
	if s.QueueLength > 0 {
		fmt.Printf("Queue: %d/%d\n", s.QueueIndex+1, s.QueueLength)
	}
	for i, t := range queue {
		marker := "  "
		if i == s.QueueIndex {
			marker = "> "
		}
		fmt.Printf("%s%2d. %s (%s)\n", marker, i+1, t.Name, t.ID)
	}
}

func printNotification(n *notification.Notification) {
	fmt.Printf("\n[Sequence: %d] === %s ===\n", n.SequenceNo, strings.ToUpper(strings.ReplaceAll(n.Type, "_", " ")))
	if n.Error != "" {
		fmt.Printf("Error: %s\n", n.Error)
	}
	printSession(n.Session, nil)
}
