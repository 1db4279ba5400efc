// Command viewer is a headless participant: it keeps a simulated player in
// step with the server and reads play/pause/seek actions from stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/DoyleJ11/syncwatch/internal/client"
	"github.com/DoyleJ11/syncwatch/internal/config"
	"github.com/DoyleJ11/syncwatch/internal/logging"
	"go.uber.org/zap"
)

const usage = "commands: play | pause | seek <s> | scrub | release <s> | status | quit"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnvFile(); err != nil {
		return err
	}
	cfg, err := config.LoadViewer()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	player := client.NewSimPlayer(nil)
	v := client.NewViewer(player, client.ViewerOptions{
		URL:            cfg.ServerURL,
		Interval:       cfg.SyncInterval,
		DriftThreshold: cfg.DriftThreshold,
		ReconnectDelay: cfg.ReconnectDelay,
		Logger:         log.Named("viewer"),
	})

	go func() {
		defer stop()
		if err := readCommands(ctx, os.Stdin, os.Stdout, v, log); err != nil {
			log.Warn("reading stdin", zap.Error(err))
		}
	}()
	return v.Run(ctx)
}

// readCommands returns when stdin is exhausted or "quit" is read.
func readCommands(ctx context.Context, in io.Reader, out io.Writer, v *client.Viewer, log *zap.Logger) error {
	fmt.Fprintln(out, usage)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "play":
			err = v.Play(ctx)
		case "pause":
			err = v.Pause(ctx)
		case "seek", "release":
			t, perr := secondsArg(fields)
			if perr != nil {
				fmt.Fprintln(out, perr)
				continue
			}
			if fields[0] == "seek" {
				err = v.Seek(ctx, t)
			} else {
				err = v.EndScrub(ctx, t)
			}
		case "scrub":
			err = v.BeginScrub(ctx)
		case "status":
			var st client.Status
			if st, err = v.Status(ctx); err == nil {
				printStatus(out, st)
			}
		case "quit":
			return nil
		default:
			fmt.Fprintln(out, usage)
		}
		if err != nil {
			log.Debug("command not delivered", zap.String("cmd", fields[0]), zap.Error(err))
			return nil
		}
	}
	return sc.Err()
}

func secondsArg(fields []string) (float64, error) {
	if len(fields) != 2 {
		return 0, fmt.Errorf("%s needs a time in seconds", fields[0])
	}
	t, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("bad time %q", fields[1])
	}
	return t, nil
}

func printStatus(out io.Writer, st client.Status) {
	state := "playing"
	if st.Paused {
		state = "paused"
	}
	fmt.Fprintf(out, "connected=%t %s position=%.3f", st.Connected, state, st.Position)
	if st.HasRecord {
		fmt.Fprintf(out, " target=%.3f drift=%+.3f", st.Target, st.Position-st.Target)
	}
	if st.Scrubbing {
		fmt.Fprint(out, " scrubbing")
	}
	fmt.Fprintln(out)
}
