package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/dshills/cvsbridge/internal/app"
	"github.com/dshills/cvsbridge/internal/integration"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
)

// outputTopic carries client output lines in the watch stream.
const outputTopic = "client.output"

// watchTopics covers every topic the manager publishes.
var watchTopics = []string{
	integration.TopicStarted,
	integration.TopicStopped,
	integration.TopicFolderAdded,
	integration.TopicFolderRemoved,
	integration.TopicRepositoryOpened,
	integration.TopicRepositoryClosed,
	integration.TopicRepositoryChanged,
	integration.TopicResourcesChanged,
	integration.TopicResourceChanged,
	integration.TopicOriginalChanged,
	integration.TopicOperationStarted,
	integration.TopicOperationFinished,
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the workspace and print events until interrupted",
		Long: `Start the file system watcher, keep the working copies up to date and print
every engine event as one JSON object per line.

SIGHUP reloads the workspace roots from the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := bootstrap(cmd, flags, func(o *app.Options) {
				o.Watch = true
			})
			if err != nil {
				return err
			}
			defer application.Close()
			logger := application.Logger()

			done := make(chan struct{})
			defer close(done)
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-done:
						return
					case <-hup:
						if err := application.ReloadWorkspace(); err != nil {
							logger.Warn().Err(err).Msg("workspace reload failed")
						}
					}
				}
			}()

			printer := &eventPrinter{w: cmd.OutOrStdout()}
			for _, topic := range watchTopics {
				application.EventBus().Subscribe(topic, printer.handler(topic))
			}
			printOutput := printer.handler(outputTopic)
			unsub := application.Output().OnDidAppend().Subscribe(func(line string) {
				printOutput(map[string]any{"line": line})
			})
			defer unsub()

			if _, err := application.Execute(ctx, app.CommandRefresh, nil); err != nil {
				logger.Warn().Err(err).Msg("initial refresh failed")
			}

			err = application.Manager().Watch(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// eventPrinter writes bus events as JSON lines.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *eventPrinter) handler(topic string) func(map[string]any) {
	return func(data map[string]any) {
		line, err := eventJSON(topic, data)
		if err != nil {
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		_, _ = fmt.Fprintln(p.w, line)
	}
}

// eventJSON renders an event as {"topic": ..., "data": {...}} with the
// payload keys in sorted order.
func eventJSON(topic string, data map[string]any) (string, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc, err := sjson.Set(`{"data":{}}`, "topic", topic)
	if err != nil {
		return "", err
	}
	for _, k := range keys {
		if doc, err = sjson.Set(doc, "data."+sjsonKey(k), data[k]); err != nil {
			return "", err
		}
	}
	return doc, nil
}

// sjsonKey escapes the path characters sjson treats specially.
func sjsonKey(k string) string {
	out := make([]rune, 0, len(k))
	for _, r := range k {
		switch r {
		case '.', '*', '?', '|', '#', '@', ':', '\\':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
