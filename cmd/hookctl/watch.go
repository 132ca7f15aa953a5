package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/pipehook/internal/client"
	"github.com/PipeOpsHQ/pipehook/internal/events"
	"github.com/PipeOpsHQ/pipehook/internal/hub"
)

func (a *app) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [endpoint-id]",
		Short: "Follow requests arriving at an endpoint",
		Long: `Follow requests arriving at an endpoint.

By default the server's event stream is tailed. With --nats (or nats_url in
the profile) hookctl listens on the server's NATS subjects instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.endpointArg(args)
			if err != nil {
				return err
			}
			verbose, _ := cmd.Flags().GetBool("verbose")
			natsURL, _ := cmd.Flags().GetString("nats")
			if natsURL == "" {
				natsURL = a.profile.NATSURL
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if natsURL != "" {
				return a.watchNATS(ctx, natsURL, id, verbose)
			}
			return a.watchStream(ctx, id, verbose)
		},
	}
	cmd.Flags().BoolP("verbose", "v", false, "include headers and bodies")
	cmd.Flags().String("nats", "", "NATS server URL to follow instead of the event stream")
	return cmd
}

func (a *app) watchStream(ctx context.Context, id string, verbose bool) error {
	err := a.client.Stream(ctx, id, func(ev hub.Event) error {
		switch ev.Type {
		case hub.EventConnected:
			fmt.Fprintf(a.out, "Watching %s (Ctrl-C to stop)\n", id)
		case hub.EventRequestCaptured:
			if ev.Request != nil {
				printRequest(a.out, ev.Request, verbose, a.color)
			}
		case hub.EventHistoryCleared:
			fmt.Fprintln(a.out, paint(a.color, ansiDim, "-- history cleared --"))
		case hub.EventGone:
			fmt.Fprintf(a.out, "Endpoint %s is gone\n", id)
		}
		return nil
	})
	switch {
	case errors.Is(err, client.ErrStreamClosed), errors.Is(err, context.Canceled):
		return nil
	case err != nil:
		return notFoundHint(id, err)
	}
	return nil
}

func (a *app) watchNATS(ctx context.Context, url, id string, verbose bool) error {
	sub, err := events.NewNATSSubscriber(url)
	if err != nil {
		return err
	}
	defer sub.Close()

	msgs, cancel, err := sub.Subscribe(events.EndpointSubjects(id))
	if err != nil {
		return err
	}
	defer cancel()

	fmt.Fprintf(a.out, "Watching %s on %s (Ctrl-C to stop)\n", id, url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			switch msg.Topic {
			case events.TopicRequestCaptured:
				var ev events.RequestCaptured
				if err := json.Unmarshal(msg.Data, &ev); err == nil && ev.Request != nil {
					printRequest(a.out, ev.Request, verbose, a.color)
				}
			case events.TopicHistoryCleared:
				fmt.Fprintln(a.out, paint(a.color, ansiDim, "-- history cleared --"))
			case events.TopicEndpointDeleted, events.TopicEndpointExpired:
				fmt.Fprintf(a.out, "Endpoint %s is gone\n", id)
				return nil
			}
		}
	}
}
