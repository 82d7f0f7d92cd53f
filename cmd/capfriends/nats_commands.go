package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/capfriends/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to swap events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to swap events",
		ArgsUsage: "[target_address]",
		Description: `Subscribe to real-time swap lifecycle events published to NATS JetStream.

Events are published to the subject swaps.{target_address}. Without an address
all targets are streamed. The target must be given in its normalized
(checksummed) form.

Example:
  capfriends nats subscribe 0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed --json
  capfriends nats subscribe --jq '.kind == "confirmation"'`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "capfriends-cli",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "Only print events for which this jq filter is truthy",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after this many events (0 streams forever)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("at most one target address is allowed")
			}

			subject := natspkg.SubjectFor("*")
			if c.NArg() == 1 {
				subject = natspkg.SubjectFor(c.Args().Get(0))
			}

			var filter *gojq.Code
			if f := c.String("jq"); f != "" {
				code, err := compileJQ(f)
				if err != nil {
					return err
				}
				filter = code
			}

			opts := streamOptions{
				subject:      subject,
				natsURL:      c.String("nats-url"),
				durable:      c.Bool("durable"),
				consumerName: c.String("consumer-name"),
				jsonOutput:   c.Bool("json"),
				filter:       filter,
				count:        c.Int("count"),
			}
			return streamSwapEvents(c, opts)
		},
	}
}

type streamOptions struct {
	subject      string
	natsURL      string
	durable      bool
	consumerName string
	jsonOutput   bool
	filter       *gojq.Code
	count        int
}

func streamSwapEvents(c *cli.Context, opts streamOptions) error {
	w := c.App.Writer

	// Connect to NATS
	nc, err := nats.Connect(opts.natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !opts.jsonOutput {
		fmt.Fprintf(w, "📡 Subscribing to: %s\n", opts.subject)
		fmt.Fprintf(w, "   NATS: %s\n", opts.natsURL)
		if opts.durable {
			fmt.Fprintf(w, "   Consumer: %s (durable)\n", opts.consumerName)
		}
		fmt.Fprintf(w, "\nWaiting for swap events... (Ctrl-C to exit)\n\n")
	}

	// Create consumer config
	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: opts.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}

	if opts.durable {
		consumerConfig.Durable = opts.consumerName
		consumerConfig.Name = opts.consumerName
	}

	// Create or update consumer
	cons, err := js.CreateOrUpdateConsumer(c.Context, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Receive messages
	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.SwapEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if !opts.jsonOutput {
					fmt.Fprintf(c.App.ErrWriter, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}
			msg.Ack()

			if opts.filter != nil && !matchJQ(opts.filter, event) {
				continue
			}
			count++

			if opts.jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Fprintln(w, string(data))
			} else {
				printSwapEvent(w, count, &event)
			}

			if opts.count > 0 && count >= opts.count {
				return nil
			}

		case <-sigChan:
			if !opts.jsonOutput {
				fmt.Fprintf(w, "\n\n✅ Received %d swap events\n", count)
				fmt.Fprintln(w, "Shutting down...")
			}
			return nil
		}
	}
}

func printSwapEvent(w io.Writer, n int, event *natspkg.SwapEvent) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Event #%d: %s %s\n", n, event.Kind, event.Status)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Swap:         %s\n", event.SwapID)
	fmt.Fprintf(w, "Target:       %s\n", event.Target)
	if event.ChainID != "" {
		fmt.Fprintf(w, "Chain ID:     %s\n", event.ChainID)
	}
	fmt.Fprintf(w, "Amount:       %s\n", event.Amount)
	fmt.Fprintf(w, "Stage:        %s\n", event.Stage)
	if event.Handle != "" {
		fmt.Fprintf(w, "Handle:       %s\n", event.Handle)
	}
	if event.Error != "" {
		fmt.Fprintf(w, "Error:        %s\n", event.Error)
	}
	fmt.Fprintf(w, "Time:         %s\n", event.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "\n")
}
