package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shopnotify/internal/envelope"
	"shopnotify/internal/feed"
	"shopnotify/internal/storage"
	"shopnotify/internal/subscriber"
	logx "shopnotify/pkg/logx"
)

type listenOptions struct {
	url      string
	aud      audience
	store    string
	timeout  time.Duration
	clear    bool
	markRead bool
}

func newListenCmd(root *rootOptions) *cobra.Command {
	o := &listenOptions{}
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Subscribe to notification channels and render the live feed",
		Example: `  shopnotify listen --staff 7 --broadcast --store ./feed/staff-7.json
  shopnotify listen --customer 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			channels, err := o.aud.channels()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, o, channels, cmd.OutOrStdout(), root.logger(cmd))
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.url, "url", "ws://127.0.0.1:8080/ws", "relay websocket URL")
	f.StringVar(&o.aud.customer, "customer", "", "listen as customer <id>")
	f.StringVar(&o.aud.staff, "staff", "", "listen as staff <id>")
	f.BoolVar(&o.aud.broadcast, "broadcast", false, "also listen to broadcast")
	f.StringVar(&o.store, "store", "", "persist the feed under this path (file storage)")
	f.DurationVar(&o.timeout, "timeout", 5*time.Second, "connect timeout")
	f.BoolVar(&o.clear, "clear", false, "clear the persisted feed before listening")
	f.BoolVar(&o.markRead, "mark-read", false, "mark everything read on exit")
	return cmd
}

func runListen(ctx context.Context, o *listenOptions, channels []string, out io.Writer, log logx.Logger) error {
	var snaps feed.Snapshots
	if o.store != "" {
		st, err := storage.Open(storage.Config{Driver: "file", Path: o.store}, log.With(logx.Comp("storage")))
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		snaps = st
	}

	nf := feed.New(ctx, feed.Config{}, snaps, log.With(logx.Comp("feed")))
	if o.clear {
		nf.Clear()
	}
	defer func() {
		if o.markRead {
			nf.MarkAllAsRead()
		}
	}()

	nf.OnChange(func(items []envelope.Notification) {
		fmt.Fprint(out, renderFeed(items, countUnread(items)))
	})
	fmt.Fprint(out, renderFeed(nf.Items(), nf.UnreadCount()))

	c, err := subscriber.Dial(ctx, subscriber.Config{URL: o.url, DialTimeout: o.timeout}, log.With(logx.Comp("subscriber")))
	if err != nil {
		fmt.Fprintln(out, failStyle.Render("connection error"))
		return err
	}
	defer func() { _ = c.Close() }()

	add := func(n envelope.Notification) { nf.Add(n) }

	// The identity channel goes through a binding so a later identity
	// switch tears the old subscription down first.
	var bindings []*subscriber.Binding
	for _, ch := range channels {
		if ch == envelope.Broadcast.Channel() {
			if _, err := c.Subscribe(ch, envelope.EventNotification, add); err != nil {
				return err
			}
			continue
		}
		b := subscriber.NewBinding(c, envelope.EventNotification, add)
		if err := b.Bind(ch); err != nil {
			return err
		}
		bindings = append(bindings, b)
	}
	defer func() {
		for _, b := range bindings {
			_ = b.Close()
		}
	}()

	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("listening on %v (ctrl-c to stop)", channels)))
	return c.Run(ctx)
}

func countUnread(items []envelope.Notification) int {
	n := 0
	for _, it := range items {
		if !it.Read {
			n++
		}
	}
	return n
}
