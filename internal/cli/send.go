package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shopnotify/internal/envelope"
	"shopnotify/internal/sender"
)

type sendOptions struct {
	url     string
	aud     audience
	title   string
	message string
	typ     string
	id      string
	extra   []string
	timeout time.Duration
}

var errSendFailed = errors.New("send failed")

func newSendCmd(root *rootOptions) *cobra.Command {
	o := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish one notification to the relay",
		Example: `  shopnotify send --staff 7 --title "Order assigned" --message "Order #41 is yours" --extra order_id=41
  shopnotify send --broadcast --type warning --title "Closing early" --message "Shop closes at 3pm today"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := o.aud.target()
			if err != nil {
				return err
			}
			pairs, err := parseExtra(o.extra)
			if err != nil {
				return err
			}
			opts := []sender.Option{sender.WithType(envelope.Type(o.typ))}
			if o.id != "" {
				opts = append(opts, sender.WithID(o.id))
			}
			for _, p := range pairs {
				opts = append(opts, sender.WithExtra(p.key, p.value))
			}

			s := sender.New(sender.Config{URL: o.url, ConnectTimeout: o.timeout}, root.logger(cmd))
			defer func() { _ = s.Close() }()

			out := cmd.OutOrStdout()
			if err := s.Connect(cmd.Context()); err != nil {
				switch {
				case errors.Is(err, sender.ErrConnectTimeout):
					fmt.Fprintln(out, failStyle.Render("connection timeout"))
				default:
					fmt.Fprintln(out, failStyle.Render("connection error"))
				}
				return err
			}
			if !s.Send(target, o.title, o.message, opts...) {
				return errSendFailed
			}
			fmt.Fprintf(out, "%s %s\n", passStyle.Render("sent"), dimStyle.Render(target.Channel()))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.url, "url", "ws://127.0.0.1:8080/ws", "relay websocket URL")
	f.StringVar(&o.aud.customer, "customer", "", "customer id (channel customer-<id>)")
	f.StringVar(&o.aud.staff, "staff", "", "staff id (channel staff-<id>)")
	f.BoolVar(&o.aud.broadcast, "broadcast", false, "send to every broadcast listener")
	f.StringVar(&o.title, "title", "", "notification title")
	f.StringVar(&o.message, "message", "", "notification message")
	f.StringVar(&o.typ, "type", string(envelope.TypeInfo), "info|success|warning|error")
	f.StringVar(&o.id, "id", "", "notification id (default: random uuid)")
	f.StringArrayVar(&o.extra, "extra", nil, "extra key=value field (repeatable)")
	f.DurationVar(&o.timeout, "timeout", 5*time.Second, "connect timeout")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
