package main

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	gomail "github.com/wneessen/go-mail"
)

// Hands a message to a running smtp listener, mostly useful to try a
// deployment out.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a test message to an smtp listener",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		server, _ := flags.GetString("server")
		from, _ := flags.GetString("from")
		to, _ := flags.GetStringSlice("to")
		subject, _ := flags.GetString("subject")
		text, _ := flags.GetString("text")
		html, _ := flags.GetString("html")
		attachments, _ := flags.GetStringSlice("attach")

		host, rawPort, err := net.SplitHostPort(server)
		if err != nil {
			return errors.Wrap(err, "invalid server address")
		}
		port, err := strconv.Atoi(rawPort)
		if err != nil {
			return errors.Wrap(err, "invalid server port")
		}

		m := gomail.NewMsg()
		if err := m.From(from); err != nil {
			return errors.Wrap(err, "failed to set From address")
		}
		if err := m.To(to...); err != nil {
			return errors.Wrap(err, "failed to set To address")
		}
		m.Subject(subject)
		m.SetBodyString(gomail.TypeTextPlain, text)
		if html != "" {
			m.AddAlternativeString(gomail.TypeTextHTML, html)
		}
		for _, path := range attachments {
			m.AttachFile(path)
		}

		c, err := gomail.NewClient(
			host,
			gomail.WithPort(port),
			gomail.WithTLSPolicy(gomail.NoTLS),
		)
		if err != nil {
			return errors.Wrap(err, "failed to create mail client")
		}

		if err := c.DialAndSendWithContext(cmd.Context(), m); err != nil {
			return errors.Wrap(err, "failed to send mail")
		}

		cmd.Printf("sent %q to %v\n", subject, to)
		return nil
	},
}

func init() {
	sendCmd.Flags().String("server", "127.0.0.1:1025", "Address of the smtp listener")
	sendCmd.Flags().String("from", "sender@example.com", "Envelope and header sender")
	sendCmd.Flags().StringSlice("to", nil, "Recipients")
	sendCmd.Flags().String("subject", "Hello", "Subject line")
	sendCmd.Flags().String("text", "Hello from nullvelope.", "Plain text body")
	sendCmd.Flags().String("html", "", "Optional html alternative")
	sendCmd.Flags().StringSlice("attach", nil, "Files to attach")
	sendCmd.MarkFlagRequired("to")
}
