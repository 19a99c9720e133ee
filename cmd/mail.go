package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/hub"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/ui"
)

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Read and send mailbox messages",
	Long: `List, read and send mailbox messages.

Agents only get a notification when mail arrives; the body is read on demand.

Examples:
  conductor mail                          # Your inbox
  conductor mail --for backend-dev        # An agent's inbox
  conductor mail send qa "API ready" "The /users endpoint is deployed"
  conductor mail read <id>`,
	Args: cobra.NoArgs,
	RunE: runMailList,
}

var mailSendCmd = &cobra.Command{
	Use:   "send <to> <subject> [body]",
	Short: "Send a message",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runMailSend,
}

var mailReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Show a message and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE:  runMailRead,
}

var mailArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mailAction(args[0], "Archived", (*hub.Client).ArchiveMail, cmd)
	},
}

var mailUnarchiveCmd = &cobra.Command{
	Use:   "unarchive <id>",
	Short: "Restore an archived message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mailAction(args[0], "Unarchived", (*hub.Client).UnarchiveMail, cmd)
	},
}

var mailDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mailAction(args[0], "Deleted", (*hub.Client).DeleteMail, cmd)
	},
}

var (
	mailFor      string
	mailFrom     string
	mailUnread   bool
	mailArchived bool
	mailLimit    int
	mailJSON     bool
)

func init() {
	rootCmd.AddCommand(mailCmd)
	mailCmd.AddCommand(mailSendCmd, mailReadCmd, mailArchiveCmd, mailUnarchiveCmd, mailDeleteCmd)

	mailCmd.Flags().StringVar(&mailFor, "for", mailbox.User, "Whose inbox to list")
	mailCmd.Flags().BoolVarP(&mailUnread, "unread", "u", false, "Only unread messages")
	mailCmd.Flags().BoolVarP(&mailArchived, "archived", "a", false, "Include archived messages")
	mailCmd.Flags().IntVarP(&mailLimit, "limit", "n", 0, "Maximum number of messages")
	mailCmd.Flags().BoolVar(&mailJSON, "json", false, "Output as JSON")
	mailSendCmd.Flags().StringVar(&mailFrom, "from", mailbox.User, "Sender")
}

func runMailList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	headers, err := client.Mail(cmd.Context(), hub.MailQuery{
		Participant:     mailFor,
		UnreadOnly:      mailUnread,
		IncludeArchived: mailArchived,
		Limit:           mailLimit,
	})
	if err != nil {
		return err
	}
	if mailJSON {
		return printJSON(headers)
	}
	if len(headers) == 0 {
		fmt.Println(ui.StyleDim.Render("No messages for " + mailFor))
		return nil
	}

	rows := make([][]string, 0, len(headers))
	for _, h := range headers {
		flag := ui.StyleCyan.Render("●")
		if h.Read {
			flag = " "
		}
		if h.Archived {
			flag = ui.StyleDim.Render("a")
		}
		rows = append(rows, []string{flag, h.ID, h.From, truncateText(h.Subject, 50), ui.Age(h.Timestamp)})
	}
	fmt.Print(ui.Table([]string{"", "ID", "FROM", "SUBJECT", "AGE"}, rows))
	return nil
}

func runMailSend(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	req := mailbox.SendRequest{From: mailFrom, To: args[0], Subject: args[1]}
	if len(args) == 3 {
		req.Body = args[2]
	}
	msg, err := client.SendMail(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	fmt.Println(ui.Success(fmt.Sprintf("Sent %s to %s", msg.ID, msg.To)))
	return nil
}

func runMailRead(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	msg, err := client.ReadMail(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if mailJSON {
		return printJSON(msg)
	}
	fmt.Print(renderMail(msg))
	return nil
}

func renderMail(m *mailbox.Message) string {
	var b strings.Builder
	b.WriteString(ui.Header(m.Subject))
	b.WriteString(ui.KeyValue("From", m.From))
	b.WriteString(ui.KeyValue("To", m.To))
	b.WriteString(ui.KeyValue("Date", m.Timestamp.Local().Format("2006-01-02 15:04:05")))
	b.WriteString("\n")
	b.WriteString(m.Body)
	b.WriteString("\n")
	return b.String()
}

func mailAction(id, done string, action func(*hub.Client, context.Context, string) error, cmd *cobra.Command) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if err := action(client, cmd.Context(), id); err != nil {
		return err
	}
	fmt.Println(ui.Success(done + " " + id))
	return nil
}
