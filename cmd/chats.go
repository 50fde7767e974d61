package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"cerechat/internal/chat"
	"cerechat/internal/exitcode"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage chat conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listChats()
	},
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listChats()
	},
}

func listChats() error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.close()

	active := a.store.ActiveChatID()
	for _, c := range a.store.Chats() {
		marker := " "
		if c.ID == active {
			marker = "*"
		}
		fmt.Printf("%s %s  %-40s  %d messages  %s\n",
			marker, c.ID, c.Title, len(c.Messages), c.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

var chatsNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a chat and make it active",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		title := ""
		if len(args) == 1 {
			title = args[0]
		}
		id := a.store.CreateChat(title)
		a.store.SetActiveChat(id)
		fmt.Println(id)
		return nil
	},
}

var chatsShowCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Print a chat transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		c, ok := a.store.Chat(args[0])
		if !ok {
			return fmt.Errorf("unknown chat %q", args[0])
		}
		fmt.Printf("%s  (%s)\n\n", c.Title, c.ID)
		for _, m := range c.Messages {
			fmt.Printf("[%s] %s\n", m.Role, m.ID)
			if m.Content != "" {
				fmt.Println(m.Content)
			}
			if m.Status == chat.StatusError && m.Error != "" {
				fmt.Printf("error: %s\n", m.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

var chatsRenameCmd = &cobra.Command{
	Use:   "rename <chat-id> <title>",
	Short: "Rename a chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		a.store.RenameChat(args[0], strings.Join(args[1:], " "))
		return nil
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		a.store.DeleteChat(args[0])
		return nil
	},
}

var chatsUseCmd = &cobra.Command{
	Use:   "use <chat-id>",
	Short: "Make a chat the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		if _, ok := a.store.Chat(args[0]); !ok {
			return fmt.Errorf("unknown chat %q", args[0])
		}
		a.store.SetActiveChat(args[0])
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <chat-id> <message-id>",
	Short: "Regenerate an assistant message, discarding it and everything after",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		streaming := false
		a, err := newApp(func(chatID, delta string) {
			streaming = true
			fmt.Print(delta)
		})
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			a.store.CancelGeneration()
		}()

		msg := a.store.RetryFromMessage(ctx, args[0], args[1])
		if msg == nil {
			return fmt.Errorf("message not retried")
		}
		if streaming {
			fmt.Println()
		} else {
			fmt.Println(msg.Content)
		}
		if msg.Status == chat.StatusError {
			if ctx.Err() != nil {
				return exitcode.Cancel()
			}
			return fmt.Errorf("generation failed")
		}
		return nil
	},
}

var deleteMessageCmd = &cobra.Command{
	Use:   "delete-message <chat-id> <message-id>",
	Short: "Remove a single message from a chat",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		a.store.DeleteMessage(args[0], args[1])
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all chats and start over",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		id := a.store.ResetAll()
		fmt.Println(id)
		return nil
	},
}

func init() {
	chatsCmd.AddCommand(chatsListCmd, chatsNewCmd, chatsShowCmd, chatsRenameCmd, chatsDeleteCmd, chatsUseCmd)
	rootCmd.AddCommand(chatsCmd, retryCmd, deleteMessageCmd, resetCmd)
}
