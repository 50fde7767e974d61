package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"cerechat/internal/chat"
	"cerechat/internal/exitcode"
)

var (
	sendChatID string
	sendNew    bool
	sendStats  bool
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message and print the assistant reply",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = strings.TrimSpace(string(data))
		}
		if text == "" {
			return fmt.Errorf("no message provided")
		}

		streaming := false
		a, err := newApp(func(chatID, delta string) {
			streaming = true
			fmt.Print(delta)
		})
		if err != nil {
			return err
		}
		defer a.close()

		chatID := sendChatID
		switch {
		case sendNew:
			chatID = a.store.CreateChat("")
		case chatID == "":
			chatID = a.store.EnsureAnyChat()
		}
		a.store.SetActiveChat(chatID)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			a.store.CancelGeneration()
		}()

		msg := a.store.SendMessage(ctx, chatID, text)
		if msg == nil {
			return fmt.Errorf("message not sent")
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
		if sendStats && msg.Meta != nil {
			printStats(msg.Meta)
		}
		return nil
	},
}

func printStats(meta *chat.MessageMeta) {
	if meta.Model != "" {
		fmt.Fprintf(os.Stderr, "model: %s\n", meta.Model)
	}
	if meta.TotalTokens > 0 {
		fmt.Fprintf(os.Stderr, "tokens: %d prompt, %d completion, %d total\n",
			meta.PromptTokens, meta.CompletionTokens, meta.TotalTokens)
	}
	if t := meta.TimeInfo; t != nil {
		fmt.Fprintf(os.Stderr, "time: %.3fs queue, %.3fs prompt, %.3fs completion, %.3fs total\n",
			t.QueueTime, t.PromptTime, t.CompletionTime, t.TotalTime)
	}
}

func init() {
	sendCmd.Flags().StringVar(&sendChatID, "chat", "", "chat id to send into (default: active chat)")
	sendCmd.Flags().BoolVar(&sendNew, "new", false, "start a fresh chat")
	sendCmd.Flags().BoolVar(&sendStats, "stats", false, "print token and timing stats to stderr")
	rootCmd.AddCommand(sendCmd)
}
