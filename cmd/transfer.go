package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	exportChatID string
	importMerge  bool
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export chats as JSON (stdout if no file given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		var data []byte
		if exportChatID != "" {
			data, err = a.store.ExportChat(exportChatID)
		} else {
			data, err = a.store.ExportState()
		}
		if err != nil {
			return err
		}
		if len(args) == 0 {
			fmt.Println(string(data))
			return nil
		}
		return os.WriteFile(args[0], data, 0o644)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import chats from a JSON export",
	Long: `Import replaces the whole collection with the exported state. With
--merge the file is treated as a single-chat export and added alongside the
existing chats.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		if importMerge {
			id, err := a.store.ImportChat(data)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		}
		return a.store.Import(data)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportChatID, "chat", "", "export a single chat instead of everything")
	importCmd.Flags().BoolVar(&importMerge, "merge", false, "add a single exported chat without replacing existing ones")
	rootCmd.AddCommand(exportCmd, importCmd)
}
