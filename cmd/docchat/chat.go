package main

import (
	"github.com/spf13/cobra"

	"github.com/dream-ai/docchat/internal/tui"
)

var (
	chatServer       string
	chatTenant       string
	chatUser         string
	chatPlan         string
	chatConversation string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the terminal chat client",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := tui.NewClient(chatServer, tui.Identity{Tenant: chatTenant, UserID: chatUser, Plan: chatPlan})
		return tui.Run(cmd.Context(), client, chatConversation)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatServer, "server", "http://localhost:8080", "docchat server URL")
	chatCmd.Flags().StringVar(&chatTenant, "tenant", "", "tenant id")
	chatCmd.Flags().StringVar(&chatUser, "user", "", "user id")
	chatCmd.Flags().StringVar(&chatPlan, "plan", "free", "plan name")
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "continue an existing conversation")
	_ = chatCmd.MarkFlagRequired("tenant")
	_ = chatCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(chatCmd)
}
