package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	threadCmd := &cobra.Command{
		Use:   "thread",
		Short: "Manage conversation threads",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a thread",
		Run:   runThreadCreate,
	}
	createCmd.Flags().StringP("user", "u", "", "User id (required)")
	createCmd.Flags().StringP("title", "t", "", "Thread title")
	createCmd.MarkFlagRequired("user")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's threads",
		Run:   runThreadList,
	}
	listCmd.Flags().StringP("user", "u", "", "User id (required)")
	listCmd.Flags().IntP("limit", "l", 50, "Max results")
	listCmd.MarkFlagRequired("user")

	rmCmd := &cobra.Command{
		Use:   "rm [thread-id]",
		Short: "Delete a thread and its events and summaries",
		Args:  cobra.ExactArgs(1),
		Run:   runThreadRm,
	}

	threadCmd.AddCommand(createCmd, listCmd, rmCmd)
	RootCmd.AddCommand(threadCmd)
}

func runThreadCreate(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	title, _ := cmd.Flags().GetString("title")

	svc, s := openService()
	defer s.Close()

	th, err := svc.CreateThread(cmd.Context(), user, title)
	if err != nil {
		exitErr("create thread", err)
	}
	b, _ := json.Marshal(th)
	fmt.Println(string(b))
}

func runThreadList(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("limit")

	s := openStore(loadConfig())
	defer s.Close()

	threads, err := s.ListThreads(cmd.Context(), user, limit)
	if err != nil {
		exitErr("list threads", err)
	}
	b, _ := json.MarshalIndent(threads, "", "  ")
	fmt.Println(string(b))
}

func runThreadRm(cmd *cobra.Command, args []string) {
	s := openStore(loadConfig())
	defer s.Close()

	if err := s.DeleteThread(cmd.Context(), args[0]); err != nil {
		exitErr("delete thread", err)
	}
	fmt.Println("deleted", args[0])
}
