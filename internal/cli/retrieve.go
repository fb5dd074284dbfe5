package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cortexltm/ltm/internal/retrieve"
)

func init() {
	cmd := &cobra.Command{
		Use:   "retrieve [query]",
		Short: "Compose memory context for a query",
		Long:  "Retrieve the active summary, semantic matches across events, summaries, and master items, and the most recent events.",
		Run:   runRetrieve,
	}

	cmd.Flags().StringP("user", "u", "", "User id (required)")
	cmd.Flags().StringP("thread", "t", "", "Scope to one thread")
	cmd.Flags().IntP("k", "k", 5, "Per-list semantic result cap")
	cmd.Flags().IntP("recent", "r", 0, "Recent events window (default from config)")
	cmd.MarkFlagRequired("user")

	RootCmd.AddCommand(cmd)
}

func runRetrieve(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	thread, _ := cmd.Flags().GetString("thread")
	k, _ := cmd.Flags().GetInt("k")
	recent, _ := cmd.Flags().GetInt("recent")

	svc, s := openService()
	defer s.Close()

	got, err := svc.Retrieve(cmd.Context(), retrieve.Params{
		UserID:   user,
		ThreadID: thread,
		Query:    strings.Join(args, " "),
		K:        k,
		RecentN:  recent,
	})
	if err != nil {
		exitErr("retrieve", err)
	}
	b, _ := json.MarshalIndent(got, "", "  ")
	fmt.Println(string(b))
}
