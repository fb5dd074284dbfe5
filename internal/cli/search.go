package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cortexltm/ltm/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Semantic search over one memory tier",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("user", "u", "", "User id (required)")
	cmd.Flags().StringP("thread", "t", "", "Scope events/summaries to one thread")
	cmd.Flags().String("tier", "events", "Tier: events, summaries, items")
	cmd.Flags().IntP("k", "k", 10, "Max results")
	cmd.MarkFlagRequired("user")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	thread, _ := cmd.Flags().GetString("thread")
	tier, _ := cmd.Flags().GetString("tier")
	k, _ := cmd.Flags().GetInt("k")
	query := strings.Join(args, " ")

	cfg := loadConfig()
	s := openStore(cfg)
	defer s.Close()

	vec, err := buildEmbedder(cfg).Embed(cmd.Context(), query)
	if err != nil {
		exitErr("embed query", err)
	}
	sp := store.SemanticParams{UserID: user, ThreadID: thread, Vector: vec, K: k}

	var out any
	switch tier {
	case "events":
		out, err = s.SearchEvents(cmd.Context(), sp)
	case "summaries":
		out, err = s.SearchSummaries(cmd.Context(), sp)
	case "items":
		out, err = s.SearchMasterItems(cmd.Context(), sp)
	default:
		exitErr("search", fmt.Errorf("unknown tier %q", tier))
	}
	if err != nil {
		exitErr("search", err)
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
