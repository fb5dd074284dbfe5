package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Inspect and trigger thread summaries",
	}

	showCmd := &cobra.Command{
		Use:   "show [thread-id]",
		Short: "Show a thread's active summary",
		Args:  cobra.ExactArgs(1),
		Run:   runSummaryShow,
	}

	listCmd := &cobra.Command{
		Use:   "list [thread-id]",
		Short: "List a thread's summaries, archived episodes included",
		Args:  cobra.ExactArgs(1),
		Run:   runSummaryList,
	}
	listCmd.Flags().IntP("limit", "l", 20, "Max results")

	forceCmd := &cobra.Command{
		Use:   "force [thread-id]",
		Short: "Summarize now, ignoring the debounce and turn gate",
		Args:  cobra.ExactArgs(1),
		Run:   runSummaryForce,
	}

	summaryCmd.AddCommand(showCmd, listCmd, forceCmd)
	RootCmd.AddCommand(summaryCmd)
}

func runSummaryShow(cmd *cobra.Command, args []string) {
	s := openStore(loadConfig())
	defer s.Close()

	sm, err := s.ActiveSummary(cmd.Context(), args[0])
	if err != nil {
		exitErr("show summary", err)
	}
	b, _ := json.MarshalIndent(sm, "", "  ")
	fmt.Println(string(b))
}

func runSummaryList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	s := openStore(loadConfig())
	defer s.Close()

	sums, err := s.ListSummaries(cmd.Context(), args[0], true, limit)
	if err != nil {
		exitErr("list summaries", err)
	}
	b, _ := json.MarshalIndent(sums, "", "  ")
	fmt.Println(string(b))
}

func runSummaryForce(cmd *cobra.Command, args []string) {
	svc, s := openService()
	defer s.Close()

	res, err := svc.ForceSummarize(cmd.Context(), args[0])
	if err != nil {
		exitErr("force summary", err)
	}
	if !res.Written {
		fmt.Println("nothing to summarize:", string(res.Reason))
		return
	}
	b, _ := json.MarshalIndent(res.Summary, "", "  ")
	fmt.Println(string(b))
}
