package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cortexltm/ltm/internal/memory"
)

func init() {
	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Append and inspect conversation events",
	}

	appendCmd := &cobra.Command{
		Use:   "append [content]",
		Short: "Append an event to a thread",
		Long:  "Append an event. Content can be a positional arg or piped via stdin. Runs the full enrichment pipeline.",
		Run:   runEventAppend,
	}
	appendCmd.Flags().StringP("thread", "t", "", "Thread id (required)")
	appendCmd.Flags().StringP("actor", "a", "user", "Actor: user, assistant, system")
	appendCmd.Flags().IntP("importance", "i", -1, "Override the scored importance (0-5)")
	appendCmd.Flags().Bool("embed", false, "Embed the event regardless of importance")
	appendCmd.MarkFlagRequired("thread")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a thread's most recent events",
		Run:   runEventList,
	}
	listCmd.Flags().StringP("thread", "t", "", "Thread id (required)")
	listCmd.Flags().IntP("limit", "l", 30, "Max results")
	listCmd.MarkFlagRequired("thread")

	eventCmd.AddCommand(appendCmd, listCmd)
	RootCmd.AddCommand(eventCmd)
}

func runEventAppend(cmd *cobra.Command, args []string) {
	threadID, _ := cmd.Flags().GetString("thread")
	actor, _ := cmd.Flags().GetString("actor")
	importance, _ := cmd.Flags().GetInt("importance")
	forceEmbed, _ := cmd.Flags().GetBool("embed")

	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("append", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	svc, s := openService()
	defer s.Close()

	params := memory.AppendParams{
		ThreadID:   threadID,
		Actor:      actor,
		Content:    strings.TrimSpace(content),
		ForceEmbed: forceEmbed,
	}
	if importance >= 0 {
		params.Importance = &importance
	}
	e, err := svc.AppendEvent(cmd.Context(), params)
	if err != nil {
		exitErr("append", err)
	}
	b, _ := json.Marshal(e)
	fmt.Println(string(b))
}

func runEventList(cmd *cobra.Command, args []string) {
	threadID, _ := cmd.Flags().GetString("thread")
	limit, _ := cmd.Flags().GetInt("limit")

	s := openStore(loadConfig())
	defer s.Close()

	events, err := s.RecentEvents(cmd.Context(), threadID, limit)
	if err != nil {
		exitErr("list events", err)
	}
	b, _ := json.MarshalIndent(events, "", "  ")
	fmt.Println(string(b))
}
