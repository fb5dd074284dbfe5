package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cortexltm/ltm/internal/model"
	"github.com/cortexltm/ltm/internal/store"
)

func init() {
	itemCmd := &cobra.Command{
		Use:   "item",
		Short: "Inspect and manage master memory items",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's master memory items",
		Run:   runItemList,
	}
	listCmd.Flags().StringP("user", "u", "", "User id (required)")
	listCmd.Flags().StringP("bucket", "b", "", "Filter by bucket")
	listCmd.Flags().String("status", "active", "Filter by status (active, deprecated, conflicted, all)")
	listCmd.Flags().IntP("limit", "l", 200, "Max results")
	listCmd.MarkFlagRequired("user")

	deprecateCmd := &cobra.Command{
		Use:   "deprecate [item-id]",
		Short: "Mark an item deprecated",
		Args:  cobra.ExactArgs(1),
		Run:   runItemDeprecate,
	}

	evidenceCmd := &cobra.Command{
		Use:   "evidence [item-id]",
		Short: "List an item's evidence trail",
		Args:  cobra.ExactArgs(1),
		Run:   runItemEvidence,
	}

	itemCmd.AddCommand(listCmd, deprecateCmd, evidenceCmd)
	RootCmd.AddCommand(itemCmd)
}

func runItemList(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	bucketFlag, _ := cmd.Flags().GetString("bucket")
	statusFlag, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	var bucket model.Bucket
	if bucketFlag != "" {
		b, err := model.ParseBucket(bucketFlag)
		if err != nil {
			exitErr("list items", err)
		}
		bucket = b
	}
	var status model.ItemStatus
	if statusFlag != "" && statusFlag != "all" {
		st, err := model.ParseStatus(statusFlag)
		if err != nil {
			exitErr("list items", err)
		}
		status = st
	}

	s := openStore(loadConfig())
	defer s.Close()

	items, err := s.ListMasterItems(cmd.Context(), store.ListMasterItemsParams{
		UserID: user,
		Bucket: bucket,
		Status: status,
		Limit:  limit,
	})
	if err != nil {
		exitErr("list items", err)
	}
	b, _ := json.MarshalIndent(items, "", "  ")
	fmt.Println(string(b))
}

func runItemDeprecate(cmd *cobra.Command, args []string) {
	s := openStore(loadConfig())
	defer s.Close()

	if err := s.SetMasterItemStatus(cmd.Context(), args[0], model.StatusDeprecated,
		model.Meta{"deprecated_via": "cli"}); err != nil {
		exitErr("deprecate item", err)
	}
	fmt.Println("deprecated", args[0])
}

func runItemEvidence(cmd *cobra.Command, args []string) {
	s := openStore(loadConfig())
	defer s.Close()

	evs, err := s.ListEvidence(cmd.Context(), args[0])
	if err != nil {
		exitErr("list evidence", err)
	}
	b, _ := json.MarshalIndent(evs, "", "  ")
	fmt.Println(string(b))
}
