package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search [phrase]",
	Short: "Search dialogue units, semantically or by filters",
	Long: `Search dialogue units. A phrase triggers semantic ranking over the
vector index; flags restrict the candidate set relationally.

Examples:
  chatmem search "that trip we planned to Lisbon"
  chatmem search --intent question --topic travel
  chatmem search "restaurants" --discussion latest --limit 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		phrase := strings.Join(args, " ")
		topic, _ := cmd.Flags().GetString("topic")
		intent, _ := cmd.Flags().GetString("intent")
		discussion, _ := cmd.Flags().GetString("discussion")
		limit, _ := cmd.Flags().GetInt("limit")
		page, _ := cmd.Flags().GetInt("page")
		order, _ := cmd.Flags().GetString("order")

		req := map[string]any{
			"limit": limit,
			"page":  page,
			"order": order,
		}
		if phrase != "" {
			req["phrase"] = phrase
		}
		if topic != "" {
			req["topic"] = topic
		}
		if intent != "" {
			req["intent"] = intent
		}
		if discussion != "" {
			req["discussion_id"] = discussion
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/search", req)
		if err != nil {
			return err
		}

		var result struct {
			DialogueUnitIDs []int64   `json:"dialogue_unit_ids"`
			Distances       []float64 `json:"distances"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.DialogueUnitIDs) == 0 {
			fmt.Println("No dialogue units found.")
			return nil
		}

		for i, id := range result.DialogueUnitIDs {
			unitResp, err := client.get(cmd.Context(), fmt.Sprintf("/dialogue-units/%d", id))
			if err != nil {
				return err
			}
			var unit struct {
				Prompt    string `json:"prompt"`
				Response  string `json:"response"`
				Intent    string `json:"intent"`
				Timestamp string `json:"timestamp"`
			}
			if err := decodeJSON(unitResp, &unit); err != nil {
				return err
			}

			header := fmt.Sprintf("Unit %d", id)
			if result.Distances != nil {
				header += fmt.Sprintf(" [distance: %.3f]", result.Distances[i])
			}
			fmt.Printf("\n%s  %s\n", colorize(colorBold, header), unit.Timestamp)
			fmt.Printf("  %s %s\n", colorize(colorCyan, "prompt:"), truncate(unit.Prompt, 200))
			fmt.Printf("  %s %s\n", colorize(colorCyan, "response:"), truncate(unit.Response, 200))
		}
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func init() {
	searchCmd.Flags().String("topic", "", "restrict to units tagged with a topic")
	searchCmd.Flags().String("intent", "", "restrict to units with an intent")
	searchCmd.Flags().String("discussion", "", "restrict to a discussion (id or keyword like latest, featured)")
	searchCmd.Flags().Int("limit", 5, "maximum number of results (up to 10)")
	searchCmd.Flags().Int("page", 0, "result page")
	searchCmd.Flags().String("order", "asc", "result order: asc or desc")
}

// --- discussions ---

var discussionsCmd = &cobra.Command{
	Use:   "discussions",
	Short: "Browse and annotate past discussions",
}

var discussionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discussions matching filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		category, _ := cmd.Flags().GetString("category")
		featured, _ := cmd.Flags().GetBool("featured")
		limit, _ := cmd.Flags().GetInt("limit")
		orderBy, _ := cmd.Flags().GetString("order-by")
		order, _ := cmd.Flags().GetString("order")

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		q.Set("order_by", orderBy)
		q.Set("order", order)
		if title != "" {
			q.Set("title", title)
		}
		if category != "" {
			q.Set("category", category)
		}
		if cmd.Flags().Changed("featured") {
			q.Set("featured", fmt.Sprint(featured))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/discussions?"+q.Encode())
		if err != nil {
			return err
		}

		var result struct {
			DiscussionIDs []int64 `json:"discussion_ids"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.DiscussionIDs) == 0 {
			fmt.Println("No discussions found.")
			return nil
		}

		for _, id := range result.DiscussionIDs {
			dResp, err := client.get(cmd.Context(), fmt.Sprintf("/discussions/%d", id))
			if err != nil {
				return err
			}
			var d struct {
				Title             string `json:"title"`
				StartTime         string `json:"starttime"`
				Featured          bool   `json:"featured"`
				DialogueUnitCount int    `json:"dialogue_unit_count"`
			}
			if err := decodeJSON(dResp, &d); err != nil {
				return err
			}
			marker := " "
			if d.Featured {
				marker = colorize(colorYellow, "*")
			}
			title := d.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s %s  %s  %s  (%d units)\n",
				marker,
				colorize(colorCyan, fmt.Sprintf("%4d", id)),
				d.StartTime,
				title,
				d.DialogueUnitCount,
			)
		}
		return nil
	},
}

var discussionsShowCmd = &cobra.Command{
	Use:   "show <id|keyword>",
	Short: "Show one discussion as JSON",
	Long: `Show one discussion. Accepts a numeric id or a keyword:
current, latest, first, featured, random.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/discussions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var discussion any
		if err := decodeJSON(resp, &discussion); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(discussion)
	},
}

var discussionsSetCmd = &cobra.Command{
	Use:   "set <id|keyword>",
	Short: "Update a discussion's title or featured flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			body["title"] = title
		}
		if cmd.Flags().Changed("featured") {
			featured, _ := cmd.Flags().GetBool("featured")
			body["featured"] = featured
		}
		if len(body) == 0 {
			return fmt.Errorf("nothing to update: pass --title or --featured")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/discussions/"+url.PathEscape(args[0]), body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Discussion %s updated", args[0])
		return nil
	},
}

func init() {
	discussionsListCmd.Flags().String("title", "", "filter by title substring")
	discussionsListCmd.Flags().String("category", "", "filter by category name")
	discussionsListCmd.Flags().Bool("featured", false, "filter by featured flag")
	discussionsListCmd.Flags().Int("limit", 10, "maximum number of discussions (up to 10)")
	discussionsListCmd.Flags().String("order-by", "starttime", "sort field: title, starttime, endtime, featured, cost")
	discussionsListCmd.Flags().String("order", "desc", "sort order: asc or desc")

	discussionsSetCmd.Flags().String("title", "", "new title")
	discussionsSetCmd.Flags().Bool("featured", false, "featured flag")

	discussionsCmd.AddCommand(discussionsListCmd)
	discussionsCmd.AddCommand(discussionsShowCmd)
	discussionsCmd.AddCommand(discussionsSetCmd)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Compute aggregate statistics over stored memory",
	Long: `Compute aggregate statistics.

Examples:
  chatmem stats --type count --entity dialogue_unit_id
  chatmem stats --type average --entity sentiment --grouping topic
  chatmem stats --type sum --entity cost --filter category="Small Talk"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statType, _ := cmd.Flags().GetString("type")
		entity, _ := cmd.Flags().GetString("entity")
		grouping, _ := cmd.Flags().GetString("grouping")
		filterPairs, _ := cmd.Flags().GetStringArray("filter")

		req := map[string]any{
			"type":   statType,
			"entity": entity,
		}
		if grouping != "" {
			req["grouping"] = grouping
		}
		if len(filterPairs) > 0 {
			filters := map[string]string{}
			for _, pair := range filterPairs {
				key, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid filter %q: want key=value", pair)
				}
				filters[key] = value
			}
			req["filters"] = filters
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/statistics", req)
		if err != nil {
			return err
		}

		var rows []struct {
			Group any `json:"group"`
			Value any `json:"value"`
		}
		if err := decodeJSON(resp, &rows); err != nil {
			return err
		}

		if len(rows) == 0 {
			fmt.Println("No data.")
			return nil
		}

		for _, row := range rows {
			if row.Group != nil {
				fmt.Printf("  %s %v\n", colorize(colorBold, fmt.Sprintf("%v:", row.Group)), row.Value)
			} else {
				fmt.Printf("  %v\n", row.Value)
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().String("type", "count", "aggregation: count, average, sum, minimum, maximum")
	statsCmd.Flags().String("entity", "dialogue_unit_id", "dimension to aggregate")
	statsCmd.Flags().String("grouping", "", "dimension to group by")
	statsCmd.Flags().StringArray("filter", nil, "filter as key=value (repeatable)")
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the user profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profile")
		if err != nil {
			return err
		}

		var profile any
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile field",
	Long: `Set a profile field by dotted key, e.g.:

  chatmem profile set identity.name Ada
  chatmem profile set speech.tone casual
  chatmem profile set interests '["jazz","cycling"]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/profile", map[string]any{key: value})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
}
