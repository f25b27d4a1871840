package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Browse the news index",
}

var newsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently ingested articles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		articles, err := newClient().RecentNews(cmd.Context())
		if err != nil {
			return fmt.Errorf("recent news: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatArticles(articles))
		return nil
	},
}

var newsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search articles by meaning",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		articles, err := newClient().SearchNews(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("search news: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatArticles(articles))
		return nil
	},
}

func init() {
	newsCmd.AddCommand(newsRecentCmd, newsSearchCmd)
}
