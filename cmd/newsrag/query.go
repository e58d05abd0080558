package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsrag/internal/rag"
)

func searchCMD(cfgPath *string) *cobra.Command {
	var weekToken string
	var limit int
	var search = &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over the article corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.warm(cmd.Context()); err != nil {
				return err
			}
			resp, err := a.svc.Search(cmd.Context(), rag.SearchRequest{
				Query: strings.Join(args, " "),
				Week:  weekToken,
				Limit: limit,
			})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	search.Flags().StringVarP(&weekToken, "week", "w", "all", "week filter: all, current or YYYY-Www")
	search.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (0 = retrieval.default_limit)")
	return search
}

func chatCMD(cfgPath *string) *cobra.Command {
	var sessionID string
	var chat = &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask a question grounded in the news corpus",
		Long: "Ask a question grounded in the news corpus. Without --session a new conversation is " +
			"started; pass the returned session_id to continue it (requires session.store redis " +
			"across invocations).",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.warm(cmd.Context()); err != nil {
				return err
			}
			resp, err := a.svc.Chat(cmd.Context(), sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	chat.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue")
	return chat
}

func summarizeCMD(cfgPath *string) *cobra.Command {
	var weekToken string
	var summarize = &cobra.Command{
		Use:   "summarize",
		Short: "Summarize the articles published in a week",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			summary, err := a.svc.Summarize(cmd.Context(), weekToken)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"week": weekToken, "summary": summary})
		},
	}
	summarize.Flags().StringVarP(&weekToken, "week", "w", "current", "week: all, current or YYYY-Www")
	return summarize
}

func weeksCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "weeks",
		Short: "List the weeks that have articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			weeks, err := a.svc.Weeks(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(weeks)
		},
	}
}

func healthCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Load the index and report its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.warm(cmd.Context()); err != nil {
				return err
			}
			h, err := a.svc.Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(h)
		},
	}
}
