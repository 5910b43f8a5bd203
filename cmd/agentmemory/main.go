// Command agentmemory is a thin CLI over the memory store, mostly useful for
// poking at collections during development.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ai16z/agentmemory/ai"
	"github.com/ai16z/agentmemory/internal/profile"
	"github.com/ai16z/agentmemory/store"
	"github.com/ai16z/agentmemory/store/db"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "agentmemory",
		Short:         "Vector-backed memory collections over Postgres or SQLite",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", "run mode (dev or prod)")
	flags.String("driver", "postgres", "database driver (postgres or sqlite)")
	flags.String("dsn", "", "database connection string")
	flags.String("embedding-provider", "openai", "embedding provider (openai, siliconflow, ollama, local)")
	flags.String("embedding-model", "text-embedding-3-small", "embedding model name")
	flags.String("embedding-api-key", "", "embedding provider API key")
	flags.String("embedding-base-url", "", "embedding provider base URL")
	flags.Int("embedding-dimensions", profile.DefaultEmbeddingDimensions, "embedding vector width")

	viper.SetEnvPrefix("agentmemory")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(flags)

	rootCmd.AddCommand(
		newCollectionsCmd(),
		newCountCmd(),
		newAddCmd(),
		newUpsertCmd(),
		newGetCmd(),
		newPeekCmd(),
		newQueryCmd(),
		newUpdateCmd(),
		newDeleteCmd(),
		newDropCmd(),
	)
	return rootCmd
}

// openStore builds a store from flags and environment.
func openStore() (*store.Store, error) {
	p := &profile.Profile{
		Mode:                viper.GetString("mode"),
		Driver:              viper.GetString("driver"),
		DSN:                 viper.GetString("dsn"),
		EmbeddingProvider:   viper.GetString("embedding-provider"),
		EmbeddingAPIKey:     viper.GetString("embedding-api-key"),
		EmbeddingBaseURL:    viper.GetString("embedding-base-url"),
		EmbeddingModel:      viper.GetString("embedding-model"),
		EmbeddingDimensions: viper.GetInt("embedding-dimensions"),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	embedder, err := ai.NewEmbeddingService(&ai.EmbeddingConfig{
		Provider:   p.EmbeddingProvider,
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		Model:      p.EmbeddingModel,
		Dimensions: p.Dimensions(),
	})
	if err != nil {
		return nil, err
	}

	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	return store.New(driver, embedder, p), nil
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

// parseMetadata turns repeated key=value flags into a metadata map.
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	metadata := map[string]string{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid metadata %q: expected key=value", pair)
		}
		metadata[key] = value
	}
	return metadata, nil
}

func newCollectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List materialized collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			categories, err := s.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			for _, category := range categories {
				fmt.Println(category)
			}
			return nil
		},
	}
}

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <category>",
		Short: "Count records in a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			collection, err := s.GetOrCreateCollection(args[0])
			if err != nil {
				return err
			}
			count, err := collection.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		},
	}
}

func newAddCmd() *cobra.Command {
	var (
		id    int64
		metas []string
	)
	cmd := &cobra.Command{
		Use:   "add <category> <document>",
		Short: "Insert a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			metadata, err := parseMetadata(metas)
			if err != nil {
				return err
			}

			collection, err := s.GetOrCreateCollection(args[0])
			if err != nil {
				return err
			}
			add := &store.AddMemory{Document: args[1], Metadata: metadata}
			if cmd.Flags().Changed("id") {
				add.ID = &id
			}
			ids, err := collection.Add(cmd.Context(), []*store.AddMemory{add})
			if err != nil {
				return err
			}
			fmt.Println(ids[0])
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "explicit record id")
	cmd.Flags().StringArrayVar(&metas, "meta", nil, "metadata key=value (repeatable)")
	return cmd
}

func newUpsertCmd() *cobra.Command {
	var (
		id    int64
		metas []string
	)
	cmd := &cobra.Command{
		Use:   "upsert <category> <document>",
		Short: "Insert a record, replacing it when the id already exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			metadata, err := parseMetadata(metas)
			if err != nil {
				return err
			}

			collection, err := s.GetOrCreateCollection(args[0])
			if err != nil {
				return err
			}
			add := &store.AddMemory{Document: args[1], Metadata: metadata}
			if cmd.Flags().Changed("id") {
				add.ID = &id
			}
			ids, err := collection.Upsert(cmd.Context(), []*store.AddMemory{add})
			if err != nil {
				return err
			}
			fmt.Println(ids[0])
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "explicit record id")
	cmd.Flags().StringArrayVar(&metas, "meta", nil, "metadata key=value (repeatable)")
	return cmd
}

func newGetCmd() *cobra.Command {
	var (
		ids      []string
		limit    int
		offset   int
		contains string
		metas    []string
	)
	cmd := &cobra.Command{
		Use:   "get <category>",
		Short: "Fetch records by id or scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			metadata, err := parseMetadata(metas)
			if err != nil {
				return err
			}

			collection, err := s.GetOrCreateCollection(args[0])
			if err != nil {
				return err
			}
			find := &store.FindMemory{IDs: ids, MetadataEquals: metadata}
			if cmd.Flags().Changed("limit") {
				find.Limit = &limit
			}
			if cmd.Flags().Changed("offset") {
				find.Offset = &offset
			}
			if contains != "" {
				find.DocumentContains = &contains
			}
			records, err := collection.Get(cmd.Context(), find)
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "record ids")
	cmd.Flags().IntVar(&limit, "limit", 0, "max records")
	cmd.Flags().IntVar(&offset, "offset", 0, "scan offset")
	cmd.Flags().StringVar(&contains, "contains", "", "document substring filter")
	cmd.Flags().StringArrayVar(&metas, "meta", nil, "metadata equality filter key=value (repeatable)")
	return cmd
}

func newPeekCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "peek <category>",
		Short: "Show the first few records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			collection, err := s.GetOrCreateCollection(args[0])
			if err != nil {
				return err
			}
			records, err := collection.Peek(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "max records")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var nResults int
	cmd := &cobra.Command{
		Use:   "query <category> <text>...",
		Short: "Nearest-neighbor search",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			collection, err := s.GetOrCreateCollection(args[0])
			if err != nil {
				return err
			}
			results, err := collection.Query(cmd.Context(), &store.QueryMemory{
				Texts:    args[1:],
				NResults: nResults,
			})
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().IntVar(&nResults, "n-results", 10, "matches per query text")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	var (
		id       int64
		document string
		metas    []string
	)
	cmd := &cobra.Command{
		Use:   "update <category>",
		Short: "Update a record's document and/or metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			metadata, err := parseMetadata(metas)
			if err != nil {
				return err
			}

			collection, err := s.GetOrCreateCollection(args[0])
			if err != nil {
				return err
			}
			update := &store.UpdateMemory{ID: id, Metadata: metadata}
			if cmd.Flags().Changed("document") {
				update.Document = &document
			}
			return collection.Update(cmd.Context(), []*store.UpdateMemory{update})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "record id")
	cmd.Flags().StringVar(&document, "document", "", "new document text")
	cmd.Flags().StringArrayVar(&metas, "meta", nil, "metadata key=value (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var (
		ids      []string
		contains string
		metas    []string
	)
	cmd := &cobra.Command{
		Use:   "delete <category>",
		Short: "Delete records matching all given predicates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			metadata, err := parseMetadata(metas)
			if err != nil {
				return err
			}

			collection, err := s.GetOrCreateCollection(args[0])
			if err != nil {
				return err
			}
			del := &store.DeleteMemory{IDs: ids, MetadataEquals: metadata}
			if contains != "" {
				del.DocumentContains = &contains
			}
			deleted, err := collection.Delete(cmd.Context(), del)
			if err != nil {
				return err
			}
			fmt.Println(deleted)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "record ids")
	cmd.Flags().StringVar(&contains, "contains", "", "document substring predicate")
	cmd.Flags().StringArrayVar(&metas, "meta", nil, "metadata equality predicate key=value (repeatable)")
	return cmd
}

func newDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <category>",
		Short: "Drop a collection and all its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return s.DeleteCollection(cmd.Context(), args[0])
		},
	}
}
