package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/bobuk/uodm/pkg/backend"
	"github.com/bobuk/uodm/pkg/document"
	"github.com/bobuk/uodm/pkg/uodm"
)

var (
	storeURL   string
	dbName     string
	configPath string
	verbose    bool
)

// fileConfig is the yaml shape of a config file passed with --config.
type fileConfig struct {
	URL          string `yaml:"url"`
	Database     string `yaml:"database"`
	NativeEvents bool   `yaml:"native_events"`
}

var rootCmd = &cobra.Command{
	Use:   "uodm",
	Short: "CLI for uodm document stores",
	Long:  `A command-line interface for querying and managing uodm document stores over mongodb://, file:// and sqlite:// URLs.`,
}

func openStore(ctx context.Context) (*uodm.Store, error) {
	cfg := fileConfig{}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if storeURL != "" {
		cfg.URL = storeURL
	}
	if dbName != "" {
		cfg.Database = dbName
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("no store URL: pass --url or a --config file")
	}

	logger := zap.NewNop().Sugar()
	if verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		logger = dev.Sugar()
	}

	return uodm.Connect(ctx, cfg.URL, uodm.Config{
		Database:     cfg.Database,
		NativeEvents: cfg.NativeEvents,
		Logger:       logger,
	})
}

func parseJSONFlag(raw, name string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid %s JSON: %w", name, err)
	}
	return m, nil
}

func printDoc(doc document.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

var insertCmd = &cobra.Command{
	Use:   "insert <collection>",
	Short: "Insert a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("doc")
		doc, err := parseJSONFlag(raw, "document")
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		res, err := store.Collection(args[0]).InsertOne(ctx, doc)
		if err != nil {
			return err
		}
		fmt.Println(res.InsertedID)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <collection> <id>",
	Short: "Fetch one document by id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		doc, err := store.Collection(args[0]).FindOne(ctx, map[string]any{"_id": args[1]})
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("document %q not found", args[1])
		}
		return printDoc(doc)
	},
}

var findCmd = &cobra.Command{
	Use:   "find <collection>",
	Short: "Query documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawFilter, _ := cmd.Flags().GetString("filter")
		sortField, _ := cmd.Flags().GetString("sort")
		desc, _ := cmd.Flags().GetBool("desc")
		skip, _ := cmd.Flags().GetInt("skip")
		limit, _ := cmd.Flags().GetInt("limit")

		filter, err := parseJSONFlag(rawFilter, "filter")
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		cur := store.Collection(args[0]).Find(filter)
		if sortField != "" {
			dir := backend.SortAscending
			if desc {
				dir = backend.SortDescending
			}
			cur = cur.Sort(sortField, dir)
		}
		if skip > 0 {
			cur = cur.Skip(skip)
		}
		if limit > 0 {
			cur = cur.Limit(limit)
		}

		docs, err := cur.All(ctx)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := printDoc(doc); err != nil {
				return err
			}
		}
		fmt.Fprintf(os.Stderr, "%d document(s)\n", len(docs))
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count <collection>",
	Short: "Count matching documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawFilter, _ := cmd.Flags().GetString("filter")
		filter, err := parseJSONFlag(rawFilter, "filter")
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		n, err := store.Collection(args[0]).Count(ctx, filter)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <collection>",
	Short: "Update matching documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawFilter, _ := cmd.Flags().GetString("filter")
		rawSet, _ := cmd.Flags().GetString("set")
		many, _ := cmd.Flags().GetBool("many")
		upsert, _ := cmd.Flags().GetBool("upsert")

		filter, err := parseJSONFlag(rawFilter, "filter")
		if err != nil {
			return err
		}
		set, err := parseJSONFlag(rawSet, "set")
		if err != nil {
			return err
		}
		if len(set) == 0 {
			return fmt.Errorf("--set is required")
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		coll := store.Collection(args[0])
		var res backend.UpdateResult
		if many {
			res, err = coll.UpdateMany(ctx, filter, set)
		} else {
			res, err = coll.UpdateOne(ctx, filter, set, upsert)
		}
		if err != nil {
			return err
		}
		if res.UpsertedID != "" {
			fmt.Printf("upserted %s\n", res.UpsertedID)
			return nil
		}
		fmt.Printf("matched %d, modified %d\n", res.MatchedCount, res.ModifiedCount)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <collection>",
	Short: "Delete one matching document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawFilter, _ := cmd.Flags().GetString("filter")
		filter, err := parseJSONFlag(rawFilter, "filter")
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		res, err := store.Collection(args[0]).DeleteOne(ctx, filter)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d\n", res.DeletedCount)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <collection>",
	Short: "Create an index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keysFlag, _ := cmd.Flags().GetString("keys")
		name, _ := cmd.Flags().GetString("name")
		unique, _ := cmd.Flags().GetBool("unique")
		sparse, _ := cmd.Flags().GetBool("sparse")

		if keysFlag == "" {
			return fmt.Errorf("--keys is required")
		}
		var keys []string
		for _, k := range strings.Split(keysFlag, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		idx := backend.Index{Keys: keys, Name: name, Unique: unique, Sparse: sparse}
		if err := store.Collection(args[0]).EnsureIndexes(ctx, []backend.Index{idx}); err != nil {
			return err
		}
		fmt.Printf("index %s created\n", idx.ResolvedName())
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <collection>",
	Short: "Stream change events until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawFilter, _ := cmd.Flags().GetString("filter")
		filter, err := parseJSONFlag(rawFilter, "filter")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		stream, err := store.Collection(args[0]).Watch(ctx, filter)
		if err != nil {
			return err
		}

		for {
			ev, err := stream.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if ev == nil {
				if ctx.Err() != nil {
					return nil
				}
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		}
	},
}

var databasesCmd = &cobra.Command{
	Use:   "databases",
	Short: "List databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		names, err := store.ListDatabases(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&storeURL, "url", "u", "", "Store URL (mongodb://, file://, sqlite://)")
	rootCmd.PersistentFlags().StringVar(&dbName, "db", "", "Database name")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	insertCmd.Flags().String("doc", "", "Document JSON")

	findCmd.Flags().String("filter", "", "Filter JSON")
	findCmd.Flags().String("sort", "", "Sort field")
	findCmd.Flags().Bool("desc", false, "Sort descending")
	findCmd.Flags().Int("skip", 0, "Skip first N results")
	findCmd.Flags().Int("limit", 0, "Limit result count")

	countCmd.Flags().String("filter", "", "Filter JSON")

	updateCmd.Flags().String("filter", "", "Filter JSON")
	updateCmd.Flags().String("set", "", "Fields to set, JSON")
	updateCmd.Flags().Bool("many", false, "Update every match")
	updateCmd.Flags().Bool("upsert", false, "Insert when nothing matches")

	deleteCmd.Flags().String("filter", "", "Filter JSON")

	indexCmd.Flags().String("keys", "", "Comma-separated index keys")
	indexCmd.Flags().String("name", "", "Index name")
	indexCmd.Flags().Bool("unique", false, "Unique index")
	indexCmd.Flags().Bool("sparse", false, "Sparse index")

	watchCmd.Flags().String("filter", "", "Filter JSON")

	rootCmd.AddCommand(
		insertCmd,
		getCmd,
		findCmd,
		countCmd,
		updateCmd,
		deleteCmd,
		indexCmd,
		watchCmd,
		databasesCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
