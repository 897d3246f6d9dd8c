package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketing-rag/internal/chunker"
	"marketing-rag/internal/config"
	"marketing-rag/internal/docstore"
	"marketing-rag/internal/domain"
	"marketing-rag/internal/embedding/openai"
	"marketing-rag/internal/embedding/tfidf"
	"marketing-rag/internal/generation"
	"marketing-rag/internal/knowledge"
	"marketing-rag/internal/logging"
	"marketing-rag/internal/outputs"
	"marketing-rag/internal/tui"
	"marketing-rag/internal/vectorindex"
	"marketing-rag/internal/vectorindex/memory"
	"marketing-rag/internal/vectorindex/qdrant"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg   *config.Config
	log   *zap.Logger
	coord *knowledge.Coordinator
}

// unavailableGenerator backs commands that never generate, so they work
// without API credentials.
type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, string, []string) (string, error) {
	return "", domain.Errf(domain.KindGeneration, "generator", "no generation client configured")
}

// buildApp assembles the pipeline from the config. Commands that answer or
// generate content set needGenerator so a missing API key fails at startup
// instead of mid-conversation.
func buildApp(cfgPath string, needGenerator bool) (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "tfidf", "":
		emb = tfidf.NewEmbedder()
	case "openai":
		ocfg := openai.Config{}
		if cfg.Embedder.OpenAI != nil {
			ocfg = openai.Config{
				BaseURL:   cfg.Embedder.OpenAI.BaseURL,
				APIKeyEnv: cfg.Embedder.OpenAI.APIKeyEnv,
				Model:     cfg.Embedder.OpenAI.Model,
				Timeout:   time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
			}
		}
		emb, err = openai.NewClient(ocfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, domain.Errf(domain.KindConfig, "main", "unknown embedder %q", cfg.Embedder.Type)
	}

	var engine vectorindex.Engine
	switch cfg.Engine.Type {
	case "memory", "":
		engine = memory.NewEngine()
	case "qdrant":
		engine = qdrant.NewEngine(qdrant.Config{
			URL:        cfg.Engine.Qdrant.URL,
			APIKey:     cfg.Engine.Qdrant.APIKey,
			Collection: cfg.Collection,
			Timeout:    time.Duration(cfg.Engine.Qdrant.TimeoutSecs) * time.Second,
		})
	default:
		return nil, domain.Errf(domain.KindConfig, "main", "unknown engine %q", cfg.Engine.Type)
	}

	var gen domain.Generator = unavailableGenerator{}
	if needGenerator {
		gen, err = generation.NewClient(generation.Config{
			BaseURL:    cfg.Generator.BaseURL,
			APIKeyEnv:  cfg.Generator.APIKeyEnv,
			Model:      cfg.Generator.Model,
			MaxRetries: cfg.Generator.MaxRetries,
		}, log)
		if err != nil {
			return nil, err
		}
	}

	ch, err := chunker.NewWordChunker(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}

	index := vectorindex.New(engine, emb, vectorindex.Options{
		Collection: cfg.Collection,
		BackupsDir: cfg.BackupsDir,
	}, log)
	store := docstore.New(cfg.KnowledgeDir, log)
	sink := outputs.New(cfg.OutputsDir, log)

	coord := knowledge.New(store, ch, index, gen, sink, knowledge.Options{
		AnswerResults:  cfg.Search.AnswerResults,
		ContentResults: cfg.Search.ContentResults,
		SnapshotPath:   cfg.SnapshotPath,
	}, log)
	return &app{cfg: cfg, log: log, coord: coord}, nil
}

// prime brings the in-process index up to date: rebuild from the knowledge
// directory, then merge in the persisted snapshot (onboarded profiles,
// structured records, imports from earlier invocations).
func (a *app) prime() error {
	if s := a.coord.Rebuild(); s.Status == "error" {
		return fmt.Errorf("index build failed: %s", s.Message)
	}
	return a.coord.Restore()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "marketing-rag",
		Short:         "Retrieval-grounded marketing assistant",
		Long:          "Index marketing knowledge, answer questions against it and generate grounded content.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")

	setup := &cobra.Command{
		Use:   "setup",
		Short: "Build or refresh the index from the knowledge directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, false)
			if err != nil {
				return err
			}
			summary := a.coord.Rebuild()
			if err := a.coord.Restore(); err != nil {
				return err
			}
			return printJSON(summary)
		},
	}

	var askSource string
	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, true)
			if err != nil {
				return err
			}
			if err := a.prime(); err != nil {
				return err
			}
			question := strings.Join(args, " ")
			var filters map[string]any
			if askSource != "" {
				filters = map[string]any{"source": askSource}
			}
			return printJSON(a.coord.Answer(cmd.Context(), question, filters))
		},
	}
	ask.Flags().StringVar(&askSource, "source", "", "restrict retrieval to one source document")

	var genType, genTopic, genAudience, genNotes string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate marketing content grounded in the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, true)
			if err != nil {
				return err
			}
			if err := a.prime(); err != nil {
				return err
			}
			res := a.coord.GenerateContent(cmd.Context(), knowledge.ContentRequest{
				Type:     genType,
				Topic:    genTopic,
				Audience: genAudience,
				Params:   genNotes,
			})
			return printJSON(res)
		},
	}
	generate.Flags().StringVar(&genType, "type", "blog_post", "content type (blog_post, social_media, email, ...)")
	generate.Flags().StringVar(&genTopic, "topic", "", "what the content is about")
	generate.Flags().StringVar(&genAudience, "audience", "", "who the content is for")
	generate.Flags().StringVar(&genNotes, "notes", "", "extra instructions for the generator")
	_ = generate.MarkFlagRequired("topic")

	add := &cobra.Command{
		Use:   "add <path>",
		Short: "Add a document to the knowledge base and reindex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, false)
			if err != nil {
				return err
			}
			if err := a.prime(); err != nil {
				return err
			}
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			summary, err := a.coord.AddDocument(filepath.Base(args[0]), string(content))
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <filename>",
		Short: "Remove a document and its indexed chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, false)
			if err != nil {
				return err
			}
			if err := a.prime(); err != nil {
				return err
			}
			removed, err := a.coord.RemoveDocument(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("removed %s (%d chunks)\n", args[0], removed)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show knowledge base and output sink status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, false)
			if err != nil {
				return err
			}
			a.coord.Rebuild()
			if err := a.coord.Restore(); err != nil {
				a.log.Warn("snapshot restore failed", zap.Error(err))
			}
			return printJSON(a.coord.Status())
		},
	}

	backup := &cobra.Command{
		Use:   "backup",
		Short: "Write a timestamped snapshot of the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, false)
			if err != nil {
				return err
			}
			if err := a.prime(); err != nil {
				return err
			}
			path, err := a.coord.Backup()
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}

	export := &cobra.Command{
		Use:   "export <path>",
		Short: "Export the index snapshot to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, false)
			if err != nil {
				return err
			}
			if err := a.prime(); err != nil {
				return err
			}
			return a.coord.Export(args[0])
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import a snapshot file into the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, false)
			if err != nil {
				return err
			}
			if err := a.prime(); err != nil {
				return err
			}
			return a.coord.Import(args[0])
		},
	}

	var profile knowledge.CompanyProfile
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Onboard or replace the company profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, false)
			if err != nil {
				return err
			}
			if err := a.prime(); err != nil {
				return err
			}
			if err := a.coord.AddCompanyProfile(profile); err != nil {
				return err
			}
			fmt.Println("company profile indexed")
			return nil
		},
	}
	profileCmd.Flags().StringVar(&profile.Name, "name", "", "company name")
	profileCmd.Flags().StringVar(&profile.Industry, "industry", "", "industry")
	profileCmd.Flags().StringVar(&profile.TargetAudience, "audience", "", "target audience")
	profileCmd.Flags().StringVar(&profile.ValueProposition, "value", "", "value proposition")
	profileCmd.Flags().StringSliceVar(&profile.ProductsServices, "products", nil, "products and services")
	profileCmd.Flags().StringVar(&profile.BrandVoice, "voice", "", "brand voice")
	profileCmd.Flags().StringSliceVar(&profile.Competitors, "competitors", nil, "competitors")
	_ = profileCmd.MarkFlagRequired("name")

	chat := &cobra.Command{
		Use:   "chat",
		Short: "Interactive assistant session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfgPath, true)
			if err != nil {
				return err
			}
			if err := a.prime(); err != nil {
				return err
			}
			m := tui.New(a.coord, a.coord.Overview())
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}

	root.AddCommand(setup, ask, generate, add, remove, status, backup, export, importCmd, profileCmd, chat)
	return root
}
