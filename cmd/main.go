package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"examgen/internal/config"
	"examgen/internal/evaluator"
	"examgen/internal/generator"
	"examgen/internal/helper"
	"examgen/internal/learning"
	"examgen/internal/llm"
	"examgen/internal/repositories"
	"examgen/internal/retriever"
	"examgen/internal/service"
	"examgen/internal/vectorstore"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	filePath := flag.String("file", "", "Path to a document to ingest")
	docID := flag.String("doc", "", "Document ID to generate against")
	query := flag.String("query", "", "Generation task, e.g. 'key concepts of chapter 2'")
	improveID := flag.String("improve", "", "Question ID to improve")
	feedback := flag.String("feedback", "", "Reviewer feedback for -improve")
	evaluateID := flag.String("evaluate", "", "Question ID to evaluate")
	rateID := flag.String("rate", "", "Question ID to rate")
	stars := flag.Int("stars", 0, "Star rating 1-5 for -rate")
	comments := flag.String("comments", "", "Reviewer comments for -rate")
	approved := flag.Bool("approved", false, "Mark the rated question approved")
	listDocs := flag.Bool("list-docs", false, "List ingested documents")
	listQuestions := flag.Bool("list-questions", false, "List questions with evaluations, ratings and tiers")
	enableID := flag.String("enable", "", "Document ID to enable")
	disableID := flag.String("disable", "", "Document ID to disable")
	flag.Parse()

	ctx := context.Background()
	svc := buildService(ctx)

	switch {
	case *filePath != "":
		ingest(ctx, svc, *filePath)
	case *docID != "" && *query != "":
		generate(ctx, svc, *docID, *query)
	case *improveID != "":
		improve(ctx, svc, *improveID, *feedback)
	case *evaluateID != "":
		evaluate(ctx, svc, *evaluateID)
	case *rateID != "":
		rate(ctx, svc, *rateID, *stars, *comments, *approved)
	case *listDocs:
		printDocuments(ctx, svc)
	case *listQuestions:
		printQuestions(ctx, svc)
	case *enableID != "":
		setEnabled(ctx, svc, *enableID, true)
	case *disableID != "":
		setEnabled(ctx, svc, *disableID, false)
	default:
		flag.Usage()
	}
}

func buildService(ctx context.Context) *service.Service {
	cfg, err := config.LoadConfig(configFilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	log.Debug().Interface("config", cfg).Msg("Loaded config")

	dbClient, err := repositories.ConnectDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	dbInstance := repositories.NewDB(dbClient, cfg.Database.Debug)

	if err := repositories.InitDB(ctx, dbInstance); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}
	repos := repositories.NewBunRepositories(dbInstance)

	store, err := vectorstore.New(&cfg.VectorDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating vector database")
	}

	embedder, err := llm.NewOpenAIEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	completer, err := llm.NewOpenAICompleter(&cfg.GenLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing completion client")
	}

	ret := retriever.New(store, embedder)
	gen := generator.New(completer, ret, repos.Patterns, cfg)
	eval := evaluator.New(completer)
	learner := learning.NewLearner(repos.Patterns, &cfg.Learning)

	return service.New(repos, store, embedder, gen, eval, learner, cfg)
}

func ingest(ctx context.Context, svc *service.Service, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading document")
	}
	doc, err := svc.IngestDocument(ctx, raw, filepath.Base(path))
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting document")
	}
	fmt.Printf("ingested %s as document %s\n", doc.Filename, doc.ID)
}

func generate(ctx context.Context, svc *service.Service, docID, query string) {
	q, err := svc.GenerateQuestion(ctx, docID, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Error generating question")
	}
	helper.PrettyPrint(q)
}

func improve(ctx context.Context, svc *service.Service, questionID, feedback string) {
	if feedback == "" {
		log.Fatal().Msg("-improve requires -feedback")
	}
	q, err := svc.ImproveQuestion(ctx, questionID, feedback)
	if err != nil {
		log.Fatal().Err(err).Msg("Error improving question")
	}
	helper.PrettyPrint(q)
}

func evaluate(ctx context.Context, svc *service.Service, questionID string) {
	eval, err := svc.EvaluateQuestion(ctx, questionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Error evaluating question")
	}
	helper.PrettyPrint(eval)
}

func rate(ctx context.Context, svc *service.Service, questionID string, stars int, comments string, approved bool) {
	if err := svc.RateQuestion(ctx, questionID, stars, comments, approved); err != nil {
		log.Fatal().Err(err).Msg("Error rating question")
	}
	fmt.Printf("rated question %s with %d stars\n", questionID, stars)
}

func printDocuments(ctx context.Context, svc *service.Service) {
	docs, err := svc.ListDocuments(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Error listing documents")
	}
	for _, d := range docs {
		state := "disabled"
		if d.Enabled {
			state = "enabled"
		}
		fmt.Printf("%s  %s  (%s)\n", d.ID, d.Filename, state)
	}
}

func printQuestions(ctx context.Context, svc *service.Service) {
	reviews, err := svc.ListQuestions(ctx, 50, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("Error listing questions")
	}
	for _, r := range reviews {
		composite := "-"
		if r.Evaluation != nil {
			composite = fmt.Sprintf("%d", r.Evaluation.CompositeScore)
		}
		starsStr := "-"
		if r.Rating != nil {
			starsStr = fmt.Sprintf("%d", r.Rating.Stars)
		}
		fmt.Printf("%s  v%d  tier=%s  composite=%s  stars=%s  %s\n",
			r.Question.ID, r.Question.Version, r.Tier, composite, starsStr, r.Question.Text)
	}
}

func setEnabled(ctx context.Context, svc *service.Service, docID string, enabled bool) {
	if err := svc.SetDocumentEnabled(ctx, docID, enabled); err != nil {
		log.Fatal().Err(err).Msg("Error updating document")
	}
	fmt.Printf("document %s enabled=%v\n", docID, enabled)
}
