// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/aeckhq/tutorchat/datatypes"
	"github.com/aeckhq/tutorchat/handlers"
	"github.com/aeckhq/tutorchat/llm"
	"github.com/aeckhq/tutorchat/observability"
	"github.com/aeckhq/tutorchat/ratelimit"
	"github.com/aeckhq/tutorchat/routes"
	"github.com/aeckhq/tutorchat/services"
	"github.com/aeckhq/tutorchat/storage"
	"github.com/aeckhq/tutorchat/ttl"
)

const serviceName = "tutorchat"

// Chat requests per client IP per window.
const (
	rateLimitRequests = 20
	rateLimitWindow   = 60 * time.Second
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient builds the vector search client from
// WEAVIATE_SERVICE_URL. Returns nil when the URL is absent or invalid;
// the service then runs without vector retrieval and answers from the
// keyword-free path (no exam context).
func newWeaviateClient() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set, running without exam retrieval")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid, running without exam retrieval",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("failed to create Weaviate client", "error", err)
		return nil
	}

	datatypes.EnsureWeaviateSchema(client)
	return client
}

func main() {
	port := os.Getenv("TUTORCHAT_PORT")
	if port == "" {
		port = "8080"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	dataDir := os.Getenv("TUTORCHAT_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	dbConfig := storage.DefaultConfig()
	dbConfig.Path = dataDir
	db, err := storage.OpenDB(dbConfig)
	if err != nil {
		log.Fatalf("failed to open storage at %s: %v", dataDir, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close storage", "error", err)
		}
	}()

	sessions := storage.NewSessionStore(db)
	messages := storage.NewMessageStore(db)
	conversations := storage.NewConversationStore(db)

	weaviateClient := newWeaviateClient()
	var retriever *services.Retriever
	if weaviateClient != nil {
		retriever = services.NewWeaviateRetriever(weaviateClient)
	} else {
		retriever = services.NewRetriever(
			func(context.Context, []float32, int, int) ([]datatypes.ExamHit, error) { return nil, nil },
			func(context.Context, []string, int) ([]datatypes.ExamHit, error) { return nil, nil },
		)
	}

	genModel := os.Getenv("GENERATION_MODEL")
	embedModel := os.Getenv("EMBEDDING_MODEL")
	factory := llm.NewFactory(genModel, embedModel)

	chat := handlers.NewChatHandler(
		messages,
		retriever,
		services.NewHistoryCompactor(messages),
		services.NewAttachmentExtractor(services.ParsePlainText),
		&services.Generator{},
		services.NewMetadataManager(conversations),
		factory,
		otel.Tracer(serviceName),
	)

	limiter := ratelimit.NewFixedWindow(rateLimitRequests, rateLimitWindow)
	limiter.StartJanitor(5 * time.Minute)
	defer limiter.Stop()

	sweeper := ttl.NewSweeper(sessions, ttl.DefaultSweeperConfig())
	if err := sweeper.Start(context.Background()); err != nil {
		log.Fatalf("failed to start session sweeper: %v", err)
	}
	defer sweeper.Stop()

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(router, routes.Deps{
		Sessions:      sessions,
		Messages:      messages,
		Conversations: conversations,
		Chat:          chat,
		Limiter:       limiter,
	})

	slog.Info("starting tutorchat server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
