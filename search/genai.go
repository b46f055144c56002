package search

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const defaultGenAIModel = "gemini-embedding-001"

// Task types accepted by the Gemini embedding API.
const (
	TaskSemanticSimilarity = "SEMANTIC_SIMILARITY"
	TaskClassification     = "CLASSIFICATION"
	TaskClustering         = "CLUSTERING"
	TaskRetrievalDocument  = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery     = "RETRIEVAL_QUERY"
	TaskQuestionAnswering  = "QUESTION_ANSWERING"
	TaskFactVerification   = "FACT_VERIFICATION"
	TaskCodeRetrievalQuery = "CODE_RETRIEVAL_QUERY"
)

var taskTypes = []string{
	TaskSemanticSimilarity,
	TaskClassification,
	TaskClustering,
	TaskRetrievalDocument,
	TaskRetrievalQuery,
	TaskQuestionAnswering,
	TaskFactVerification,
	TaskCodeRetrievalQuery,
}

// GenAIEmbedder generates embeddings with Google's Gemini API.
//
// The client is created on first use. A missing API key is reported by Embed
// as ErrConfiguration, not by the constructor, so a harness can be assembled
// before credentials exist and still serve keyword search.
type GenAIEmbedder struct {
	apiKey   string
	model    string
	taskType string

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// NewGenAIEmbedder creates a GenAI embedder. An empty model selects
// gemini-embedding-001; an empty task type selects semantic similarity.
// Unknown task types return ErrConfiguration.
func NewGenAIEmbedder(apiKey, model, taskType string) (*GenAIEmbedder, error) {
	task, err := ParseTaskType(taskType)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultGenAIModel
	}
	return &GenAIEmbedder{
		apiKey:   apiKey,
		model:    model,
		taskType: task,
	}, nil
}

// TaskType returns the task type sent with every request.
func (e *GenAIEmbedder) TaskType() string {
	return e.taskType
}

// Name returns "genai:<model>".
func (e *GenAIEmbedder) Name() string {
	return "genai:" + e.model
}

// Embed returns the embedding for text.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("%w: GenAI API key is not set", ErrConfiguration)
	}
	e.once.Do(func() {
		e.client, e.clientErr = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: e.apiKey,
		})
	})
	if e.clientErr != nil {
		return nil, fmt.Errorf("%w: creating GenAI client: %v", ErrConfiguration, e.clientErr)
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: e.taskType},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("GenAI embed returned no embeddings")
	}
	return result.Embeddings[0].Values, nil
}

// ParseTaskType normalizes s to one of the documented task types. An empty
// string is TaskSemanticSimilarity.
func ParseTaskType(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return TaskSemanticSimilarity, nil
	}
	if !slices.Contains(taskTypes, s) {
		return "", fmt.Errorf("%w: unknown embedding task type %q", ErrConfiguration, s)
	}
	return s, nil
}
