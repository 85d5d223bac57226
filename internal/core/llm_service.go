package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"lte.dev/doc-chatbot/internal/config"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	geminiUserRole  = "user"
	geminiModelRole = "model"
)

// Turn is one message of a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Oracle is the remote embedding and generation service.
type Oracle interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Generate answers the last turn, which must come from the user. Earlier
	// turns are sent as chat history.
	Generate(ctx context.Context, system string, turns []Turn) (string, error)
}

// GeminiOracle implements Oracle on the Gemini API. Every request first
// takes a token from limiter.
type GeminiOracle struct {
	client         *genai.Client
	limiter        *rate.Limiter
	chatModel      string
	embeddingModel string
	temperature    float32
}

// newLimiter spreads perMinute requests evenly over a minute. A non-positive
// value disables limiting.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1)
}

func (o *GeminiOracle) wait(ctx context.Context) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gemini rate limit wait: %w", err)
	}
	return nil
}

func NewGeminiOracle(ctx context.Context, cfg *config.Config) (*GeminiOracle, error) {
	if !cfg.APIKeyValid() {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiOracle{
		client:         client,
		limiter:        newLimiter(cfg.RequestsPerMinute),
		chatModel:      cfg.GeminiModel,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
	}, nil
}

func (o *GeminiOracle) Close() {
	if o.client == nil {
		return
	}
	if err := o.client.Close(); err != nil {
		log.Printf("Error closing GenAI client: %v", err)
		return
	}
	log.Println("GenAI client closed.")
}

// EmbedDocuments embeds texts in a single batch request. Callers keep batches
// within the API limit.
func (o *GeminiOracle) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := o.wait(ctx); err != nil {
		return nil, err
	}
	em := o.client.EmbeddingModel(o.embeddingModel)
	em.TaskType = genai.TaskTypeRetrievalDocument

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embedding request failed: %w", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", embeddingCount(res), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("no embedding data received from gemini for text %d", i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

func embeddingCount(res *genai.BatchEmbedContentsResponse) int {
	if res == nil {
		return 0
	}
	return len(res.Embeddings)
}

func (o *GeminiOracle) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := o.wait(ctx); err != nil {
		return nil, err
	}
	em := o.client.EmbeddingModel(o.embeddingModel)
	em.TaskType = genai.TaskTypeRetrievalQuery

	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

func (o *GeminiOracle) Generate(ctx context.Context, system string, turns []Turn) (string, error) {
	history, last, err := splitTurns(turns)
	if err != nil {
		return "", err
	}
	if err := o.wait(ctx); err != nil {
		return "", err
	}

	model := o.client.GenerativeModel(o.chatModel)
	model.SetTemperature(o.temperature)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}

	chatSession := model.StartChat()
	chatSession.History = history

	resp, err := chatSession.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	return responseText(resp)
}

// splitTurns converts all but the last turn into Gemini chat history. SendMessage
// appends the last turn itself, so it must not appear in the history too.
// Gemini requires roles to alternate, so consecutive turns from the same role
// are merged and empty turns dropped.
func splitTurns(turns []Turn) ([]*genai.Content, Turn, error) {
	turns = mergeTurns(turns)
	if len(turns) == 0 {
		return nil, Turn{}, fmt.Errorf("no turns to send to gemini")
	}
	last := turns[len(turns)-1]
	if last.Role != RoleUser {
		return nil, Turn{}, fmt.Errorf("last turn is from %q, expected %q", last.Role, RoleUser)
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, t := range turns[:len(turns)-1] {
		role := geminiUserRole
		if t.Role == RoleAssistant {
			role = geminiModelRole
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return history, last, nil
}

func mergeTurns(turns []Turn) []Turn {
	merged := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		if t.Role != RoleAssistant {
			t.Role = RoleUser
		}
		if n := len(merged); n > 0 && merged[n-1].Role == t.Role {
			merged[n-1].Content += "\n\n" + t.Content
			continue
		}
		merged = append(merged, t)
	}
	return merged
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response was empty or had no valid candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("gemini response contained no text")
	}
	return text.String(), nil
}
