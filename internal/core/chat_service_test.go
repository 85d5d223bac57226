package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lte.dev/doc-chatbot/internal/chunker"
	"lte.dev/doc-chatbot/internal/store"
)

type staticRetriever struct {
	chunks []chunker.Chunk
	err    error
}

func (r staticRetriever) Retrieve(context.Context, string) ([]chunker.Chunk, error) {
	return r.chunks, r.err
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAsk_NotConfigured(t *testing.T) {
	svc := NewChatService(nil, nil, nil)
	answer := svc.Ask(context.Background(), "What is LTE?", nil)

	assert.Equal(t, NotConfiguredMessage, answer.Text)
	assert.Equal(t, []string{}, answer.Sources)
	assert.False(t, svc.Configured())
}

func TestAsk_GroundedAnswerListsSources(t *testing.T) {
	oracle := &fakeOracle{}
	svc := NewChatService(oracle, staticRetriever{chunks: []chunker.Chunk{
		chunker.NewChunk("OFDMA is used in the downlink.", "B.pdf", nil),
		chunker.NewChunk("SC-FDMA is used in the uplink.", "A.pdf", nil),
		chunker.NewChunk("Both are multiple access schemes.", "B.pdf", nil),
	}}, nil)

	answer := svc.Ask(context.Background(), "Which access schemes does LTE use?", nil)

	assert.Equal(t, []string{"B.pdf", "A.pdf"}, answer.Sources)
	assert.True(t, strings.HasSuffix(answer.Text, "\n\nSources: B.pdf, A.pdf"))

	call := oracle.lastGenerate()
	assert.Equal(t, ragSystemInstruction, call.system)
	require.Len(t, call.turns, 1)
	assert.Contains(t, call.turns[0].Content, "Document 2 (Source: A.pdf): SC-FDMA is used in the uplink.")
}

func TestAsk_UngroundedWhenNothingRetrieved(t *testing.T) {
	oracle := &fakeOracle{}
	svc := NewChatService(oracle, staticRetriever{}, nil)

	answer := svc.Ask(context.Background(), "anything", nil)

	assert.Equal(t, "ANSWER: anything", answer.Text)
	assert.Empty(t, answer.Sources)
	assert.NotContains(t, answer.Text, "Sources:")
	assert.Equal(t, chatSystemInstruction, oracle.lastGenerate().system)
}

func TestAsk_RetrievalErrorFallsBackToUngrounded(t *testing.T) {
	oracle := &fakeOracle{}
	svc := NewChatService(oracle, staticRetriever{err: ErrOracle}, nil)

	answer := svc.Ask(context.Background(), "What is a resource block?", nil)

	assert.Equal(t, chatSystemInstruction, oracle.lastGenerate().system)
	assert.Empty(t, answer.Sources)
}

func TestAsk_SendsHistory(t *testing.T) {
	oracle := &fakeOracle{}
	svc := NewChatService(oracle, staticRetriever{}, nil)
	history := []Turn{
		{Role: RoleUser, Content: "What is LTE?"},
		{Role: RoleAssistant, Content: "Long-Term Evolution."},
	}

	svc.Ask(context.Background(), "Who standardised it?", history)

	call := oracle.lastGenerate()
	require.Len(t, call.turns, 3)
	assert.Equal(t, history, call.turns[:2])
	assert.Equal(t, Turn{Role: RoleUser, Content: "Who standardised it?"}, call.turns[2])
}

func TestAsk_OracleFailureApologises(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	rag := newTestRAG(t, oracle, indexPath(t))
	_, err := rag.IndexChunks(ctx, chunksFrom("A.pdf", "The cell radius is 5 km."))
	require.NoError(t, err)

	oracle.queryErr = errors.New("connection reset")
	oracle.generateErr = errors.New("connection reset")
	svc := NewChatService(oracle, rag, nil)

	var answer Answer
	require.NotPanics(t, func() { answer = svc.Ask(ctx, "What is the cell radius?", nil) })
	assert.True(t, strings.HasPrefix(answer.Text, "I'm sorry, but an error occurred while processing your request: "))
	assert.Contains(t, answer.Text, "connection reset")
	assert.NotNil(t, answer.Sources)
	assert.Empty(t, answer.Sources)
}

func TestAsk_CellRadiusScenario(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	rag := newTestRAG(t, oracle, indexPath(t))
	docs := NewDocumentService(rag, fakeExtractor{}, chunker.NewSplitter(1000, 200), nil, t.TempDir(), "LTE.pdf")

	n, err := docs.IndexDocument(ctx, "A.pdf", strings.NewReader("The cell radius is 5 km."))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	answer := NewChatService(oracle, rag, nil).Ask(ctx, "What is the cell radius?", nil)
	assert.Contains(t, answer.Text, "5 km")
	assert.Equal(t, []string{"A.pdf"}, answer.Sources)
}

func TestAsk_FreshDeploymentIsUngrounded(t *testing.T) {
	oracle := &fakeOracle{}
	rag := newTestRAG(t, oracle, indexPath(t))

	answer := NewChatService(oracle, rag, nil).Ask(context.Background(), "anything", nil)
	assert.Empty(t, answer.Sources)
	assert.NotContains(t, answer.Text, "Sources:")
	assert.Equal(t, chatSystemInstruction, oracle.lastGenerate().system)
}

func TestAskInConversation(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{}
	conversations := newTestStore(t)
	svc := NewChatService(oracle, staticRetriever{}, conversations)

	first, convID, err := svc.AskInConversation(ctx, "", "What is LTE?")
	require.NoError(t, err)
	require.NotEmpty(t, convID)
	assert.Equal(t, "ANSWER: What is LTE?", first.Text)

	_, sameID, err := svc.AskInConversation(ctx, convID, "Who standardised it?")
	require.NoError(t, err)
	assert.Equal(t, convID, sameID)

	call := oracle.lastGenerate()
	require.Len(t, call.turns, 3)
	assert.Equal(t, Turn{Role: RoleUser, Content: "What is LTE?"}, call.turns[0])
	assert.Equal(t, Turn{Role: RoleAssistant, Content: "ANSWER: What is LTE?"}, call.turns[1])

	conv, turns, err := svc.Conversation(convID)
	require.NoError(t, err)
	assert.Equal(t, convID, conv.ID)
	assert.Len(t, turns, 4)
}

func TestAskInConversation_UnknownConversation(t *testing.T) {
	svc := NewChatService(&fakeOracle{}, staticRetriever{}, newTestStore(t))
	_, _, err := svc.AskInConversation(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = svc.Conversation("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartConversation(t *testing.T) {
	svc := NewChatService(nil, nil, newTestStore(t))
	conv, err := svc.StartConversation()
	require.NoError(t, err)

	_, turns, err := svc.Conversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []store.Turn{}, turns)
}
