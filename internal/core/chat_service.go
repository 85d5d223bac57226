package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"lte.dev/doc-chatbot/internal/chunker"
	"lte.dev/doc-chatbot/internal/store"
)

// maxHistoryTurns bounds how much of a stored conversation is replayed to the
// model.
const maxHistoryTurns = 20

// Answer is the reply to one question.
type Answer struct {
	Text    string   `json:"response"`
	Sources []string `json:"sources"`
}

// Retriever finds the chunks relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]chunker.Chunk, error)
}

// ConversationStore persists conversation turns.
type ConversationStore interface {
	CreateConversation() (*store.Conversation, error)
	GetConversation(id string) (*store.Conversation, error)
	AppendTurn(conversationID, role, content string) (*store.Turn, error)
	GetTurns(conversationID string, limit int) ([]store.Turn, error)
}

type ChatService struct {
	oracle        Oracle
	retriever     Retriever
	conversations ConversationStore
}

// NewChatService builds the answering service. A nil oracle puts it in the
// not-configured mode, where every question gets a fixed explanation.
func NewChatService(oracle Oracle, retriever Retriever, conversations ConversationStore) *ChatService {
	return &ChatService{
		oracle:        oracle,
		retriever:     retriever,
		conversations: conversations,
	}
}

func (s *ChatService) Configured() bool {
	return s.oracle != nil
}

// Ask answers question, grounded on retrieved chunks when there are any. It
// never fails: oracle errors become an apology with no sources.
func (s *ChatService) Ask(ctx context.Context, question string, history []Turn) Answer {
	if !s.Configured() {
		return Answer{Text: NotConfiguredMessage, Sources: []string{}}
	}

	var chunks []chunker.Chunk
	if s.retriever != nil {
		var err error
		chunks, err = s.retriever.Retrieve(ctx, question)
		if err != nil {
			log.Printf("Error retrieving relevant context, answering without it: %v", err)
			chunks = nil
		}
	}

	system, prompt := chatSystemInstruction, question
	if len(chunks) > 0 {
		system, prompt = ragSystemInstruction, groundedPrompt(chunks, question)
	}

	turns := make([]Turn, 0, len(history)+1)
	turns = append(turns, history...)
	turns = append(turns, Turn{Role: RoleUser, Content: prompt})

	text, err := s.oracle.Generate(ctx, system, turns)
	if err != nil {
		log.Printf("Error generating response: %v", err)
		return Answer{Text: fmt.Sprintf(apologyFormat, err), Sources: []string{}}
	}

	sources := SourcesOf(chunks)
	if len(sources) > 0 {
		text += sourcesPrefix + strings.Join(sources, ", ")
	}
	return Answer{Text: text, Sources: sources}
}

// AskInConversation answers question with the stored history of
// conversationID as context and records both turns. An empty conversationID
// starts a new conversation. The conversation ID is returned either way.
func (s *ChatService) AskInConversation(ctx context.Context, conversationID, question string) (Answer, string, error) {
	if s.conversations == nil {
		return Answer{}, "", fmt.Errorf("conversations are not available: %w", ErrNotFound)
	}

	if conversationID == "" {
		conv, err := s.conversations.CreateConversation()
		if err != nil {
			return Answer{}, "", err
		}
		conversationID = conv.ID
	} else {
		conv, err := s.conversations.GetConversation(conversationID)
		if err != nil {
			return Answer{}, "", err
		}
		if conv == nil {
			return Answer{}, "", fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
	}

	stored, err := s.conversations.GetTurns(conversationID, maxHistoryTurns)
	if err != nil {
		return Answer{}, "", err
	}
	history := make([]Turn, len(stored))
	for i, t := range stored {
		history[i] = Turn{Role: t.Role, Content: t.Content}
	}

	answer := s.Ask(ctx, question, history)

	if _, err := s.conversations.AppendTurn(conversationID, RoleUser, question); err != nil {
		log.Printf("Failed to store user turn for conversation %s: %v", conversationID, err)
	} else if _, err := s.conversations.AppendTurn(conversationID, RoleAssistant, answer.Text); err != nil {
		log.Printf("Failed to store assistant turn for conversation %s: %v", conversationID, err)
	}
	return answer, conversationID, nil
}

// StartConversation creates an empty conversation.
func (s *ChatService) StartConversation() (*store.Conversation, error) {
	if s.conversations == nil {
		return nil, fmt.Errorf("conversations are not available: %w", ErrNotFound)
	}
	return s.conversations.CreateConversation()
}

// Conversation returns a stored conversation and all of its turns.
func (s *ChatService) Conversation(conversationID string) (*store.Conversation, []store.Turn, error) {
	if s.conversations == nil {
		return nil, nil, fmt.Errorf("conversations are not available: %w", ErrNotFound)
	}
	conv, err := s.conversations.GetConversation(conversationID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		return nil, nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	turns, err := s.conversations.GetTurns(conversationID, 0)
	if err != nil {
		return nil, nil, err
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	return conv, turns, nil
}
