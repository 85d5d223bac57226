package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lte.dev/doc-chatbot/internal/core"
	"lte.dev/doc-chatbot/internal/store"
)

// maxUploadMemory is how much of a multipart upload is buffered in memory
// before spilling to disk.
const maxUploadMemory = 32 << 20

const configurationMessage = "Gemini API key is missing or invalid. Please set a valid key in the .env file and restart the application."

type APIHandler struct {
	chatService     *core.ChatService
	documentService *core.DocumentService
}

func NewAPIHandler(cs *core.ChatService, ds *core.DocumentService) *APIHandler {
	return &APIHandler{chatService: cs, documentService: ds}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

type StatusResponse struct {
	Message           string `json:"message"`
	APIStatus         string `json:"api_status"`
	SetupInstructions string `json:"setup_instructions"`
}

func (h *APIHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	status := "API key is valid"
	if !h.chatService.Configured() {
		status = "API key is missing or invalid"
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Message:           "LTE Document Chatbot API is running",
		APIStatus:         status,
		SetupInstructions: "Set a valid Gemini API key in the .env file and restart the application if needed.",
	})
}

type ChatRequest struct {
	Message             string      `json:"message"`
	ConversationHistory []core.Turn `json:"conversation_history,omitempty"`
	ConversationID      string      `json:"conversation_id,omitempty"`
}

type ChatResponse struct {
	Response       string   `json:"response"`
	Sources        []string `json:"sources"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "Message cannot be empty", http.StatusBadRequest)
		return
	}

	if req.ConversationID != "" {
		answer, convID, err := h.chatService.AskInConversation(r.Context(), req.ConversationID, req.Message)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				http.Error(w, "Conversation not found", http.StatusNotFound)
				return
			}
			log.Printf("[%s] Error answering in conversation %s: %v", middleware.GetReqID(r.Context()), req.ConversationID, err)
			http.Error(w, "Failed to process message", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, ChatResponse{Response: answer.Text, Sources: answer.Sources, ConversationID: convID})
		return
	}

	history := make([]core.Turn, 0, len(req.ConversationHistory))
	for _, t := range req.ConversationHistory {
		if t.Role == core.RoleUser || t.Role == core.RoleAssistant {
			history = append(history, t)
		}
	}
	answer := h.chatService.Ask(r.Context(), req.Message, history)
	writeJSON(w, http.StatusOK, ChatResponse{Response: answer.Text, Sources: answer.Sources})
}

type IndexResponse struct {
	Message          string `json:"message"`
	DocumentsIndexed int    `json:"documents_indexed"`
}

// writeIndexError maps indexing failures onto HTTP statuses.
func writeIndexError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, core.ErrNotConfigured):
		http.Error(w, configurationMessage, http.StatusBadRequest)
	case errors.Is(err, core.ErrInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("[%s] Error %s: %v", middleware.GetReqID(r.Context()), action, err)
		http.Error(w, fmt.Sprintf("Error %s: %v", action, err), http.StatusInternalServerError)
	}
}

func (h *APIHandler) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !h.chatService.Configured() {
		http.Error(w, configurationMessage, http.StatusBadRequest)
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "A PDF file is required in the 'file' field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	n, err := h.documentService.IndexDocument(r.Context(), header.Filename, file)
	if err != nil {
		writeIndexError(w, r, "indexing PDF", err)
		return
	}
	writeJSON(w, http.StatusOK, IndexResponse{
		Message:          fmt.Sprintf("Successfully indexed %s", header.Filename),
		DocumentsIndexed: n,
	})
}

func (h *APIHandler) IndexAllHandler(w http.ResponseWriter, r *http.Request) {
	n, err := h.documentService.IndexAllConfigured(r.Context())
	if err != nil {
		writeIndexError(w, r, "indexing PDFs", err)
		return
	}
	writeJSON(w, http.StatusOK, IndexResponse{Message: "Successfully indexed all PDFs", DocumentsIndexed: n})
}

func (h *APIHandler) TrainHandler(w http.ResponseWriter, r *http.Request) {
	preferred := h.documentService.PreferredPDF()
	n, err := h.documentService.IndexPreferred(r.Context())
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, fmt.Sprintf("%s not found. Please upload it first using the /api/documents endpoint.", preferred), http.StatusNotFound)
			return
		}
		writeIndexError(w, r, "training with "+preferred, err)
		return
	}
	writeJSON(w, http.StatusOK, IndexResponse{Message: "Successfully trained with " + preferred, DocumentsIndexed: n})
}

func (h *APIHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := h.documentService.ListDocuments()
	if err != nil {
		log.Printf("[%s] Error listing documents: %v", middleware.GetReqID(r.Context()), err)
		http.Error(w, "Failed to list documents", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatService.StartConversation()
	if err != nil {
		log.Printf("[%s] Error creating conversation: %v", middleware.GetReqID(r.Context()), err)
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

type ConversationResponse struct {
	*store.Conversation
	Turns []store.Turn `json:"turns"`
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conv, turns, err := h.chatService.Conversation(conversationID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		log.Printf("[%s] Error getting conversation %s: %v", middleware.GetReqID(r.Context()), conversationID, err)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{Conversation: conv, Turns: turns})
}
