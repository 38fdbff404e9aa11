// Package assistant owns the query request lifecycle: resolve the
// conversation, append the user turn, run retrieval-augmented generation,
// append the assistant turn with its metadata, and persist the exchange as
// one unit. This is the sole entry point the surrounding application
// (HTTP layer, MCP, CLI) needs to call.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sagekb/sage/internal/conversation"
	"github.com/sagekb/sage/internal/rag"
	"github.com/sagekb/sage/internal/storage"
)

// ErrValidation is returned for blank required caller input.
var ErrValidation = errors.New("validation")

// contextMessageLimit caps how many prior messages feed the contextual query.
const contextMessageLimit = 10

// UserContext identifies the caller and their isolation boundary.
type UserContext struct {
	UserID   string
	SectorID string
}

// Output is the result of one Execute call.
type Output struct {
	ConversationID string
	Response       string
	Type           rag.ResponseType
	Sources        []rag.Source
	Sections       []rag.Section
	Evaluation     *rag.Evaluation
	CreatedAt      time.Time
}

// ConversationStore is the persistence boundary for the aggregate.
type ConversationStore interface {
	SaveConversation(ctx context.Context, c *conversation.Conversation) error
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	FindConversation(ctx context.Context, userID, sectorID string) (*conversation.Conversation, error)
	SoftDeleteConversation(ctx context.Context, id string) error
}

// Answerer is the RAG orchestrator consumed by the assistant.
type Answerer interface {
	Answer(ctx context.Context, query, sectorID, conversationContext string, opts rag.SearchOptions) (rag.Answer, error)
}

// Assistant executes user queries against the knowledge base.
type Assistant struct {
	store  ConversationStore
	rag    Answerer
	locks  *keyedMutex
	logger *slog.Logger
}

// New creates an Assistant.
func New(store ConversationStore, answerer Answerer) *Assistant {
	return &Assistant{
		store:  store,
		rag:    answerer,
		locks:  newKeyedMutex(),
		logger: slog.Default(),
	}
}

// Execute answers one query. If conversationID is given, that conversation
// is loaded (storage.ErrNotFound if absent); otherwise the most recent
// non-deleted conversation for the (user, sector) pair is used, or a new one
// is created — which is what keeps at most one active conversation per pair.
//
// Nothing is persisted unless generation succeeds: the user and assistant
// messages are saved together in one SaveConversation call, or not at all.
func (a *Assistant) Execute(ctx context.Context, uc UserContext, query, conversationID string, opts rag.SearchOptions) (*Output, error) {
	if strings.TrimSpace(uc.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(uc.SectorID) == "" {
		return nil, fmt.Errorf("%w: sector id is required", ErrValidation)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}

	// Serialize per conversation; lookup-or-create serializes per pair so
	// two concurrent first queries cannot both create a conversation.
	lockKey := conversationID
	if lockKey == "" {
		lockKey = uc.UserID + "\x00" + uc.SectorID
	}
	unlock := a.locks.Lock(lockKey)
	defer unlock()

	conv, err := a.resolveConversation(ctx, uc, conversationID)
	if err != nil {
		return nil, err
	}

	// Render prior history before appending the new turn, so the raw query
	// does not appear in its own context.
	conversationContext := conv.ContextForPrompt(contextMessageLimit)

	if _, err := conv.AddMessage(conversation.RoleUser, query, nil); err != nil {
		return nil, err
	}

	contextualQuery := query
	if conversationContext != "" {
		contextualQuery = conversationContext + "\nUser: " + query
	}

	answer, err := a.rag.Answer(ctx, contextualQuery, uc.SectorID, conversationContext, opts)
	if err != nil {
		// No partial writes: the aggregate is discarded unsaved.
		return nil, fmt.Errorf("conversation %s: %w", conv.ID, err)
	}

	if _, err := conv.AddMessage(conversation.RoleAssistant, answer.Text, assistantMetadata(answer)); err != nil {
		return nil, err
	}

	if err := a.store.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("persisting conversation %s: %w", conv.ID, err)
	}

	return &Output{
		ConversationID: conv.ID,
		Response:       answer.Text,
		Type:           answer.Type,
		Sources:        answer.Sources,
		Sections:       answer.Sections,
		Evaluation:     answer.Evaluation,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DeleteConversation soft-deletes a conversation.
func (a *Assistant) DeleteConversation(ctx context.Context, id string) error {
	unlock := a.locks.Lock(id)
	defer unlock()
	return a.store.SoftDeleteConversation(ctx, id)
}

// GetConversation loads a conversation for read-only display.
func (a *Assistant) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	return a.store.GetConversation(ctx, id)
}

func (a *Assistant) resolveConversation(ctx context.Context, uc UserContext, conversationID string) (*conversation.Conversation, error) {
	if conversationID != "" {
		conv, err := a.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
		}
		return conv, nil
	}

	conv, err := a.store.FindConversation(ctx, uc.UserID, uc.SectorID)
	if errors.Is(err, storage.ErrNotFound) {
		a.logger.Debug("starting new conversation", "user", uc.UserID, "sector", uc.SectorID)
		return conversation.New(uc.UserID, uc.SectorID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding conversation for user %s sector %s: %w", uc.UserID, uc.SectorID, err)
	}
	return conv, nil
}

// assistantMetadata records which fragments backed the reply and, when the
// grading pass ran, its scores.
func assistantMetadata(answer rag.Answer) map[string]string {
	md := map[string]string{
		"source_count": strconv.Itoa(len(answer.Sources)),
	}
	if len(answer.Sources) > 0 {
		ids := make([]string, len(answer.Sources))
		for i, s := range answer.Sources {
			ids[i] = s.FragmentID
		}
		encoded, err := json.Marshal(ids)
		if err == nil {
			md["source_ids"] = string(encoded)
		}
	}
	if answer.Evaluation != nil {
		md["groundedness"] = strconv.FormatFloat(answer.Evaluation.Groundedness, 'f', 2, 64)
		md["relevancy"] = strconv.FormatFloat(answer.Evaluation.Relevancy, 'f', 2, 64)
	}
	return md
}
