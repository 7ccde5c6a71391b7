package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Coordinator owns the in-memory, ordered view of one conversation's
// messages and attachments, keeps it synchronized with storage, and manages
// the lifecycle of at most one concurrent inference task. All mutation of
// the list goes through its methods; nothing else touches the state.
type Coordinator struct {
	id       uuid.UUID
	gateway  domain.PersistenceGateway
	infer    domain.InferenceClient
	resolver *ModelResolver
	binder   *AttachmentBinder
	titles   *TitleGenerator
	defaults func() domain.ModelDefaults

	// settle is waited after a bulk delete before notifying, so a reader
	// never observes the list mid-deletion.
	settle time.Duration

	mu          sync.Mutex
	messages    []domain.Message
	attachments domain.AttachmentMap
	resolved    domain.ModelSelection

	feed   *Feed
	tasks  *TaskManager
	timers *TimerRegistry

	// userMessageHook observes "user sent a message" events
	userMessageHook func(domain.Message)
	// exchangeDoneHook runs after an assistant turn lands, off the lock.
	// Used to trigger opportunistic title generation.
	exchangeDoneHook func()
}

// Options configures optional coordinator behavior.
type Options struct {
	SettleDelay    time.Duration
	TimerInterval  time.Duration
	TitleMaxTokens int
}

// NewCoordinator builds a session for one conversation. The message list is
// empty until RefreshFromStore runs; the registry does that on first
// acquire.
func NewCoordinator(
	conversationID uuid.UUID,
	gateway domain.PersistenceGateway,
	conversations domain.ConversationRepository,
	infer domain.InferenceClient,
	defaults func() domain.ModelDefaults,
	opts Options,
) *Coordinator {
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 100 * time.Millisecond
	}
	c := &Coordinator{
		id:          conversationID,
		gateway:     gateway,
		infer:       infer,
		resolver:    NewModelResolver(conversations, defaults),
		binder:      NewAttachmentBinder(gateway),
		defaults:    defaults,
		settle:      opts.SettleDelay,
		attachments: make(domain.AttachmentMap),
		feed:        NewFeed(),
		tasks:       NewTaskManager(),
	}
	c.titles = NewTitleGenerator(infer, opts.TitleMaxTokens)
	c.timers = NewTimerRegistry(c, opts.TimerInterval)
	return c
}

// ID returns the conversation id this session coordinates.
func (c *Coordinator) ID() uuid.UUID { return c.id }

// Feed returns the change-notification stream.
func (c *Coordinator) Feed() *Feed { return c.feed }

// Timers returns the thinking-timer registry.
func (c *Coordinator) Timers() *TimerRegistry { return c.timers }

// OnUserMessage registers an observer for "user sent a message" events.
func (c *Coordinator) OnUserMessage(fn func(domain.Message)) {
	c.mu.Lock()
	c.userMessageHook = fn
	c.mu.Unlock()
}

// OnExchangeDone registers a hook that runs after an assistant turn lands.
func (c *Coordinator) OnExchangeDone(fn func()) {
	c.mu.Lock()
	c.exchangeDoneHook = fn
	c.mu.Unlock()
}

// Messages returns a snapshot of the ordered message list.
func (c *Coordinator) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Attachments returns the attachments stored for a message.
func (c *Coordinator) Attachments(messageID int64) []domain.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Attachment(nil), c.attachments[messageID]...)
}

func (c *Coordinator) snapshotLocked() []domain.Message {
	return append([]domain.Message(nil), c.messages...)
}

func (c *Coordinator) notify(messages []domain.Message, userScrolled bool) {
	c.feed.Publish(Notification{Messages: messages, UserScrolled: userScrolled})
}

// AppendNewMessage creates a message through storage, assigns the role and
// current timestamp, appends it to the list, and for user messages emits a
// "user sent a message" event.
func (c *Coordinator) AppendNewMessage(ctx context.Context, role domain.MessageRole) (*domain.Message, error) {
	msg, err := c.gateway.MakeMessage(ctx, c.id)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	msg.Role = role
	msg.CreatedAt = time.Now()
	if err := c.gateway.UpsertMessages(ctx, []domain.Message{*msg}); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	c.mu.Lock()
	c.messages = append(c.messages, *msg)
	snapshot := c.snapshotLocked()
	hook := c.userMessageHook
	c.mu.Unlock()

	c.notify(snapshot, true)
	if role == domain.RoleUser && hook != nil {
		hook(*msg)
	}
	return msg, nil
}

// RefreshFromStore clears the in-memory state and rebuilds it wholesale
// from storage. Safe to call repeatedly.
func (c *Coordinator) RefreshFromStore(ctx context.Context) error {
	stored, err := c.gateway.ListMessages(ctx, c.id)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]domain.Message, 0, len(stored))
	for _, m := range stored {
		if m.ConversationID != c.id {
			log.Error().
				Int64("message_id", m.ID).
				Str("conversation_id", m.ConversationID.String()).
				Str("session_id", c.id.String()).
				Msg("message belongs to another conversation, dropping")
			continue
		}
		if m.Content == "" && m.ReasoningContent != "" {
			m.Content = domain.EmptyMessagePlaceholder
		}
		messages = append(messages, m)
	}

	attachments, err := domain.ListAttachmentsFor(ctx, c.gateway, messages)
	if err != nil {
		return fmt.Errorf("failed to list attachments: %w", err)
	}

	c.mu.Lock()
	c.messages = messages
	c.attachments = attachments
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snapshot, false)
	return nil
}

// Delete cancels any active task, removes the paired supplement message and
// the target from storage, then refreshes so memory and storage agree.
func (c *Coordinator) Delete(ctx context.Context, messageID int64) error {
	var deleteErr error
	c.tasks.CancelCurrent(func() {
		if err := c.gateway.DeleteSupplementMessage(ctx, messageID); err != nil {
			deleteErr = fmt.Errorf("failed to delete supplement message: %w", err)
			return
		}
		if err := c.gateway.DeleteMessage(ctx, messageID); err != nil {
			deleteErr = fmt.Errorf("failed to delete message: %w", err)
		}
	})
	c.timers.Stop(messageID)
	if deleteErr != nil {
		return deleteErr
	}
	return c.RefreshFromStore(ctx)
}

// DeleteCurrentAndAfter cancels any active task and removes the target
// message and everything after it. After a short settle delay the list is
// reloaded, a change notification goes out and onDone runs.
func (c *Coordinator) DeleteCurrentAndAfter(ctx context.Context, messageID int64, onDone func()) error {
	var deleteErr error
	c.tasks.CancelCurrent(func() {
		if err := c.gateway.DeleteMessagesFrom(ctx, c.id, messageID); err != nil {
			deleteErr = fmt.Errorf("failed to delete messages: %w", err)
			return
		}
		if err := c.gateway.DeleteSupplementMessage(ctx, messageID); err != nil {
			deleteErr = fmt.Errorf("failed to delete supplement message: %w", err)
		}
	})
	if deleteErr != nil {
		return deleteErr
	}

	c.mu.Lock()
	var doomed []int64
	kept := c.messages[:0]
	for _, m := range c.messages {
		if m.ID >= messageID {
			doomed = append(doomed, m.ID)
			delete(c.attachments, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	c.messages = kept
	c.mu.Unlock()

	for _, id := range doomed {
		c.timers.Stop(id)
	}

	select {
	case <-time.After(c.settle):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.RefreshFromStore(ctx); err != nil {
		return err
	}
	if onDone != nil {
		onDone()
	}
	return nil
}

// UpdateContent cancels any active task, sets the message document
// (placeholder when blank), persists and notifies.
func (c *Coordinator) UpdateContent(ctx context.Context, messageID int64, content string) error {
	var updateErr error
	var snapshot []domain.Message
	c.tasks.CancelCurrent(func() {
		snapshot, updateErr = c.applyUpdate(ctx, messageID, func(m *domain.Message) {
			if content == "" {
				m.Content = domain.EmptyMessagePlaceholder
			} else {
				m.Content = content
			}
		})
	})
	if updateErr != nil {
		return updateErr
	}
	c.notify(snapshot, true)
	return nil
}

// UpdateReasoning sets the reasoning trace, persists and notifies. It does
// not cancel the active task: this path streams reasoning while inference
// is still running.
func (c *Coordinator) UpdateReasoning(ctx context.Context, messageID int64, reasoning string) error {
	snapshot, err := c.applyUpdate(ctx, messageID, func(m *domain.Message) {
		m.ReasoningContent = reasoning
	})
	if err != nil {
		return err
	}
	c.notify(snapshot, false)
	return nil
}

func (c *Coordinator) applyUpdate(ctx context.Context, messageID int64, mutate func(*domain.Message)) ([]domain.Message, error) {
	c.mu.Lock()
	idx := c.indexOfLocked(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return nil, domain.ErrMessageNotFound
	}
	mutate(&c.messages[idx])
	updated := c.messages[idx]
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if err := c.gateway.UpsertMessages(ctx, []domain.Message{updated}); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	return snapshot, nil
}

func (c *Coordinator) indexOfLocked(messageID int64) int {
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// NearestUserMessage scans the ordered list from the end backward and
// returns the first user message whose id is <= the given id. Relies on ids
// being issued in creation order.
func (c *Coordinator) NearestUserMessage(beforeOrEqual int64) *domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role == domain.RoleUser && m.ID <= beforeOrEqual {
			out := m
			return &out
		}
	}
	return nil
}

// ResolveModels derives the current model selection and remembers it as the
// session's previous value for subsequent chains.
func (c *Coordinator) ResolveModels(ctx context.Context) domain.ModelSelection {
	c.mu.Lock()
	prev := c.resolved
	c.mu.Unlock()

	sel := c.resolver.Resolve(ctx, c.id, prev)

	c.mu.Lock()
	c.resolved = sel
	c.mu.Unlock()
	return sel
}

// Retry locates the nearest user message at or before the target,
// reconstructs its draft, deletes everything from that message onward and
// re-issues inference with the draft. If no chat model resolves, nothing is
// deleted.
func (c *Coordinator) Retry(ctx context.Context, fromMessageID int64) error {
	target := c.NearestUserMessage(fromMessageID)
	if target == nil {
		return domain.ErrMessageNotFound
	}

	c.mu.Lock()
	atts := append([]domain.Attachment(nil), c.attachments[target.ID]...)
	c.mu.Unlock()
	draft := BuildDraft(target, atts)

	// Model resolution comes first: a retry must not destroy state it
	// cannot rebuild.
	sel := c.ResolveModels(ctx)
	if sel.Chat == "" {
		return domain.ErrNoChatModel
	}

	if err := c.DeleteCurrentAndAfter(ctx, target.ID, nil); err != nil {
		return err
	}
	return c.SendDraft(ctx, draft)
}

// SendDraft appends a user message built from the draft, binds its
// attachments and starts inference.
func (c *Coordinator) SendDraft(ctx context.Context, draft Draft) error {
	msg, err := c.AppendNewMessage(ctx, domain.RoleUser)
	if err != nil {
		return err
	}
	if draft.Text != "" {
		if err := c.UpdateContent(ctx, msg.ID, draft.Text); err != nil {
			return err
		}
	}
	if len(draft.Attachments) > 0 {
		stored, err := c.binder.Bind(ctx, msg.ID, draft.Attachments)
		if err != nil {
			return fmt.Errorf("failed to bind attachments: %w", err)
		}
		c.mu.Lock()
		c.attachments[msg.ID] = stored
		c.mu.Unlock()
	}
	return c.StartInference(ctx)
}

// StartInference resolves the chat model, spawns the single inference task
// for this session and returns immediately. The task creates the assistant
// message, ticks its thinking timer while the model works, then applies the
// result, unless it was cancelled in the meantime, in which case the late
// result is discarded.
func (c *Coordinator) StartInference(ctx context.Context) error {
	sel := c.ResolveModels(ctx)
	if sel.Chat == "" {
		return domain.ErrNoChatModel
	}

	c.mu.Lock()
	prompt := make([]domain.PromptMessage, 0, len(c.messages))
	for _, m := range c.messages {
		if m.Supplement || m.Content == "" {
			continue
		}
		prompt = append(prompt, domain.PromptMessage{Role: string(m.Role), Content: m.Content})
	}
	c.mu.Unlock()

	assistant, err := c.AppendNewMessage(ctx, domain.RoleAssistant)
	if err != nil {
		return err
	}

	// The task outlives the originating request: detach from its
	// cancellation but keep its values (provider selection et al).
	taskCtx, finish := c.tasks.Begin(context.WithoutCancel(ctx))
	c.timers.Start(assistant.ID)
	maxTokens := c.defaults().MaxCompletionToken

	go func() {
		defer finish()
		result, inferErr := c.infer.Infer(taskCtx, sel.Chat, maxTokens, prompt, nil)
		c.timers.Stop(assistant.ID)

		if taskCtx.Err() != nil {
			// Cancelled: the state this task would write was superseded.
			return
		}
		if inferErr != nil {
			log.Error().Err(inferErr).Str("model", sel.Chat).Msg("inference failed")
			result = &domain.InferenceResult{
				Content: fmt.Sprintf("I ran into an error: %s", inferErr),
			}
		}
		// Reasoning goes out first, through the non-cancelling write path,
		// the same way a streaming provider would deliver it.
		if result.ReasoningContent != "" {
			if err := c.UpdateReasoning(taskCtx, assistant.ID, result.ReasoningContent); err != nil {
				log.Error().Err(err).Int64("message_id", assistant.ID).Msg("failed to write reasoning")
			}
		}
		c.applyInferenceResult(taskCtx, assistant.ID, result)
	}()
	return nil
}

func (c *Coordinator) applyInferenceResult(ctx context.Context, messageID int64, result *domain.InferenceResult) {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	idx := c.indexOfLocked(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	m := &c.messages[idx]
	if result.Content == "" {
		m.Content = domain.EmptyMessagePlaceholder
	} else {
		m.Content = result.Content
	}
	updated := *m
	snapshot := c.snapshotLocked()
	hook := c.exchangeDoneHook
	c.mu.Unlock()

	if err := c.gateway.UpsertMessages(context.WithoutCancel(ctx), []domain.Message{updated}); err != nil {
		log.Error().Err(err).Int64("message_id", messageID).Msg("failed to persist assistant message")
	}
	c.notify(snapshot, false)
	if hook != nil {
		hook()
	}
}

// GenerateTitle derives a title candidate from the latest exchange using
// the auxiliary model. Empty string means no title was produced; the caller
// decides whether to apply the candidate.
func (c *Coordinator) GenerateTitle(ctx context.Context) string {
	sel := c.ResolveModels(ctx)
	return c.titles.Generate(ctx, c.Messages(), sel.Auxiliary)
}

// timerHost

func (c *Coordinator) hasMessage(messageID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexOfLocked(messageID) >= 0
}

func (c *Coordinator) tickThinking(messageID int64) {
	c.mu.Lock()
	idx := c.indexOfLocked(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.messages[idx].ThinkingSeconds++
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snapshot, false)
}

// Close cancels any in-flight task, invalidates all timers and closes the
// change feed. The coordinator must not be used afterwards.
func (c *Coordinator) Close() {
	c.tasks.Shutdown()
	c.timers.StopAll()
	c.feed.Close()
}
