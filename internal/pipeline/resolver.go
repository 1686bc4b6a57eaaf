package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"courier/internal/types"
)

// Resolver turns a job into DeliveryParameters. Notification content is
// cached per process since every recipient of a notification shares it.
type Resolver struct {
	notifications NotificationStore
	conversations ConversationStore
	transport     BotTransport
	content       *cache.Cache
	logger        types.Logger
}

func NewResolver(
	notifications NotificationStore,
	conversations ConversationStore,
	transport BotTransport,
	contentTTL time.Duration,
	logger types.Logger,
) *Resolver {
	return &Resolver{
		notifications: notifications,
		conversations: conversations,
		transport:     transport,
		content:       cache.New(contentTTL, 2*contentTTL),
		logger:        logger,
	}
}

// ResolveParams loads content and picks the conversation to deliver into:
// the one on the job, the channel itself, a stored one, or a newly created
// one. A returned error means the job faulted.
func (r *Resolver) ResolveParams(ctx context.Context, job types.SendJob) (DeliveryParameters, error) {
	content, err := r.loadContent(ctx, job.NotificationID)
	if err != nil {
		return DeliveryParameters{}, err
	}

	params := DeliveryParameters{
		Content:     content,
		ServiceURL:  job.Recipient.ServiceURL,
		RecipientID: job.Recipient.RecipientID,
	}

	switch {
	case job.Recipient.ConversationID != "":
		params.ConversationID = job.Recipient.ConversationID
		return params, nil
	case job.Recipient.RecipientType == types.RecipientChannel:
		params.ConversationID = job.Recipient.RecipientID
		return params, nil
	}

	stored, err := r.conversations.Get(ctx, job.Recipient.RecipientID)
	if err != nil {
		r.loggerFor(ctx).Warn("conversation lookup failed, creating a new one",
			"recipient_id", job.Recipient.RecipientID,
			"error", err.Error(),
		)
	}
	if stored != "" {
		params.ConversationID = stored
		return params, nil
	}

	return r.createConversation(ctx, job, params)
}

func (r *Resolver) createConversation(ctx context.Context, job types.SendJob, params DeliveryParameters) (DeliveryParameters, error) {
	id, status, err := r.transport.CreateConversation(ctx, job.Recipient)
	if err != nil {
		return DeliveryParameters{}, fmt.Errorf("create conversation: %w", err)
	}

	switch {
	case status >= 200 && status <= 299:
		params.ConversationID = id
		params.ConversationCreated = true
		if err := r.conversations.Save(ctx, job.Recipient.RecipientID, id, job.Recipient.ServiceURL); err != nil {
			r.loggerFor(ctx).Warn("failed to persist created conversation",
				"recipient_id", job.Recipient.RecipientID,
				"conversation_id", id,
				"error", err.Error(),
			)
		}
	case status == http.StatusTooManyRequests:
		params.ForceAbort = true
	case status == http.StatusNotFound:
		params.CreationOutcome = creationOutcome(types.ResultRecipientNotFound, status)
	case status >= 500:
		return DeliveryParameters{}, types.NewAppError(types.ErrCodeUpstreamBot,
			fmt.Sprintf("create conversation returned %d", status), nil)
	default:
		params.CreationOutcome = creationOutcome(types.ResultFailed, status)
	}
	return params, nil
}

// loggerFor prefers the job-scoped logger the pipeline places on ctx.
func (r *Resolver) loggerFor(ctx context.Context) types.Logger {
	if l := types.LoggerFromContext(ctx); l != nil {
		return l
	}
	return r.logger
}

func creationOutcome(result types.ResultType, status int) *types.DeliveryOutcome {
	return &types.DeliveryOutcome{
		ResultType:   result,
		StatusCode:   status,
		StatusCodes:  []int{status},
		ErrorMessage: fmt.Sprintf("create conversation returned %d", status),
	}
}

func (r *Resolver) loadContent(ctx context.Context, notificationID string) (types.NotificationContent, error) {
	if cached, ok := r.content.Get(notificationID); ok {
		return cached.(types.NotificationContent), nil
	}
	content, err := r.notifications.GetContent(ctx, notificationID)
	if err != nil {
		return types.NotificationContent{}, fmt.Errorf("load notification content: %w", err)
	}
	r.content.Set(notificationID, *content, cache.DefaultExpiration)
	return *content, nil
}
