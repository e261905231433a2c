package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/metrics"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/models"
	"github.com/Viniciuscarvalho/FitToday-cms-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
)

type ledgerApplicationService interface {
	CheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) (*models.Subscription, error)
	InvoicePaid(ctx context.Context, invoice *stripe.Invoice) error
	InvoiceFailed(ctx context.Context, invoice *stripe.Invoice) error
	SubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) error
	SubscriptionCanceled(ctx context.Context, sub *stripe.Subscription) error
	TransferCreated(ctx context.Context, transfer *stripe.Transfer) error
	ChargeRefunded(ctx context.Context, charge *stripe.Charge) error
	AccountUpdated(ctx context.Context, account *stripe.Account) error
}

// WebhookHandler verifies, decodes and routes Stripe events. Verification
// runs over the raw body; decoding happens once per event type at this
// boundary so the service layer only ever sees typed payloads.
type WebhookHandler struct {
	service       ledgerApplicationService
	webhookSecret string
	log           zerolog.Logger
}

func NewWebhookHandler(service *services.LedgerService, webhookSecret string, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:       service,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

func (h *WebhookHandler) HandleStripeEvent(c *fiber.Ctx) error {
	event, err := webhook.ConstructEventWithOptions(
		c.Body(),
		c.Get("Stripe-Signature"),
		h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		h.log.Warn().Err(err).Msg("webhook signature verification failed")
		metrics.IncWebhookEvent("unknown", "invalid")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Signature verification failed"})
	}

	eventType := string(event.Type)
	logger := h.log.With().Str("event_id", event.ID).Str("event_type", eventType).Logger()

	switch eventType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return h.badPayload(c, logger, eventType, err)
		}
		_, err = h.service.CheckoutCompleted(c.Context(), &session)

	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return h.badPayload(c, logger, eventType, err)
		}
		err = h.service.InvoicePaid(c.Context(), &invoice)

	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return h.badPayload(c, logger, eventType, err)
		}
		err = h.service.InvoiceFailed(c.Context(), &invoice)

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return h.badPayload(c, logger, eventType, err)
		}
		err = h.service.SubscriptionUpdated(c.Context(), &sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return h.badPayload(c, logger, eventType, err)
		}
		err = h.service.SubscriptionCanceled(c.Context(), &sub)

	case "transfer.created":
		var transfer stripe.Transfer
		if err := json.Unmarshal(event.Data.Raw, &transfer); err != nil {
			return h.badPayload(c, logger, eventType, err)
		}
		err = h.service.TransferCreated(c.Context(), &transfer)

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return h.badPayload(c, logger, eventType, err)
		}
		err = h.service.ChargeRefunded(c.Context(), &charge)

	case "account.updated":
		var account stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &account); err != nil {
			return h.badPayload(c, logger, eventType, err)
		}
		err = h.service.AccountUpdated(c.Context(), &account)

	default:
		// Unknown types are acknowledged, not failed: the processor retries
		// on non-2xx and unhandled is not an error.
		logger.Info().Msg("unhandled event type acknowledged")
		metrics.IncWebhookEvent(eventType, "ignored")
		return c.JSON(fiber.Map{"received": true})
	}

	switch {
	case err == nil:
		metrics.IncWebhookEvent(eventType, "processed")
		return c.JSON(fiber.Map{"received": true})

	case errors.Is(err, services.ErrMissingMetadata), errors.Is(err, services.ErrNoMatchingRecord):
		// Permanent: acknowledge so the endpoint is not disabled by retries,
		// surface through logs.
		logger.Error().Err(err).Msg("event skipped without mutation")
		metrics.IncWebhookEvent(eventType, "skipped")
		return c.JSON(fiber.Map{"received": true})

	case errors.Is(err, services.ErrReferentNotReady):
		// Out-of-order delivery; a 5xx makes the processor redeliver after
		// the missing record has materialized.
		logger.Warn().Err(err).Msg("event arrived before its referent, requesting redelivery")
		metrics.IncWebhookEvent(eventType, "retryable")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Referenced record not ready"})

	default:
		logger.Error().Err(err).Msg("event processing failed")
		metrics.IncWebhookEvent(eventType, "retryable")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process event"})
	}
}

func (h *WebhookHandler) badPayload(c *fiber.Ctx, logger zerolog.Logger, eventType string, err error) error {
	logger.Error().Err(err).Msg("failed to decode event payload")
	metrics.IncWebhookEvent(eventType, "invalid")
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Failed to parse event payload"})
}
