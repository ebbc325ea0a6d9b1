package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Names of the builtin support tools.
const (
	SearchKnowledgeBase = "search_knowledge_base"
	CreateTicket        = "create_ticket"
	SendNotification    = "send_notification"
)

// Article is a knowledge base entry matched by keyword.
type Article struct {
	Keywords []string
	Answer   string
}

// DefaultArticles is the knowledge base used by NewKnowledgeBaseTool when
// none is supplied.
var DefaultArticles = []Article{
	{Keywords: []string{"password", "reset"}, Answer: "Use 'Forgot password' on the sign-in page; the reset link is valid for 30 minutes."},
	{Keywords: []string{"login", "log in", "sign in", "locked"}, Answer: "Clear browser cookies and retry; accounts unlock automatically 15 minutes after 5 failed attempts."},
	{Keywords: []string{"refund", "charge", "invoice", "billing"}, Answer: "Billing disputes are reviewed within 3 business days; refunds go back to the original payment method."},
	{Keywords: []string{"crash", "error", "bug"}, Answer: "Update to the latest version and attach the error log; most crashes are fixed by a clean reinstall."},
	{Keywords: []string{"outage", "down", "unavailable"}, Answer: "Check the status page for ongoing incidents; service-wide outages are handled by the on-call team."},
}

type searchArgs struct {
	Query string `json:"query" description:"Free text describing the customer issue"`
}

type ticketArgs struct {
	Issue    string `json:"issue" description:"Summary of the issue to track"`
	Priority string `json:"priority" description:"Ticket priority" enum:"low,medium,high,critical"`
}

type notificationArgs struct {
	UserID  string `json:"user_id" description:"Recipient of the notification"`
	Message string `json:"message" description:"Notification body"`
}

// NewKnowledgeBaseTool returns the simulated search_knowledge_base tool.
// latency simulates a remote lookup.
func NewKnowledgeBaseTool(articles []Article, latency time.Duration) *FunctionTool {
	if articles == nil {
		articles = DefaultArticles
	}

	return NewFunctionToolFromStruct(SearchKnowledgeBase, "Search the internal knowledge base for articles matching the query", searchArgs{},
		searchHandler(articles, latency))
}

func searchHandler(articles []Article, latency time.Duration) func(ctx context.Context, args map[string]any) (any, error) {
	return func(ctx context.Context, args map[string]any) (any, error) {
		raw, ok := args["query"].(string)
		if !ok {
			return nil, &ToolError{
				Tool:    SearchKnowledgeBase,
				Message: fmt.Sprintf("query must be a string, got %T", args["query"]),
				Code:    CodeValidation,
			}
		}

		if err := sleep(ctx, latency); err != nil {
			return nil, err
		}

		query := strings.ToLower(raw)

		var results []string
		for _, a := range articles {
			for _, kw := range a.Keywords {
				if strings.Contains(query, kw) {
					results = append(results, a.Answer)
					break
				}
			}
		}

		confidence := 0.2
		if len(results) > 0 {
			confidence = 0.85
		}

		return map[string]any{
			"found":      len(results) > 0,
			"results":    results,
			"confidence": confidence,
		}, nil
	}
}

// NewTicketTool returns the simulated create_ticket tool. Ticket ids have the
// form TKT-xxxxxxxx.
func NewTicketTool(latency time.Duration) *FunctionTool {
	return NewFunctionToolFromStruct(CreateTicket, "Create a support ticket for human follow-up", ticketArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			if err := sleep(ctx, latency); err != nil {
				return nil, err
			}

			return map[string]any{
				"ticket_id": NewTicketID(),
				"status":    "created",
				"priority":  args["priority"],
			}, nil
		})
}

// NewNotificationTool returns the simulated send_notification tool.
func NewNotificationTool(latency time.Duration) *FunctionTool {
	return NewFunctionToolFromStruct(SendNotification, "Send a notification to the customer", notificationArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			if err := sleep(ctx, latency); err != nil {
				return nil, err
			}

			return map[string]any{
				"success":         true,
				"notification_id": uuid.NewString(),
			}, nil
		})
}

// NewTicketID returns a fresh ticket identifier.
func NewTicketID() string {
	return fmt.Sprintf("TKT-%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// RegisterBuiltins registers the three support tools on r.
func RegisterBuiltins(r *Registry, latency time.Duration, optFns ...RegisterOption) error {
	for _, t := range []Tool{
		NewKnowledgeBaseTool(nil, latency),
		NewTicketTool(latency),
		NewNotificationTool(latency),
	} {
		if err := r.Register(t, optFns...); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
