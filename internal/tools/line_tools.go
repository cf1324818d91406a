package tools

import (
	"context"
	"strings"

	"github.com/nugget/linebot-mcp/internal/line"
)

const userIDDesc = "The user ID to receive a message. Defaults to DESTINATION_USER_ID."

func textMessageSchema() map[string]any {
	return schema([]string{"text"}, map[string]any{
		"type": map[string]any{"type": "string", "enum": []string{"text"}, "default": "text"},
		"text": map[string]any{"type": "string", "maxLength": line.MaxTextLen, "description": "The plain text content to send to the user."},
	})
}

func flexMessageSchema() map[string]any {
	return schema([]string{"altText", "contents"}, map[string]any{
		"type":    map[string]any{"type": "string", "enum": []string{"flex"}, "default": "flex"},
		"altText": str("Alternative text shown when flex message cannot be displayed."),
		"contents": map[string]any{
			"type":                 "object",
			"description":          "Flex container: a bubble, or a carousel of bubbles.",
			"additionalProperties": true,
			"properties": map[string]any{
				"type": map[string]any{"type": "string", "enum": []string{"bubble", "carousel"}},
			},
			"required": []string{"type"},
		},
	})
}

func messagesSchema() map[string]any {
	return map[string]any{
		"type":        "array",
		"minItems":    1,
		"description": "Array of LINE messages (text/flex)",
		"items":       map[string]any{"type": "object"},
	}
}

type messageArgs struct {
	UserID  string         `mapstructure:"userId"`
	Message map[string]any `mapstructure:"message"`
}

type messagesArgs struct {
	UserID   string           `mapstructure:"userId"`
	Messages []map[string]any `mapstructure:"messages"`
}

type richMenuArgs struct {
	RichMenuID string `mapstructure:"richMenuId"`
}

// textArg validates a text message argument and returns its body.
func textArg(tool string, msg map[string]any) (line.TextMessage, error) {
	if msg == nil {
		return line.TextMessage{}, &ArgsError{Tool: tool, Field: "message", Msg: "Required"}
	}
	if t, ok := msg["type"]; ok && t != "text" {
		return line.TextMessage{}, &ArgsError{Tool: tool, Field: "message.type", Msg: "Invalid literal value, expected \"text\""}
	}
	text, ok := msg["text"].(string)
	if !ok {
		return line.TextMessage{}, &ArgsError{Tool: tool, Field: "message.text", Msg: "Required"}
	}
	if issues := line.TextIssues(text); issues != nil {
		return line.TextMessage{}, &ArgsError{Tool: tool, Msg: strings.Join(issues, ", ")}
	}
	return line.TextMessage{Text: text}, nil
}

// flexArg validates a flex message argument.
func flexArg(tool string, msg map[string]any) (line.FlexMessage, error) {
	if msg == nil {
		return line.FlexMessage{}, &ArgsError{Tool: tool, Field: "message", Msg: "Required"}
	}
	if t, ok := msg["type"]; ok && t != "flex" {
		return line.FlexMessage{}, &ArgsError{Tool: tool, Field: "message.type", Msg: "Invalid literal value, expected \"flex\""}
	}
	if issues := line.FlexIssues(msg["altText"], msg["contents"]); issues != nil {
		return line.FlexMessage{}, &ArgsError{Tool: tool, Msg: strings.Join(issues, ", ")}
	}
	return line.FlexMessage{AltText: msg["altText"].(string), Contents: msg["contents"]}, nil
}

func rawMessages(tool string, in []map[string]any) ([]line.Message, error) {
	if len(in) == 0 {
		return nil, &ArgsError{Tool: tool, Field: "messages", Msg: "Array must contain at least 1 element(s)"}
	}
	out := make([]line.Message, len(in))
	for i, m := range in {
		out[i] = line.RawMessage(m)
	}
	return out, nil
}

func registerLINETools(r *Registry, d *Deps) {
	r.Register(&Tool{
		Name:        "push_text_message",
		Description: "Push a simple text message to a user via LINE. Use this for sending plain text messages without formatting.",
		Parameters: schema([]string{"message"}, map[string]any{
			"userId":  str(userIDDesc),
			"message": textMessageSchema(),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a messageArgs
			if err := decode("push_text_message", args, &a); err != nil {
				return nil, err
			}
			msg, err := textArg("push_text_message", a.Message)
			if err != nil {
				return nil, err
			}
			to, err := line.Recipient(a.UserID, d.DefaultUserID)
			if err != nil {
				return nil, err
			}
			sent, err := d.LINE.Push(ctx, to, msg)
			return sent, failed("Failed to push message: ", err)
		},
	})

	r.Register(&Tool{
		Name: "push_flex_message",
		Description: "Push a highly customizable flex message to a user via LINE. Supports both bubble (single container) and carousel " +
			"(multiple swipeable bubbles) layouts.",
		Parameters: schema([]string{"message"}, map[string]any{
			"userId":  str(userIDDesc),
			"message": flexMessageSchema(),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a messageArgs
			if err := decode("push_flex_message", args, &a); err != nil {
				return nil, err
			}
			msg, err := flexArg("push_flex_message", a.Message)
			if err != nil {
				return nil, err
			}
			to, err := line.Recipient(a.UserID, d.DefaultUserID)
			if err != nil {
				return nil, err
			}
			sent, err := d.LINE.Push(ctx, to, msg)
			return sent, failed("Failed to push flex message: ", err)
		},
	})

	r.Register(&Tool{
		Name: "broadcast_text_message",
		Description: "Broadcast a simple text message via LINE to all users who have followed your LINE Official Account. Use this for sending " +
			"plain text messages without formatting. Please be aware that this message will be sent to all users.",
		Parameters: schema([]string{"message"}, map[string]any{"message": textMessageSchema()}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a messageArgs
			if err := decode("broadcast_text_message", args, &a); err != nil {
				return nil, err
			}
			msg, err := textArg("broadcast_text_message", a.Message)
			if err != nil {
				return nil, err
			}
			sent, err := d.LINE.Broadcast(ctx, msg)
			return sent, failed("Failed to broadcast message: ", err)
		},
	})

	r.Register(&Tool{
		Name: "broadcast_flex_message",
		Description: "Broadcast a highly customizable flex message via LINE to all users who have added your LINE Official Account. " +
			"Supports both bubble (single container) and carousel (multiple swipeable bubbles) layouts. Please be aware that " +
			"this message will be sent to all users.",
		Parameters: schema([]string{"message"}, map[string]any{"message": flexMessageSchema()}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a messageArgs
			if err := decode("broadcast_flex_message", args, &a); err != nil {
				return nil, err
			}
			msg, err := flexArg("broadcast_flex_message", a.Message)
			if err != nil {
				return nil, err
			}
			sent, err := d.LINE.Broadcast(ctx, msg)
			return sent, failed("Failed to broadcast message: ", err)
		},
	})

	r.Register(&Tool{
		Name:        "push_messages",
		Description: "Push one or more LINE messages to a user (generic).",
		Parameters: schema([]string{"messages"}, map[string]any{
			"userId":   str("User ID to receive messages. Defaults to DESTINATION_USER_ID"),
			"messages": messagesSchema(),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a messagesArgs
			if err := decode("push_messages", args, &a); err != nil {
				return nil, err
			}
			msgs, err := rawMessages("push_messages", a.Messages)
			if err != nil {
				return nil, err
			}
			to, err := line.Recipient(a.UserID, d.DefaultUserID)
			if err != nil {
				return nil, err
			}
			sent, err := d.LINE.Push(ctx, to, msgs...)
			return sent, failed("Failed to push messages: ", err)
		},
	})

	r.Register(&Tool{
		Name:        "broadcast_messages",
		Description: "Broadcast one or more LINE messages to all followers (generic).",
		Parameters:  schema([]string{"messages"}, map[string]any{"messages": messagesSchema()}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a messagesArgs
			if err := decode("broadcast_messages", args, &a); err != nil {
				return nil, err
			}
			msgs, err := rawMessages("broadcast_messages", a.Messages)
			if err != nil {
				return nil, err
			}
			sent, err := d.LINE.Broadcast(ctx, msgs...)
			return sent, failed("Failed to broadcast messages: ", err)
		},
	})

	r.Register(&Tool{
		Name:        "get_profile",
		Description: "Get detailed profile information of a LINE user including display name, profile picture URL, status message and language.",
		Parameters: schema(nil, map[string]any{
			"userId": str("The ID of the user whose profile you want to retrieve. Defaults to DESTINATION_USER_ID."),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a messageArgs
			if err := decode("get_profile", args, &a); err != nil {
				return nil, err
			}
			to, err := line.Recipient(a.UserID, d.DefaultUserID)
			if err != nil {
				return nil, err
			}
			p, err := d.LINE.Profile(ctx, to)
			return p, failed("Failed to get profile: ", err)
		},
	})

	r.Register(&Tool{
		Name:        "get_message_quota",
		Description: "Get the message quota and consumption of the LINE Official Account. This shows the monthly message limit and current usage.",
		Parameters:  schema(nil, map[string]any{}),
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			q, err := d.LINE.Quota(ctx)
			if err != nil {
				return nil, failed("Failed to get message quota: ", err)
			}
			c, err := d.LINE.QuotaConsumption(ctx)
			if err != nil {
				return nil, failed("Failed to get message quota: ", err)
			}
			return struct {
				Limited    *int64 `json:"limited,omitempty"`
				TotalUsage *int64 `json:"totalUsage,omitempty"`
			}{q.Value, c.TotalUsage}, nil
		},
	})

	r.Register(&Tool{
		Name:        "get_rich_menu_list",
		Description: "Get the list of rich menus associated with your LINE Official Account.",
		Parameters:  schema(nil, map[string]any{}),
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			list, err := d.LINE.RichMenus(ctx)
			return list, failed("Failed to get rich menu list: ", err)
		},
	})

	r.Register(&Tool{
		Name:        "delete_rich_menu",
		Description: "Delete a rich menu from your LINE Official Account.",
		Parameters:  schema([]string{"richMenuId"}, map[string]any{"richMenuId": str("The ID of the rich menu to delete.")}),
		Handler: richMenuHandler("delete_rich_menu", "Failed to delete rich menu: ", func(ctx context.Context, id string) error {
			return d.LINE.DeleteRichMenu(ctx, id)
		}),
	})

	r.Register(&Tool{
		Name:        "set_rich_menu_default",
		Description: "Set a rich menu as the default rich menu.",
		Parameters:  schema([]string{"richMenuId"}, map[string]any{"richMenuId": str("The ID of the rich menu to set as default.")}),
		Handler: richMenuHandler("set_rich_menu_default", "Failed to set default rich menu: ", func(ctx context.Context, id string) error {
			return d.LINE.SetDefaultRichMenu(ctx, id)
		}),
	})

	r.Register(&Tool{
		Name:        "cancel_rich_menu_default",
		Description: "Cancel the default rich menu.",
		Parameters:  schema(nil, map[string]any{}),
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			if err := d.LINE.CancelDefaultRichMenu(ctx); err != nil {
				return nil, failed("Failed to cancel default rich menu: ", err)
			}
			return map[string]any{}, nil
		},
	})
}

func richMenuHandler(tool, prefix string, op func(context.Context, string) error) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		var a richMenuArgs
		if err := decode(tool, args, &a); err != nil {
			return nil, err
		}
		if err := required(tool, "richMenuId", a.RichMenuID); err != nil {
			return nil, err
		}
		if err := op(ctx, a.RichMenuID); err != nil {
			return nil, failed(prefix, err)
		}
		return map[string]any{}, nil
	}
}
