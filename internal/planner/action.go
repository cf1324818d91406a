package planner

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/nugget/linebot-mcp/internal/errorsx"
)

// Action names understood by the executor.
const (
	ActionGetProfile      = "get_profile"
	ActionGetRichMenuList = "get_rich_menu_list"
	ActionGetMessageQuota = "get_message_quota"
	ActionPushText        = "push_text"
	ActionPushFlex        = "push_flex"
	ActionBroadcastText   = "broadcast_text"
	ActionBroadcastFlex   = "broadcast_flex"
	ActionMakePDF         = "make_pdf_and_push"
	ActionMakeImage       = "make_image_and_push"
	ActionMakeQR          = "make_qr_and_push"
)

// Action is one decoded plan. The set of implementations is closed.
type Action interface {
	Name() string
	isAction()
}

// Target is the optional explicit recipient carried in plan args.
type Target struct {
	UserID string `mapstructure:"userId"`
}

func (t Target) target() string { return t.UserID }

type GetProfile struct {
	Target `mapstructure:",squash"`
}

type GetRichMenuList struct {
	Target `mapstructure:",squash"`
}

type GetMessageQuota struct {
	Target `mapstructure:",squash"`
}

type PushText struct {
	Target `mapstructure:",squash"`
	Text   string `mapstructure:"text"`
}

type PushFlex struct {
	Target   `mapstructure:",squash"`
	AltText  string `mapstructure:"altText"`
	Contents any    `mapstructure:"contents"`
}

type BroadcastText struct {
	Text string `mapstructure:"text"`
}

type BroadcastFlex struct {
	AltText  string `mapstructure:"altText"`
	Contents any    `mapstructure:"contents"`
}

// MakePDF renders title and content to a PDF and pushes its link.
type MakePDF struct {
	Target  `mapstructure:",squash"`
	Title   string `mapstructure:"title"`
	Content string `mapstructure:"content"`
}

// MakeImage renders a promo banner and pushes it.
type MakeImage struct {
	Target  `mapstructure:",squash"`
	Title   string `mapstructure:"title"`
	Content string `mapstructure:"content"`
}

// MakeQR encodes content as a QR code and pushes it.
type MakeQR struct {
	Target  `mapstructure:",squash"`
	Content string `mapstructure:"content"`
}

func (GetProfile) Name() string      { return ActionGetProfile }
func (GetRichMenuList) Name() string { return ActionGetRichMenuList }
func (GetMessageQuota) Name() string { return ActionGetMessageQuota }
func (PushText) Name() string        { return ActionPushText }
func (PushFlex) Name() string        { return ActionPushFlex }
func (BroadcastText) Name() string   { return ActionBroadcastText }
func (BroadcastFlex) Name() string   { return ActionBroadcastFlex }
func (MakePDF) Name() string         { return ActionMakePDF }
func (MakeImage) Name() string       { return ActionMakeImage }
func (MakeQR) Name() string          { return ActionMakeQR }

func (GetProfile) isAction()      {}
func (GetRichMenuList) isAction() {}
func (GetMessageQuota) isAction() {}
func (PushText) isAction()        {}
func (PushFlex) isAction()        {}
func (BroadcastText) isAction()   {}
func (BroadcastFlex) isAction()   {}
func (MakePDF) isAction()         {}
func (MakeImage) isAction()       {}
func (MakeQR) isAction()          {}

// DecodeAction maps p to its typed action.
func DecodeAction(p Plan) (Action, error) {
	var a Action
	switch p.Action {
	case "":
		return nil, errorsx.New(errorsx.ReasonPlanExtraction, "Missing action in plan")
	case ActionGetProfile:
		a = &GetProfile{}
	case ActionGetRichMenuList:
		a = &GetRichMenuList{}
	case ActionGetMessageQuota:
		a = &GetMessageQuota{}
	case ActionPushText:
		a = &PushText{}
	case ActionPushFlex:
		a = &PushFlex{}
	case ActionBroadcastText:
		a = &BroadcastText{}
	case ActionBroadcastFlex:
		a = &BroadcastFlex{}
	case ActionMakePDF:
		a = &MakePDF{}
	case ActionMakeImage:
		a = &MakeImage{}
	case ActionMakeQR:
		a = &MakeQR{}
	default:
		return nil, errorsx.New(errorsx.ReasonUnknownAction, "Unknown action: "+p.Action)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           a,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(p.Args); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("invalid args for %s: %w", p.Action, err), errorsx.ReasonInvalidArgs)
	}
	return deref(a), nil
}

// deref returns the value form so callers switch on value types.
func deref(a Action) Action {
	switch v := a.(type) {
	case *GetProfile:
		return *v
	case *GetRichMenuList:
		return *v
	case *GetMessageQuota:
		return *v
	case *PushText:
		return *v
	case *PushFlex:
		return *v
	case *BroadcastText:
		return *v
	case *BroadcastFlex:
		return *v
	case *MakePDF:
		return *v
	case *MakeImage:
		return *v
	case *MakeQR:
		return *v
	}
	return a
}
