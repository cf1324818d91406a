package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nugget/linebot-mcp/internal/errorsx"
	"github.com/nugget/linebot-mcp/internal/line"
	"github.com/nugget/linebot-mcp/internal/objstore"
	"github.com/nugget/linebot-mcp/internal/quota"
	"github.com/nugget/linebot-mcp/internal/render"
	"github.com/nugget/linebot-mcp/internal/style"
)

// Messenger is the subset of the LINE client the executor drives.
type Messenger interface {
	Push(ctx context.Context, to string, msgs ...line.Message) (*line.SentMessages, error)
	Broadcast(ctx context.Context, msgs ...line.Message) (*line.SentMessages, error)
	Profile(ctx context.Context, userID string) (*line.Profile, error)
	Quota(ctx context.Context) (*line.Quota, error)
	QuotaConsumption(ctx context.Context) (*line.QuotaConsumption, error)
	RichMenus(ctx context.Context) (*line.RichMenuList, error)
}

// QuotaChecker blocks pushes when the monthly quota is used up.
type QuotaChecker interface {
	Check(ctx context.Context) error
}

// StyleSource supplies the current reply style.
type StyleSource interface {
	Style() style.Config
}

// Executor runs decoded actions.
type Executor struct {
	LINE          Messenger
	Quota         QuotaChecker
	Styles        StyleSource
	Renderer      *render.Renderer
	Uploader      objstore.Uploader
	PublicBaseURL string
	DefaultUserID string
	Logger        *slog.Logger
}

// QuotaResult is returned by get_message_quota.
type QuotaResult struct {
	Quota      *line.Quota `json:"quota"`
	TotalUsage *int64      `json:"totalUsage,omitempty"`
}

// ArtifactResult is returned by the make_* actions.
type ArtifactResult struct {
	PDF    *objstore.Uploaded `json:"pdf,omitempty"`
	Image  *objstore.Uploaded `json:"image,omitempty"`
	QR     *objstore.Uploaded `json:"qr,omitempty"`
	Pushed *line.SentMessages `json:"pushed"`
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Executor) style() style.Config {
	if e.Styles == nil {
		return style.Default()
	}
	return e.Styles.Style()
}

// Execute runs a. userID is the caller's recipient, used when the plan
// names none; DefaultUserID is the last resort.
func (e *Executor) Execute(ctx context.Context, a Action, userID string) (any, error) {
	explicit := ""
	if t, ok := a.(interface{ target() string }); ok {
		explicit = t.target()
	}
	to := line.FirstRecipient(explicit, userID, e.DefaultUserID)

	switch act := a.(type) {
	case GetProfile:
		return e.getProfile(ctx, to)
	case GetRichMenuList:
		return e.richMenuList(ctx, to)
	case GetMessageQuota:
		return e.messageQuota(ctx, to)
	case PushText:
		return e.pushText(ctx, to, act)
	case PushFlex:
		if to == "" {
			return nil, line.ErrNoUserID
		}
		if act.AltText == "" || isEmpty(act.Contents) {
			return nil, errorsx.New(errorsx.ReasonInvalidArgs, "Missing altText or contents for push_flex")
		}
		return e.LINE.Push(ctx, to, line.FlexMessage{AltText: act.AltText, Contents: act.Contents})
	case BroadcastText:
		if act.Text == "" {
			return nil, errorsx.New(errorsx.ReasonInvalidArgs, "Missing args.text for broadcast_text")
		}
		// Broadcasts deliberately skip the quota guard, unlike pushes.
		return e.LINE.Broadcast(ctx, line.TextMessage{Text: act.Text})
	case BroadcastFlex:
		if act.AltText == "" || isEmpty(act.Contents) {
			return nil, errorsx.New(errorsx.ReasonInvalidArgs, "Missing altText or contents for broadcast_flex")
		}
		return e.LINE.Broadcast(ctx, line.FlexMessage{AltText: act.AltText, Contents: act.Contents})
	case MakePDF:
		return e.makePDF(ctx, to, act)
	case MakeImage:
		return e.makeImage(ctx, to, act)
	case MakeQR:
		return e.makeQR(ctx, to, act)
	}
	return nil, errorsx.New(errorsx.ReasonUnknownAction, "Unknown action: "+a.Name())
}

func (e *Executor) getProfile(ctx context.Context, to string) (any, error) {
	if to == "" {
		return nil, line.ErrNoUserID
	}
	p, err := e.LINE.Profile(ctx, to)
	if err != nil {
		return nil, err
	}
	var lines []string
	if p.DisplayName != "" {
		lines = append(lines, "ชื่อ: "+p.DisplayName)
	}
	lines = append(lines, "User ID: "+to)
	if p.StatusMessage != "" {
		lines = append(lines, "สถานะ: "+p.StatusMessage)
	}
	e.pushQuietly(ctx, to, strings.Join(lines, "\n"))
	return p, nil
}

func (e *Executor) richMenuList(ctx context.Context, to string) (any, error) {
	list, err := e.LINE.RichMenus(ctx)
	if err != nil {
		return nil, err
	}
	if to != "" {
		lines := []string{fmt.Sprintf("Rich Menu ทั้งหมด: %d รายการ", len(list.RichMenus))}
		for i, m := range list.RichMenus {
			if i == 3 {
				break
			}
			label := m.Name
			if label == "" {
				label = m.RichMenuID
			}
			if label == "" {
				label = fmt.Sprintf("menu-%d", i+1)
			}
			lines = append(lines, "- "+label)
		}
		e.pushQuietly(ctx, to, strings.Join(lines, "\n"))
	}
	return list, nil
}

func (e *Executor) messageQuota(ctx context.Context, to string) (any, error) {
	q, err := e.LINE.Quota(ctx)
	if err != nil {
		return nil, err
	}
	var usage *int64
	if c, err := e.LINE.QuotaConsumption(ctx); err == nil {
		usage = c.TotalUsage
	}
	if to != "" {
		e.pushQuietly(ctx, to, QuotaSummary(q.Value, usage))
	}
	return QuotaResult{Quota: q, TotalUsage: usage}, nil
}

// QuotaSummary formats limit, usage and remaining for a chat message.
func QuotaSummary(limited, usage *int64) string {
	var lines []string
	if limited != nil {
		lines = append(lines, "โควตาต่อเดือน: "+Thousands(*limited))
	}
	if usage != nil {
		lines = append(lines, "ใช้ไป: "+Thousands(*usage))
	}
	if limited != nil && usage != nil {
		lines = append(lines, "คงเหลือ: "+Thousands(max(0, *limited-*usage)))
	}
	if len(lines) == 0 {
		return "ดูโควตาสำเร็จ"
	}
	return strings.Join(lines, "\n")
}

// Thousands formats n with comma group separators.
func Thousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func (e *Executor) pushText(ctx context.Context, to string, act PushText) (any, error) {
	if to == "" {
		return nil, line.ErrNoUserID
	}
	if act.Text == "" {
		return nil, errorsx.New(errorsx.ReasonInvalidArgs, "Missing args.text for push_text")
	}
	st := e.style()
	text, normalized := style.NormalizeGreeting(act.Text, st, e.DisplayName(ctx, to), style.MaxMessageLen)
	e.logger().Debug("push_text normalized", "normalized", normalized)

	if e.Quota != nil {
		if err := e.Quota.Check(ctx); err != nil {
			return nil, err
		}
	}
	return e.PushReply(ctx, to, text, st)
}

// PushReply pushes text, followed by the style's sticker when one is
// configured. A 429 from LINE becomes a quota_exceeded error.
func (e *Executor) PushReply(ctx context.Context, to, text string, st style.Config) (*line.SentMessages, error) {
	msgs := ReplyMessages(text, st)
	sent, err := e.LINE.Push(ctx, to, msgs...)
	if err != nil {
		e.logger().Debug("push failed", "to", to, "error", err)
		if line.IsRateLimited(err) {
			return nil, quota.RateLimitedError()
		}
		return nil, err
	}
	return sent, nil
}

// ReplyMessages builds the text message plus the optional sticker.
func ReplyMessages(text string, st style.Config) []line.Message {
	msgs := []line.Message{line.TextMessage{Text: text}}
	if st.HasSticker() {
		msgs = append(msgs, line.StickerMessage{
			PackageID: strings.TrimSpace(st.StickerPackageID),
			StickerID: strings.TrimSpace(st.StickerID),
		})
	}
	return msgs
}

// DisplayName looks up the user's LINE display name, returning "" on
// any failure.
func (e *Executor) DisplayName(ctx context.Context, to string) string {
	if to == "" {
		return ""
	}
	p, err := e.LINE.Profile(ctx, to)
	if err != nil {
		e.logger().Debug("profile lookup failed", "to", to, "error", err)
		return ""
	}
	return p.DisplayName
}

func (e *Executor) pushQuietly(ctx context.Context, to, text string) {
	if _, err := e.LINE.Push(ctx, to, line.TextMessage{Text: text}); err != nil {
		e.logger().Debug("summary push failed", "to", to, "error", err)
	}
}

func (e *Executor) makePDF(ctx context.Context, to string, act MakePDF) (any, error) {
	if to == "" {
		return nil, line.ErrNoUserID
	}
	title := defaultString(act.Title, "Report")
	res, err := e.publish(ctx, to, render.ContentTypePDF, func() ([]byte, error) {
		return e.renderer().PDF(title, act.Content)
	}, func(up *objstore.Uploaded) []line.Message {
		return []line.Message{line.TextMessage{Text: up.URL}}
	})
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("Failed to generate PDF: %w", err), errorsx.ReasonRender)
	}
	return ArtifactResult{PDF: res.up, Pushed: res.sent}, nil
}

func (e *Executor) makeImage(ctx context.Context, to string, act MakeImage) (any, error) {
	if to == "" {
		return nil, line.ErrNoUserID
	}
	title := defaultString(act.Title, "Promo")
	res, err := e.publish(ctx, to, render.ContentTypePNG, func() ([]byte, error) {
		return e.renderer().Banner(title, act.Content)
	}, e.imageMessages)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("Failed to generate Image: %w", err), errorsx.ReasonRender)
	}
	return ArtifactResult{Image: res.up, Pushed: res.sent}, nil
}

func (e *Executor) makeQR(ctx context.Context, to string, act MakeQR) (any, error) {
	if to == "" {
		return nil, line.ErrNoUserID
	}
	if strings.TrimSpace(act.Content) == "" {
		return nil, errorsx.New(errorsx.ReasonInvalidArgs, "Missing args.content for make_qr_and_push")
	}
	res, err := e.publish(ctx, to, render.ContentTypePNG, func() ([]byte, error) {
		return render.QR(act.Content, render.DefaultQRSize)
	}, e.imageMessages)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("Failed to generate QR code: %w", err), errorsx.ReasonRender)
	}
	return ArtifactResult{QR: res.up, Pushed: res.sent}, nil
}

// imageMessages shows the image inline only when its URL is absolute;
// LINE cannot fetch server-relative URLs.
func (e *Executor) imageMessages(up *objstore.Uploaded) []line.Message {
	var msgs []line.Message
	if e.PublicBaseURL != "" {
		msgs = append(msgs, line.ImageMessage{OriginalContentURL: up.URL, PreviewImageURL: up.URL})
	}
	return append(msgs, line.TextMessage{Text: "ดาวน์โหลดรูปภาพ: " + up.URL})
}

type published struct {
	up   *objstore.Uploaded
	sent *line.SentMessages
}

func (e *Executor) publish(ctx context.Context, to, contentType string, draw func() ([]byte, error), compose func(*objstore.Uploaded) []line.Message) (*published, error) {
	if e.Uploader == nil {
		return nil, errors.New("no uploader configured")
	}
	data, err := draw()
	if err != nil {
		return nil, err
	}
	up, err := e.Uploader.Upload(ctx, data, contentType, "promo")
	if err != nil {
		return nil, err
	}
	sent, err := e.LINE.Push(ctx, to, compose(up)...)
	if err != nil {
		return nil, err
	}
	return &published{up: up, sent: sent}, nil
}

func (e *Executor) renderer() *render.Renderer {
	if e.Renderer == nil {
		return render.New("")
	}
	return e.Renderer
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case map[string]any:
		return x == nil
	}
	return false
}
