package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nugget/linebot-mcp/internal/errorsx"
	"github.com/nugget/linebot-mcp/internal/line"
	"github.com/nugget/linebot-mcp/internal/objstore"
	"github.com/nugget/linebot-mcp/internal/style"
)

type pushed struct {
	to   string
	msgs []line.Message
}

type fakeLINE struct {
	pushes     []pushed
	broadcasts [][]line.Message
	profile    *line.Profile
	profileErr error
	pushErr    error
	limit      *int64
	usage      *int64
	menus      []line.RichMenu
}

func (f *fakeLINE) Push(_ context.Context, to string, msgs ...line.Message) (*line.SentMessages, error) {
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	f.pushes = append(f.pushes, pushed{to, msgs})
	return &line.SentMessages{}, nil
}

func (f *fakeLINE) Broadcast(_ context.Context, msgs ...line.Message) (*line.SentMessages, error) {
	f.broadcasts = append(f.broadcasts, msgs)
	return &line.SentMessages{}, nil
}

func (f *fakeLINE) Profile(context.Context, string) (*line.Profile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	if f.profile == nil {
		return &line.Profile{}, nil
	}
	return f.profile, nil
}

func (f *fakeLINE) Quota(context.Context) (*line.Quota, error) {
	return &line.Quota{Type: "limited", Value: f.limit}, nil
}

func (f *fakeLINE) QuotaConsumption(context.Context) (*line.QuotaConsumption, error) {
	if f.usage == nil {
		return nil, errors.New("unavailable")
	}
	return &line.QuotaConsumption{TotalUsage: f.usage}, nil
}

func (f *fakeLINE) RichMenus(context.Context) (*line.RichMenuList, error) {
	return &line.RichMenuList{RichMenus: f.menus}, nil
}

type fakeGuard struct{ err error }

func (g fakeGuard) Check(context.Context) error { return g.err }

type fixedStyle style.Config

func (s fixedStyle) Style() style.Config { return style.Config(s) }

func ptr(v int64) *int64 { return &v }

func texts(msgs []line.Message) []string {
	var out []string
	for _, m := range msgs {
		if t, ok := m.(line.TextMessage); ok {
			out = append(out, t.Text)
		}
	}
	return out
}

func TestExecute_RecipientResolution(t *testing.T) {
	f := &fakeLINE{}
	e := &Executor{LINE: f, DefaultUserID: "Udefault"}
	ctx := context.Background()

	e.Execute(ctx, PushText{Target: Target{UserID: "Uplan"}, Text: "a"}, "Ureq")
	e.Execute(ctx, PushText{Text: "b"}, "Ureq")
	e.Execute(ctx, PushText{Text: "c"}, "")

	want := []string{"Uplan", "Ureq", "Udefault"}
	for i, w := range want {
		if f.pushes[i].to != w {
			t.Errorf("push %d to = %q, want %q", i, f.pushes[i].to, w)
		}
	}

	_, err := (&Executor{LINE: f}).Execute(ctx, PushText{Text: "x"}, "")
	if !errors.Is(err, line.ErrNoUserID) {
		t.Errorf("err = %v, want ErrNoUserID", err)
	}
}

func TestExecute_PushTextNormalizesAndAddsSticker(t *testing.T) {
	f := &fakeLINE{profile: &line.Profile{DisplayName: "Bee"}}
	st := style.Default()
	st.GreetWithName = true
	st.PoliteParticle = "ค่ะ"
	st.IncludeSticker = true
	st.StickerPackageID = "446"
	st.StickerID = "1988"
	e := &Executor{LINE: f, Styles: fixedStyle(st)}

	if _, err := e.Execute(context.Background(), PushText{Text: "สวัสดี วันนี้มีโปร"}, "U1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	msgs := f.pushes[0].msgs
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want text + sticker", len(msgs))
	}
	if got := msgs[0].(line.TextMessage).Text; !strings.HasPrefix(got, "สวัสดีค่ะ คุณ Bee") {
		t.Errorf("text = %q", got)
	}
	if s := msgs[1].(line.StickerMessage); s.PackageID != "446" || s.StickerID != "1988" {
		t.Errorf("sticker = %+v", s)
	}
}

func TestExecute_PushTextQuotaGuard(t *testing.T) {
	f := &fakeLINE{}
	guardErr := errorsx.New(errorsx.ReasonQuotaExceeded, "LINE message quota exceeded (used 5/5). Skipped push.")
	e := &Executor{LINE: f, Quota: fakeGuard{guardErr}}

	_, err := e.Execute(context.Background(), PushText{Text: "hi"}, "U1")
	if err != guardErr {
		t.Fatalf("err = %v", err)
	}
	if len(f.pushes) != 0 {
		t.Error("push should be skipped")
	}

	// Broadcasts bypass the guard.
	if _, err := e.Execute(context.Background(), BroadcastText{Text: "all"}, ""); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(f.broadcasts) != 1 {
		t.Error("broadcast should be sent despite exhausted quota")
	}
}

func TestExecute_PushText429(t *testing.T) {
	f := &fakeLINE{pushErr: &line.APIError{StatusCode: 429}}
	_, err := (&Executor{LINE: f}).Execute(context.Background(), PushText{Text: "hi"}, "U1")
	if err == nil || err.Error() != "LINE message quota exceeded (429). Skipped push." {
		t.Errorf("err = %v", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonQuotaExceeded) {
		t.Errorf("reason = %s", errorsx.Reason(err))
	}
}

func TestExecute_MissingFields(t *testing.T) {
	e := &Executor{LINE: &fakeLINE{}}
	ctx := context.Background()
	tests := []struct {
		action Action
		want   string
	}{
		{PushText{}, "Missing args.text for push_text"},
		{PushFlex{AltText: "a"}, "Missing altText or contents for push_flex"},
		{BroadcastText{}, "Missing args.text for broadcast_text"},
		{BroadcastFlex{Contents: map[string]any{"type": "bubble"}}, "Missing altText or contents for broadcast_flex"},
	}
	for _, tt := range tests {
		_, err := e.Execute(ctx, tt.action, "U1")
		if err == nil || err.Error() != tt.want {
			t.Errorf("%s: err = %v, want %q", tt.action.Name(), err, tt.want)
		}
	}
}

func TestExecute_GetProfileSummary(t *testing.T) {
	f := &fakeLINE{profile: &line.Profile{DisplayName: "Bee", UserID: "U1"}}
	res, err := (&Executor{LINE: f}).Execute(context.Background(), GetProfile{}, "U1")
	if err != nil {
		t.Fatal(err)
	}
	if res.(*line.Profile).DisplayName != "Bee" {
		t.Errorf("result = %+v", res)
	}
	if got := texts(f.pushes[0].msgs)[0]; got != "ชื่อ: Bee\nUser ID: U1" {
		t.Errorf("summary = %q", got)
	}
}

func TestExecute_GetProfileSwallowsPushFailure(t *testing.T) {
	f := &fakeLINE{profile: &line.Profile{DisplayName: "Bee"}, pushErr: errors.New("down")}
	if _, err := (&Executor{LINE: f}).Execute(context.Background(), GetProfile{}, "U1"); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestExecute_RichMenuSummary(t *testing.T) {
	f := &fakeLINE{menus: []line.RichMenu{
		{Name: "Main"}, {RichMenuID: "rm-2"}, {}, {Name: "Fourth"},
	}}
	if _, err := (&Executor{LINE: f}).Execute(context.Background(), GetRichMenuList{}, "U1"); err != nil {
		t.Fatal(err)
	}
	want := "Rich Menu ทั้งหมด: 4 รายการ\n- Main\n- rm-2\n- menu-3"
	if got := texts(f.pushes[0].msgs)[0]; got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
}

func TestExecute_RichMenuWithoutRecipientDoesNotPush(t *testing.T) {
	f := &fakeLINE{}
	if _, err := (&Executor{LINE: f}).Execute(context.Background(), GetRichMenuList{}, ""); err != nil {
		t.Fatal(err)
	}
	if len(f.pushes) != 0 {
		t.Error("no recipient should mean no push")
	}
}

func TestQuotaSummary(t *testing.T) {
	if got := QuotaSummary(ptr(15000), ptr(1234)); got != "โควตาต่อเดือน: 15,000\nใช้ไป: 1,234\nคงเหลือ: 13,766" {
		t.Errorf("summary = %q", got)
	}
	if got := QuotaSummary(ptr(500), nil); got != "โควตาต่อเดือน: 500" {
		t.Errorf("limit only = %q", got)
	}
	if got := QuotaSummary(nil, nil); got != "ดูโควตาสำเร็จ" {
		t.Errorf("unknown = %q", got)
	}
}

func TestThousands(t *testing.T) {
	for in, want := range map[int64]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -4500: "-4,500"} {
		if got := Thousands(in); got != want {
			t.Errorf("Thousands(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestExecute_MakeImage(t *testing.T) {
	f := &fakeLINE{}
	up := &objstore.LocalUploader{Store: objstore.New(0, nil), PublicBaseURL: "https://bot.example.com"}
	e := &Executor{LINE: f, Uploader: up, PublicBaseURL: "https://bot.example.com"}

	res, err := e.Execute(context.Background(), MakeImage{Content: "big sale"}, "U1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	art := res.(ArtifactResult)
	if !strings.HasPrefix(art.Image.URL, "https://bot.example.com/api/object/") {
		t.Errorf("url = %q", art.Image.URL)
	}
	msgs := f.pushes[0].msgs
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want image + text", len(msgs))
	}
	if img := msgs[0].(line.ImageMessage); img.OriginalContentURL != art.Image.URL {
		t.Errorf("image = %+v", img)
	}
	if got := texts(msgs)[0]; got != "ดาวน์โหลดรูปภาพ: "+art.Image.URL {
		t.Errorf("text = %q", got)
	}
}

func TestExecute_MakeQRWithoutBaseURLSendsTextOnly(t *testing.T) {
	f := &fakeLINE{}
	e := &Executor{LINE: f, Uploader: &objstore.LocalUploader{Store: objstore.New(0, nil)}}

	if _, err := e.Execute(context.Background(), MakeQR{Content: "https://example.com"}, "U1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	msgs := f.pushes[0].msgs
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want text only", len(msgs))
	}
	if _, err := e.Execute(context.Background(), MakeQR{}, "U1"); err == nil {
		t.Error("empty QR content should fail")
	}
}

func TestExecute_MakePDF(t *testing.T) {
	f := &fakeLINE{}
	e := &Executor{LINE: f, Uploader: &objstore.LocalUploader{Store: objstore.New(0, nil), PublicBaseURL: "https://x.test"}}

	res, err := e.Execute(context.Background(), MakePDF{Content: "body"}, "U1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	art := res.(ArtifactResult)
	if !strings.HasSuffix(art.PDF.Filename, ".pdf") || !strings.HasPrefix(art.PDF.Filename, "promo-") {
		t.Errorf("filename = %q", art.PDF.Filename)
	}
	if got := texts(f.pushes[0].msgs)[0]; got != art.PDF.URL {
		t.Errorf("pushed text = %q, want url", got)
	}
}

func TestExecute_MakePDFUploadFailure(t *testing.T) {
	e := &Executor{LINE: &fakeLINE{}, Uploader: objstore.NewHTTPUploader("")}
	_, err := e.Execute(context.Background(), MakePDF{}, "U1")
	if err == nil || !strings.HasPrefix(err.Error(), "Failed to generate PDF: ") {
		t.Errorf("err = %v", err)
	}
}
