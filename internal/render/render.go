// Package render turns announcements into chat-ready messages.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"
	_ "time/tzdata"

	"github.com/hamed0406/noticerelay/internal/domain"
)

const (
	DefaultTimezone = "Asia/Shanghai"
	footerLayout    = "2006-01-02 15:04:05"
)

// Message is a rendered announcement. Transports that cannot show embeds use Text.
type Message struct {
	Kind   domain.Kind
	Title  string
	Colour int
	Body   string
	URL    string
	Footer string
	Time   time.Time
}

var titles = map[domain.Kind]string{
	domain.KindNormal:       "【比赛公告】",
	domain.KindNewChallenge: "【新增题目】",
	domain.KindNewHint:      "【题目提示】",
	domain.KindFirstBlood:   "【一血播报】",
	domain.KindSecondBlood:  "【二血播报】",
	domain.KindThirdBlood:   "【三血播报】",
}

var colours = map[domain.Kind]int{
	domain.KindNormal:       0x3498db,
	domain.KindNewChallenge: 0x2ecc71,
	domain.KindNewHint:      0xf1c40f,
	domain.KindFirstBlood:   0xffd700,
	domain.KindSecondBlood:  0xc0c0c0,
	domain.KindThirdBlood:   0xcd7f32,
}

// Platform values: Normal [content], NewChallenge/NewHint [challenge],
// bloods [team, challenge].
//
//go:embed templates/*.tmpl
var templatesFS embed.FS

var bodies = template.Must(template.New("bodies").Funcs(template.FuncMap{
	"at": at,
}).ParseFS(templatesFS, "templates/*.tmpl"))

func at(values []string, i int) string {
	if i < 0 || i >= len(values) {
		return "?"
	}
	return values[i]
}

type Renderer struct {
	loc *time.Location
}

// New loads tz for footers; empty means DefaultTimezone.
func New(tz string) (*Renderer, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return &Renderer{loc: loc}, nil
}

func Title(k domain.Kind) string {
	if t, ok := titles[k]; ok {
		return t
	}
	return "【" + string(k) + "】"
}

func Colour(k domain.Kind) int {
	return colours[k]
}

func ChallengesURL(baseURL string, competitionID int) string {
	return fmt.Sprintf("%s/games/%d/challenges", strings.TrimRight(baseURL, "/"), competitionID)
}

func (r *Renderer) Render(a domain.Announcement, p domain.Presentation) Message {
	title := Title(a.Kind)
	if p.CompetitionName != "" {
		title = p.CompetitionName + " " + title
	}

	var buf bytes.Buffer
	if err := bodies.ExecuteTemplate(&buf, string(a.Kind), a.Values); err != nil {
		buf.Reset()
		buf.WriteString(strings.Join(a.Values, " "))
	}

	t := a.Time().In(r.loc)
	msg := Message{
		Kind:   a.Kind,
		Title:  title,
		Colour: Colour(a.Kind),
		Body:   buf.String(),
		Footer: t.Format(footerLayout),
		Time:   t,
	}
	if p.BaseURL != "" {
		msg.URL = ChallengesURL(p.BaseURL, p.CompetitionID)
	}
	return msg
}

// Text is the plain rendering: title, body, link, footer.
func (m Message) Text() string {
	var b strings.Builder
	b.WriteString(m.Title)
	b.WriteString("\n")
	b.WriteString(m.Body)
	if m.URL != "" {
		b.WriteString("\n")
		b.WriteString(m.URL)
	}
	if m.Footer != "" {
		b.WriteString("\n")
		b.WriteString(m.Footer)
	}
	return b.String()
}
