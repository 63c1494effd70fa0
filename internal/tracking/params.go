package tracking

import (
	"net/http"

	"github.com/dukerupert/foldclub/internal/model"
)

// Cookie names.
const (
	SessionCookie = "fc_session"
	ConsentCookie = "fc_consent"
	fbcCookie     = "_fbc"
	fbpCookie     = "_fbp"
)

// ExtractParams reads attribution parameters from the request's query string
// and the Meta browser cookies. Empty values count as absent.
func ExtractParams(r *http.Request) model.AttributionParams {
	q := r.URL.Query()
	get := func(key string) *string {
		if v := q.Get(key); v != "" {
			return &v
		}
		return nil
	}
	return model.AttributionParams{
		FBCLID:      get("fbclid"),
		GCLID:       get("gclid"),
		TTCLID:      get("ttclid"),
		UTMSource:   get("utm_source"),
		UTMMedium:   get("utm_medium"),
		UTMCampaign: get("utm_campaign"),
		UTMContent:  get("utm_content"),
		UTMTerm:     get("utm_term"),
		FBC:         cookieValue(r, fbcCookie),
		FBP:         cookieValue(r, fbpCookie),
	}
}

func cookieValue(r *http.Request, name string) *string {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return nil
	}
	v := c.Value
	return &v
}

// MergeParams fills the empty fields of dst from src. Values already present
// in dst win.
func MergeParams(dst, src model.AttributionParams) model.AttributionParams {
	pick := func(a, b *string) *string {
		if a != nil {
			return a
		}
		return b
	}
	return model.AttributionParams{
		FBCLID:      pick(dst.FBCLID, src.FBCLID),
		GCLID:       pick(dst.GCLID, src.GCLID),
		TTCLID:      pick(dst.TTCLID, src.TTCLID),
		UTMSource:   pick(dst.UTMSource, src.UTMSource),
		UTMMedium:   pick(dst.UTMMedium, src.UTMMedium),
		UTMCampaign: pick(dst.UTMCampaign, src.UTMCampaign),
		UTMContent:  pick(dst.UTMContent, src.UTMContent),
		UTMTerm:     pick(dst.UTMTerm, src.UTMTerm),
		FBC:         pick(dst.FBC, src.FBC),
		FBP:         pick(dst.FBP, src.FBP),
	}
}

// applyParams copies the present fields of p onto sess.
func applyParams(sess *model.AttributionSession, p model.AttributionParams) {
	for _, f := range []struct {
		dst **string
		src *string
	}{
		{&sess.FBCLID, p.FBCLID},
		{&sess.GCLID, p.GCLID},
		{&sess.TTCLID, p.TTCLID},
		{&sess.UTMSource, p.UTMSource},
		{&sess.UTMMedium, p.UTMMedium},
		{&sess.UTMCampaign, p.UTMCampaign},
		{&sess.UTMContent, p.UTMContent},
		{&sess.UTMTerm, p.UTMTerm},
		{&sess.FBC, p.FBC},
		{&sess.FBP, p.FBP},
	} {
		if f.src != nil {
			*f.dst = f.src
		}
	}
}

// UserDataFromSession builds the platform identity block from a session.
func UserDataFromSession(sess *model.AttributionSession) UserData {
	if sess == nil {
		return UserData{}
	}
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	ud := UserData{
		IP:        deref(sess.IPAddress),
		UserAgent: deref(sess.UserAgent),
		FBC:       deref(sess.FBC),
		FBP:       deref(sess.FBP),
		FBCLID:    deref(sess.FBCLID),
		GCLID:     deref(sess.GCLID),
		TTCLID:    deref(sess.TTCLID),
	}
	if sess.FBCLID != nil {
		ud.ClickTime = sess.CreatedAt
		if sess.FBCLIDAt != nil {
			ud.ClickTime = *sess.FBCLIDAt
		}
	}
	return ud
}
