package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/deemkeen/fedimag/activitypub"
	"github.com/deemkeen/fedimag/domain"
	"github.com/gin-gonic/gin"
)

// parseAcct returns the local name of an acct:name@domain resource.
func parseAcct(resource string, inst domain.Instance) (string, bool) {
	acct, ok := strings.CutPrefix(resource, "acct:")
	if !ok {
		return "", false
	}
	acct = strings.TrimPrefix(acct, "@")
	name, host, ok := strings.Cut(acct, "@")
	if !ok || name == "" || !strings.EqualFold(host, inst.Domain) {
		return "", false
	}
	return name, true
}

// handleWebfinger resolves users first, then magazines.
func (s *server) handleWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	name, ok := parseAcct(resource, s.Instance)
	if !ok {
		renderNotFound(c)
		return
	}

	ctx := c.Request.Context()
	var actor domain.Actor
	u, err := s.Store.FindUserByUsername(ctx, name)
	switch {
	case err == nil && u.IsLocal() && u.DeletedAt == nil:
		actor = u
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		s.abortLookup(c, err)
		return
	default:
		m, err := s.Store.FindMagazineByName(ctx, name)
		if err != nil {
			s.abortLookup(c, err)
			return
		}
		if !m.IsLocal() {
			renderNotFound(c)
			return
		}
		actor = m
	}

	profile := actor.ProfileURL(s.Instance)
	c.Header("Content-Type", activitypub.ContentTypeJRD+"; charset=utf-8")
	c.JSON(http.StatusOK, activitypub.Webfinger{
		Subject: "acct:" + name + "@" + s.Instance.Domain,
		Aliases: []string{profile},
		Links: []activitypub.WebfingerLink{
			{Rel: "self", Type: activitypub.ContentTypeActivity, Href: profile},
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: profile},
		},
	})
}
