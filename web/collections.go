package web

import (
	"net/http"

	"github.com/deemkeen/fedimag/activitypub"
	"github.com/deemkeen/fedimag/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// orderedCollection renders an OrderedCollection. Items are listed only when
// the collection is public, followers are counted but never enumerated.
func orderedCollection(id string, total int, items []string) gin.H {
	doc := gin.H{
		"@context":   activitypub.ActivityStreamsContext,
		"id":         id,
		"type":       "OrderedCollection",
		"totalItems": total,
	}
	if items != nil {
		doc["orderedItems"] = items
	}
	return doc
}

func (s *server) handleUserFollowers(c *gin.Context) {
	u, err := s.localUser(c)
	if err != nil {
		s.abortLookup(c, err)
		return
	}
	s.renderFollowers(c, u)
}

func (s *server) handleMagazineFollowers(c *gin.Context) {
	m, err := s.localMagazine(c)
	if err != nil {
		s.abortLookup(c, err)
		return
	}
	s.renderFollowers(c, m)
}

func (s *server) renderFollowers(c *gin.Context, actor domain.Actor) {
	n, err := s.Store.CountFollowers(c.Request.Context(), actor)
	if err != nil {
		s.log.Warn("HTTP: Failed to count followers", zap.String("actor", actor.Handle()), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	renderActivityJSON(c, http.StatusOK, orderedCollection(actor.FollowersURL(s.Instance), n, nil))
}

// handleModerators serves the collection moderator Add and Remove activities target.
func (s *server) handleModerators(c *gin.Context) {
	m, err := s.localMagazine(c)
	if err != nil {
		s.abortLookup(c, err)
		return
	}
	mods, err := s.Store.Moderators(c.Request.Context(), m)
	if err != nil {
		s.log.Warn("HTTP: Failed to list moderators", zap.String("magazine", m.Name), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	items := make([]string, 0, len(mods))
	for _, u := range mods {
		items = append(items, u.ProfileURL(s.Instance))
	}
	renderActivityJSON(c, http.StatusOK,
		orderedCollection(activitypub.ModeratorsCollectionURL(s.Instance, m), len(items), items))
}

// handleUserCollection serves the collections a user advertises but that
// are not browsable here.
func (s *server) handleUserCollection(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := s.localUser(c)
		if err != nil {
			s.abortLookup(c, err)
			return
		}
		renderActivityJSON(c, http.StatusOK, orderedCollection(u.ProfileURL(s.Instance)+"/"+name, 0, []string{}))
	}
}

func (s *server) handleMagazineCollection(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := s.localMagazine(c)
		if err != nil {
			s.abortLookup(c, err)
			return
		}
		renderActivityJSON(c, http.StatusOK, orderedCollection(m.ProfileURL(s.Instance)+"/"+name, 0, []string{}))
	}
}
