package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/deemkeen/fedimag/activitypub"
	"github.com/deemkeen/fedimag/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *server) localUser(c *gin.Context) (*domain.User, error) {
	name := c.Param("username")
	u, err := s.Store.FindUserByUsername(c.Request.Context(), name)
	if err != nil {
		return nil, err
	}
	if !u.IsLocal() {
		return nil, fmt.Errorf("user %s: %w", name, domain.ErrNotFound)
	}
	return u, nil
}

func (s *server) localMagazine(c *gin.Context) (*domain.Magazine, error) {
	name := c.Param("name")
	m, err := s.Store.FindMagazineByName(c.Request.Context(), name)
	if err != nil {
		return nil, err
	}
	if !m.IsLocal() {
		return nil, fmt.Errorf("magazine %s: %w", name, domain.ErrNotFound)
	}
	return m, nil
}

func (s *server) handleUser(c *gin.Context) {
	u, err := s.localUser(c)
	if err != nil {
		s.abortLookup(c, err)
		return
	}
	if u.DeletedAt != nil {
		renderActivityJSON(c, http.StatusGone, tombstone(u.ProfileURL(s.Instance)))
		return
	}
	renderActivityJSON(c, http.StatusOK, s.Builder.ActorObject(u))
}

func (s *server) handleMagazine(c *gin.Context) {
	m, err := s.localMagazine(c)
	if err != nil {
		s.abortLookup(c, err)
		return
	}
	renderActivityJSON(c, http.StatusOK, s.Builder.ActorObject(m))
}

func (s *server) handleInstanceActor(c *gin.Context) {
	renderActivityJSON(c, http.StatusOK, s.Builder.InstanceActor(s.InstanceKeyPem))
}

// handleContent serves the object of a local, public entry, post or comment.
func (s *server) handleContent(c *gin.Context) {
	kind, id, ok := domain.ParseContentPath(c.Request.URL.Path)
	if !ok {
		renderNotFound(c)
		return
	}
	ctx := c.Request.Context()
	content, err := s.Store.FindContent(ctx, kind, id)
	if err != nil {
		s.abortLookup(c, err)
		return
	}
	if !content.IsLocal() || content.Visibility != domain.VisibilityPublic ||
		content.Magazine == nil || content.Magazine.Name != c.Param("name") {
		renderNotFound(c)
		return
	}

	doc, err := s.Builder.ContentObject(ctx, content)
	if err != nil {
		s.log.Warn("HTTP: Failed to build object", zap.String("id", id.String()), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	renderActivityJSON(c, http.StatusOK, doc)
}

// handleActivity serves the document a local activity was delivered with.
func (s *server) handleActivity(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		renderNotFound(c)
		return
	}
	ctx := c.Request.Context()
	a, err := s.Store.FindActivity(ctx, id)
	if err != nil {
		s.abortLookup(c, err)
		return
	}
	if a.ApId != "" {
		renderNotFound(c)
		return
	}

	data, err := s.Builder.BuildJSON(ctx, a)
	if err != nil {
		if errors.Is(err, activitypub.ErrUnfederatedObject) {
			renderNotFound(c)
			return
		}
		s.log.Warn("HTTP: Failed to build activity", zap.String("id", id.String()), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, activitypub.ContentTypeActivity+"; charset=utf-8", data)
}

func tombstone(id string) gin.H {
	return gin.H{
		"@context": activitypub.ActivityStreamsContext,
		"id":       id,
		"type":     "Tombstone",
	}
}
