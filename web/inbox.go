package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/deemkeen/fedimag/activitypub"
	"github.com/deemkeen/fedimag/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// inboxPathKey holds the path signatures are checked against. It is set from
// the recipient this server minted, never from the request line.
const inboxPathKey = "inboxPath"

// handleInbox authenticates and processes one inbound activity. Personal
// and shared inboxes behave the same, routing happens on the activity.
func (s *server) handleInbox(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		s.log.Info("Inbox: Failed to read body", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	inboxPath := s.Instance.SharedInboxPath
	if p := c.GetString(inboxPathKey); p != "" {
		inboxPath = p
	}

	ctx := c.Request.Context()
	actor, err := s.Validator.Validate(ctx, c.Request.Header, c.Request.Host, body, inboxPath)
	if err != nil {
		var se *activitypub.SignatureError
		if errors.As(err, &se) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": string(se.Reason)})
			return
		}
		var fe *activitypub.FetchError
		if errors.As(err, &fe) || errors.Is(err, activitypub.ErrActorUnavailable) {
			// the key of the sender could not be fetched
			s.log.Info("Inbox: Signer unavailable", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown signer"})
			return
		}
		s.log.Info("Inbox: Bad request", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	if err := s.Inbox.Process(ctx, body); err != nil {
		s.log.Warn("Inbox: Failed to process activity",
			zap.String("actor", actor.ID),
			zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusAccepted)
}

// requireUser answers 404 for personal inboxes of unknown users.
func (s *server) requireUser(c *gin.Context) {
	u, err := s.localUser(c)
	if err != nil {
		s.abortLookup(c, err)
		return
	}
	s.setInboxPath(c, u)
}

func (s *server) requireMagazine(c *gin.Context) {
	m, err := s.localMagazine(c)
	if err != nil {
		s.abortLookup(c, err)
		return
	}
	s.setInboxPath(c, m)
}

func (s *server) setInboxPath(c *gin.Context, actor domain.Actor) {
	u, err := url.Parse(actor.InboxURL(s.Instance))
	if err != nil {
		s.abortLookup(c, fmt.Errorf("inbox of %s: %w", actor.ProfileURL(s.Instance), err))
		return
	}
	c.Set(inboxPathKey, u.Path)
	c.Next()
}

func (s *server) abortLookup(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}
	s.log.Warn("HTTP: Lookup failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.AbortWithStatus(http.StatusInternalServerError)
}
