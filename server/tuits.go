package server

import (
	"fmt"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"net/http"
	"tuiter/auth"
	"tuiter/storage"
)

type editRequest struct {
	Tuit string `json:"tuit"`
}

func (s *Server) getTuit(c *gin.Context) {
	post, err := s.posts.GetPost(c.Request.Context(), c.Param("tid"))
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// editTuit is reserved to the author of the tuit.
func (s *Server) editTuit(c *gin.Context) {
	userId, ok := auth.UserID(c)
	if !ok {
		sendError(c, auth.ErrUnauthenticated)
		return
	}

	var request editRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		sendError(c, fmt.Errorf("edit body: %v: %w", err, storage.ErrInvalid))
		return
	}

	ctx := c.Request.Context()
	postId := c.Param("tid")
	post, err := s.posts.GetPost(ctx, postId)
	if err != nil {
		sendError(c, err)
		return
	}
	if post.PostedBy != userId {
		sendError(c, auth.ErrForbidden)
		return
	}

	edited, err := s.archiver.Edit(ctx, postId, request.Tuit)
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, edited)
}

func (s *Server) getVersions(c *gin.Context) {
	history, err := s.archiver.History(c.Request.Context(), c.Param("tid"))
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// getStats serves the cached stat block, falling back to the tuit document.
func (s *Server) getStats(c *gin.Context) {
	ctx := c.Request.Context()
	postId := c.Param("tid")

	if s.statsCache != nil {
		if stats, ok := s.statsCache.Get(ctx, postId); ok {
			c.JSON(http.StatusOK, stats)
			return
		}
	}

	post, err := s.posts.GetPost(ctx, postId)
	if err != nil {
		sendError(c, err)
		return
	}
	if s.statsCache != nil {
		if err := s.statsCache.Fill(ctx, postId, post.Stats); err != nil {
			log.Warnf("Could not cache stats of tuit %s: %v", postId, err)
		}
	}
	c.JSON(http.StatusOK, post.Stats)
}
