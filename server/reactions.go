package server

import (
	"github.com/gin-gonic/gin"
	"net/http"
	"tuiter/auth"
	"tuiter/storage/models"
)

func (s *Server) toggle(kind models.ReactionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, err := auth.ActingUser(c, c.Param("uid"))
		if err != nil {
			sendError(c, err)
			return
		}
		result, err := s.reconciler.Toggle(c.Request.Context(), c.Param("tid"), userId, kind)
		if err != nil {
			sendError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) remove(kind models.ReactionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, err := auth.ActingUser(c, c.Param("uid"))
		if err != nil {
			sendError(c, err)
			return
		}
		result, err := s.reconciler.Remove(c.Request.Context(), c.Param("tid"), userId, kind)
		if err != nil {
			sendError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) listByUser(kind models.ReactionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, err := auth.ResolveUser(c, c.Param("uid"))
		if err != nil {
			sendError(c, err)
			return
		}
		reactions, err := s.reconciler.ByUser(c.Request.Context(), userId, kind)
		if err != nil {
			sendError(c, err)
			return
		}
		c.JSON(http.StatusOK, reactions)
	}
}

func (s *Server) listByPost(kind models.ReactionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		reactions, err := s.reconciler.ByPost(c.Request.Context(), c.Param("tid"), kind)
		if err != nil {
			sendError(c, err)
			return
		}
		c.JSON(http.StatusOK, reactions)
	}
}

func (s *Server) getReactionStatus(c *gin.Context) {
	userId, err := auth.ResolveUser(c, c.Param("uid"))
	if err != nil {
		sendError(c, err)
		return
	}
	status, err := s.reconciler.Status(c.Request.Context(), c.Param("tid"), userId)
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
