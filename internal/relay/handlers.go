package relay

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type promptRequest struct {
	Prompt string `json:"prompt"`
}

const trackingPlaceholder = "Movement tracking functionality will be implemented here."

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "upstream": s.upstream.Name()})
}

// ask forwards {"prompt": ...} upstream and answers {"response": ...}.
func (s *Server) ask(missingPrompt string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req promptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": missingPrompt})
			return
		}
		prompt := strings.TrimSpace(req.Prompt)
		if prompt == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": missingPrompt})
			return
		}

		reply, err := s.upstream.Reply(c.Request.Context(), prompt, nil)
		if err != nil {
			s.logger.Error("upstream reply failed", "provider", s.upstream.Name(), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"response": reply})
	}
}

// poseFeedback turns posted pose data into a prompt and returns the
// upstream's answer as {"feedback": ...}.
func (s *Server) poseFeedback(c *gin.Context) {
	var pose json.RawMessage
	if err := c.ShouldBindJSON(&pose); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pose data"})
		return
	}

	prompt, err := PromptFromPose(pose)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	feedback, err := s.upstream.Reply(c.Request.Context(), prompt, nil)
	if err != nil {
		s.logger.Error("pose feedback failed", "provider", s.upstream.Name(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": feedback})
}

func (s *Server) trackMovement(c *gin.Context) {
	var body json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid movement data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "received",
		"analysis": trackingPlaceholder,
	})
}
