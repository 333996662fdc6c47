package portal

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendanceportal/internal/auth"
	"attendanceportal/internal/model"
	"attendanceportal/internal/recovery"
)

const defaultSubmitTimeout = 2 * time.Minute

func (h *Handler) snapshot(id string, wf *recovery.Workflow) recovery.Snapshot {
	s := wf.Snapshot()
	s.ID = id
	s.Groups = recovery.WithImageURLs(h.Config.PublicBackendURL, s.Groups)
	return s
}

func (h *Handler) startRecovery(c *gin.Context) {
	s := auth.CurrentSession(c)
	wf, err := h.Recovery.Start(c.Request.Context(), s.Client(), s.Profile.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	id := h.Workflows.Add(s.ID, wf)
	c.JSON(http.StatusCreated, h.snapshot(id, wf))
}

// step runs action on the caller's workflow and replies with the new state.
func (h *Handler) step(c *gin.Context, action func(*recovery.Workflow) error) {
	id := c.Param("id")
	var snap recovery.Snapshot
	err := h.Workflows.With(id, auth.CurrentSession(c).ID, func(wf *recovery.Workflow) error {
		if err := action(wf); err != nil {
			return err
		}
		snap = h.snapshot(id, wf)
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) recoveryState(c *gin.Context) {
	h.step(c, func(*recovery.Workflow) error { return nil })
}

func (h *Handler) toggleCourse(c *gin.Context) {
	courseID := c.Param("courseID")
	h.step(c, func(wf *recovery.Workflow) error { return wf.ToggleCourse(courseID) })
}

func (h *Handler) continueRecovery(c *gin.Context) {
	h.step(c, (*recovery.Workflow).Continue)
}

func (h *Handler) backRecovery(c *gin.Context) {
	h.step(c, (*recovery.Workflow).Back)
}

func (h *Handler) toggleMatch(c *gin.Context) {
	matchID, err := strconv.ParseInt(c.Param("matchID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
		return
	}
	h.step(c, func(wf *recovery.Workflow) error { return wf.ToggleMatch(matchID) })
}

// submitRecovery records the selected faces. The batch runs outside the
// workflow lock, so state reads during it see "submitting", and to completion
// on its own deadline even if the caller disconnects. The workflow is
// discarded afterwards.
func (h *Handler) submitRecovery(c *gin.Context) {
	s := auth.CurrentSession(c)
	id := c.Param("id")

	var (
		matches   []model.FaceMatch
		studentID string
	)
	err := h.Workflows.With(id, s.ID, func(wf *recovery.Workflow) error {
		var err error
		matches, err = wf.BeginSubmit()
		studentID = wf.StudentID()
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	timeout := h.Config.SubmitTimeout
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), timeout)
	defer cancel()
	report := recovery.NewSubmitter(s.Client(), h.Log, h.Metrics, h.Config.SubmitParallelism).
		Submit(ctx, studentID, matches)

	err = h.Workflows.With(id, s.ID, func(wf *recovery.Workflow) error { return wf.Finish(report) })
	if err != nil {
		h.Log.Warn("recovery workflow gone before finish", zap.String("id", id), zap.Error(err))
	} else if err := h.Workflows.Remove(id, s.ID); err != nil {
		h.Log.Warn("recovery workflow already gone", zap.String("id", id))
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) discardRecovery(c *gin.Context) {
	if err := h.Workflows.Remove(c.Param("id"), auth.CurrentSession(c).ID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) matchPhoto(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image field required"})
		return
	}
	photo, err := readPart(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	matches, err := h.Recovery.MatchPhoto(c.Request.Context(), auth.CurrentSession(c).Client(), photo)
	if err != nil {
		h.fail(c, err)
		return
	}
	for i := range matches {
		matches[i].ImagePath = recovery.ImageURL(h.Config.PublicBackendURL, matches[i].ImagePath)
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}
