package portal

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendanceportal/internal/auth"
	"attendanceportal/internal/calendar"
	"attendanceportal/internal/export"
	"attendanceportal/internal/grid"
)

// courseGrid serves the attendance sheet. Roster order is the default; the
// edit view asks for order=last_name.
func (h *Handler) courseGrid(c *gin.Context) {
	view, err := h.Loader.Load(c.Request.Context(), auth.CurrentSession(c).Client(),
		c.Param("code"), grid.ParseOrder(c.Query("order")))
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := gin.H{
		"course":     view.Course,
		"dates":      view.Dates,
		"students":   view.Students,
		"grid":       view.Grid,
		"duplicates": view.Duplicates,
		"summary":    grid.Summarize(view.Students, view.Dates, view.Grid),
	}
	if s, ok := calendar.ActiveSchedule(view.Course, h.now()); ok {
		resp["active_schedule"] = s
	}
	c.JSON(http.StatusOK, resp)
}

// courseGridXLSX downloads the sheet sorted by last name.
func (h *Handler) courseGridXLSX(c *gin.Context) {
	view, err := h.Loader.Load(c.Request.Context(), auth.CurrentSession(c).Client(),
		c.Param("code"), grid.OrderLastName)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(view.Students) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "course has no enrolled students"})
		return
	}
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, view.Students, view.Dates, view.Grid); err != nil {
		h.Log.Error("xlsx export failed", zap.String("course", view.Course.Code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	name := export.FileName(view.Course.Code, h.now())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

type cellEdit struct {
	StudentID string `json:"student_id" binding:"required"`
	Date      string `json:"date" binding:"required"`
	Status    string `json:"status" binding:"omitempty,oneof=presente tarde ausente"`
}

type saveGridRequest struct {
	Cells []cellEdit `json:"cells" binding:"required,dive"`
}

// saveGrid applies cell edits on top of the current sheet and upserts every
// recorded cell in one batch.
func (h *Handler) saveGrid(c *gin.Context) {
	var req saveGridRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	api := auth.CurrentSession(c).Client()
	view, err := h.Loader.Load(c.Request.Context(), api, c.Param("code"), grid.OrderLastName)
	if err != nil {
		h.fail(c, err)
		return
	}

	students := make(map[string]bool, len(view.Students))
	for _, s := range view.Students {
		students[s.ID] = true
	}
	dates := make(map[string]bool, len(view.Dates))
	for _, d := range view.Dates {
		dates[d] = true
	}

	edited := view.Grid.Clone()
	for _, cell := range req.Cells {
		if !students[cell.StudentID] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student not enrolled: " + cell.StudentID})
			return
		}
		if !dates[cell.Date] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "not a session date: " + cell.Date})
			return
		}
		if err := edited.Set(cell.StudentID, cell.Date, cell.Status); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	records := grid.BatchRecords(view.Course.ID, view.Students, view.Dates, edited)
	if len(records) > 0 {
		if err := api.BatchAttendance(c.Request.Context(), records); err != nil {
			h.fail(c, err)
			return
		}
	}
	h.Log.Info("attendance sheet saved",
		zap.String("course", view.Course.Code), zap.Int("edits", len(req.Cells)), zap.Int("records", len(records)))
	c.JSON(http.StatusOK, gin.H{
		"saved":   len(records),
		"grid":    edited,
		"summary": grid.Summarize(view.Students, view.Dates, edited),
	})
}

func (h *Handler) myAttendance(c *gin.Context) {
	s := auth.CurrentSession(c)
	view, err := h.Loader.LoadStudentView(c.Request.Context(), s.Client(), c.Param("code"), s.Profile.CUI)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// startAttendance triggers live capture for a schedule of the course. Outside
// the schedule's window it is refused unless force=true.
func (h *Handler) startAttendance(c *gin.Context) {
	api := auth.CurrentSession(c).Client()
	course, err := api.Course(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	scheduleID := c.Param("scheduleID")
	found := false
	active := false
	for _, s := range course.Schedules {
		if s.ID == scheduleID {
			found = true
			active = calendar.IsScheduleActive(s, h.now())
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not in course"})
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))
	if !active && !force {
		c.JSON(http.StatusConflict, gin.H{"error": "schedule is not in session"})
		return
	}
	if err := api.StartAttendance(c.Request.Context(), scheduleID); err != nil {
		h.fail(c, err)
		return
	}
	h.Log.Info("attendance capture started",
		zap.String("course", course.Code), zap.String("schedule_id", scheduleID), zap.Bool("forced", !active))
	c.JSON(http.StatusAccepted, gin.H{"schedule_id": scheduleID, "started": true})
}
