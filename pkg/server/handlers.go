package server

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/entrhq/gridscout/pkg/catalog"
	"github.com/entrhq/gridscout/pkg/heal"
	"github.com/entrhq/gridscout/pkg/workflow"
	"github.com/gin-gonic/gin"
)

// Defaults applied to requests that omit the date range.
const (
	DefaultStartDate = "01/01/1980"
	dateLayout       = "01/02/2006"
)

// maxReturnedRows bounds the records echoed by /api/execute-script.
const maxReturnedRows = 5000

type runRequest struct {
	URL         string `json:"url" binding:"required"`
	SearchQuery string `json:"search_query" binding:"required"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

type executeRequest struct {
	ScriptPath  string `json:"script_path" binding:"required"`
	SearchQuery string `json:"search_query" binding:"required"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

func defaultDates(start, end string) (string, string) {
	if start == "" {
		start = DefaultStartDate
	}
	if end == "" {
		end = time.Now().Format(dateLayout)
	}
	return start, end
}

func (s *Server) handleListScripts(c *gin.Context) {
	if s.cfg.Catalog == nil {
		c.JSON(http.StatusOK, gin.H{"scripts": []catalog.Entry{}})
		return
	}
	entries, err := s.cfg.Catalog.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})
	if entries == nil {
		entries = []catalog.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"scripts": entries})
}

// handleStartRun registers a run. The session starts when its stream is
// opened on /ws/agent/:id.
func (s *Server) handleStartRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, end := defaultDates(req.StartDate, req.EndDate)
	r := newRun(workflow.Request{
		URL:         req.URL,
		SearchQuery: req.SearchQuery,
		StartDate:   start,
		EndDate:     end,
	})
	s.runs.add(r)
	s.logger.Infof("run %s created for %s", r.ID, req.URL)
	c.JSON(http.StatusOK, gin.H{"run_id": r.ID})
}

func (s *Server) handleGetRun(c *gin.Context) {
	r, ok := s.runs.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	c.JSON(http.StatusOK, r.summary())
}

// handleExecuteScript runs one artifact and returns its records. The
// subprocess runs on this request's goroutine only.
func (s *Server) handleExecuteScript(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.cfg.Tester == nil || s.cfg.Catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "script execution is not configured"})
		return
	}
	path, err := s.cfg.Catalog.Resolve(req.ScriptPath)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, catalog.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "error": "Script file not found"})
		return
	}

	start, end := defaultDates(req.StartDate, req.EndDate)
	outcome, err := s.cfg.Tester.Execute(c.Request.Context(), path, heal.Params{
		SearchQuery: req.SearchQuery,
		StartDate:   start,
		EndDate:     end,
	})
	if outcome == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}

	resp := gin.H{
		"success":   err == nil && outcome.Success,
		"row_count": outcome.RowCount,
		"stdout":    outcome.Stdout,
		"stderr":    outcome.Stderr,
		"duration":  outcome.Duration.String(),
	}
	switch {
	case err != nil:
		resp["error"] = err.Error()
	case !outcome.Success:
		resp["error"] = outcome.FailureMessage()
	}

	data := []map[string]string{}
	if outcome.DataPath != "" {
		records, readErr := heal.ReadRecords(outcome.DataPath, maxReturnedRows)
		if readErr != nil {
			s.logger.Warnf("failed to read %s: %v", outcome.DataPath, readErr)
		} else if records != nil {
			data = records
		}
		resp["data_path"] = outcome.DataPath
	}
	resp["data"] = data
	c.JSON(http.StatusOK, resp)
}
