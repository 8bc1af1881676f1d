package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/repertory-sheet-server/internal/domain"
	"github.com/repertory-sheet-server/internal/service"
)

const (
	mimeText = "text/plain; charset=utf-8"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type fetchRubricsRequest struct {
	RubricIDs []string `json:"rubric_ids"`
}

type importanceRequest struct {
	Importance int `json:"importance"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	session := s.cases.StartCase()
	c.JSON(http.StatusCreated, gin.H{
		"session_id": session.ID(),
		"created_at": session.CreatedAt(),
	})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.cases.EndCase(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	s.live.closeSession(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// handleAddRubric selects a rubric supplied in the repertory wire shape
func (s *Server) handleAddRubric(c *gin.Context) {
	var body domain.RubricResult
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, domain.NewValidationError("body", "invalid rubric JSON: "+err.Error(), nil))
		return
	}
	rubric, err := body.ToRubric()
	if err != nil {
		respondError(c, err)
		return
	}

	sessionID := c.Param("id")
	added, err := s.cases.AddRubric(sessionID, rubric)
	if err != nil {
		respondError(c, err)
		return
	}
	s.respondAnalysis(c, sessionID, gin.H{"added": added})
}

// handleFetchRubrics selects rubrics by id, looked up in the repertory
func (s *Server) handleFetchRubrics(c *gin.Context) {
	var body fetchRubricsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, domain.NewValidationError("body", "invalid JSON: "+err.Error(), nil))
		return
	}

	sessionID := c.Param("id")
	added, err := s.cases.AddRubricsByID(c.Request.Context(), sessionID, body.RubricIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	s.respondAnalysis(c, sessionID, gin.H{"added_count": added})
}

func (s *Server) handleRemoveRubric(c *gin.Context) {
	sessionID := c.Param("id")
	removed, err := s.cases.RemoveRubric(sessionID, c.Param("rubricId"))
	if err != nil {
		respondError(c, err)
		return
	}
	s.respondAnalysis(c, sessionID, gin.H{"removed": removed})
}

func (s *Server) handleSetImportance(c *gin.Context) {
	var body importanceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, domain.NewValidationError("body", "invalid JSON: "+err.Error(), nil))
		return
	}

	sessionID := c.Param("id")
	if err := s.cases.SetImportance(sessionID, c.Param("rubricId"), body.Importance); err != nil {
		respondError(c, err)
		return
	}
	s.respondAnalysis(c, sessionID, nil)
}

func (s *Server) handleClear(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.cases.ClearCase(sessionID); err != nil {
		respondError(c, err)
		return
	}
	s.respondAnalysis(c, sessionID, nil)
}

func (s *Server) handleAnalysis(c *gin.Context) {
	topN, err := queryInt(c, "top")
	if err != nil {
		respondError(c, err)
		return
	}
	analysis, err := s.cases.Analyze(c.Param("id"), topN)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// handleExport downloads the case as text or a chart workbook, or saves the text export
// to the export directory when save=true.
func (s *Server) handleExport(c *gin.Context) {
	sessionID := c.Param("id")
	topN, err := queryInt(c, "top")
	if err != nil {
		respondError(c, err)
		return
	}
	meta, err := s.exportMetadata(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if save, _ := strconv.ParseBool(c.Query("save")); save {
		location, err := s.cases.SaveExport(c.Request.Context(), sessionID, meta, topN)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"location": location})
		return
	}

	switch format := strings.ToLower(c.DefaultQuery("format", "text")); format {
	case "text", "txt":
		text, err := s.cases.ExportText(sessionID, meta, topN)
		if err != nil {
			respondError(c, err)
			return
		}
		attach(c, service.ExportFileName(sessionID, meta, "txt"))
		c.Data(http.StatusOK, mimeText, []byte(text))

	case "xlsx":
		wb, err := s.cases.ExportWorkbook(sessionID, meta, topN)
		if err != nil {
			respondError(c, err)
			return
		}
		defer wb.Close()

		buf, err := wb.WriteToBuffer()
		if err != nil {
			respondError(c, fmt.Errorf("%w: rendering workbook: %v", domain.ErrIO, err))
			return
		}
		attach(c, service.ExportFileName(sessionID, meta, "xlsx"))
		c.Data(http.StatusOK, mimeXLSX, buf.Bytes())

	default:
		respondError(c, domain.NewValidationError("format", "format must be text or xlsx", format))
	}
}

func (s *Server) handleSearchRubrics(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	query := domain.SearchQuery{
		Text:      c.Query("q"),
		Repertory: c.Query("repertory"),
		Limit:     limit,
	}

	rubrics, err := s.cases.SearchRubrics(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	results := make([]domain.RubricResult, len(rubrics))
	for i, r := range rubrics {
		results[i] = domain.NewRubricResult(r)
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) handleRecordFeedback(c *gin.Context) {
	var body service.PrescriptionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, domain.NewValidationError("body", "invalid JSON: "+err.Error(), nil))
		return
	}

	fb, err := s.cases.RecordPrescription(c.Request.Context(), body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fb)
}

func (s *Server) handleListFeedback(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		respondError(c, err)
		return
	}

	items, stats, err := s.cases.ListPrescriptions(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": items, "stats": stats})
}

// respondAnalysis answers a mutation with the refreshed analysis and pushes it to live listeners
func (s *Server) respondAnalysis(c *gin.Context, sessionID string, extra gin.H) {
	analysis, err := s.cases.Analyze(sessionID, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	s.live.publish(sessionID, analysis)

	body := gin.H{"analysis": analysis}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// exportMetadata reads date=YYYY-MM-DD and repertory from the query; the date defaults to today
func (s *Server) exportMetadata(c *gin.Context) (domain.ExportMetadata, error) {
	meta := domain.ExportMetadata{
		RepertoryName: c.DefaultQuery("repertory", s.configManager.GetRepertoryConfig().DefaultName),
	}
	raw := c.Query("date")
	if raw == "" {
		meta.Date = time.Now().UTC().Truncate(24 * time.Hour)
		return meta, nil
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return meta, domain.NewValidationError("date", "date must be YYYY-MM-DD", raw)
	}
	meta.Date = date
	return meta, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, domain.NewValidationError(name, name+" must be a non-negative integer", raw)
	}
	return v, nil
}

func attach(c *gin.Context, filename string) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
}
