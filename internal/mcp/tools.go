package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/repertory-sheet-server/internal/domain"
	"github.com/repertory-sheet-server/internal/service"
)

// StartCaseParams defines parameters for start_case tool
type StartCaseParams struct{}

// AddRubricParams defines parameters for add_rubric tool. Either Rubric or RubricIDs is required.
type AddRubricParams struct {
	SessionID string               `json:"session_id" jsonschema:"case session returned by start_case"`
	Rubric    *domain.RubricResult `json:"rubric,omitempty" jsonschema:"rubric in the repertory search result shape"`
	RubricIDs []string             `json:"rubric_ids,omitempty" jsonschema:"rubric ids to look up in the repertory"`
}

// RemoveRubricParams defines parameters for remove_rubric tool
type RemoveRubricParams struct {
	SessionID string `json:"session_id"`
	RubricID  string `json:"rubric_id"`
}

// SetImportanceParams defines parameters for set_importance tool
type SetImportanceParams struct {
	SessionID  string `json:"session_id"`
	RubricID   string `json:"rubric_id"`
	Importance int    `json:"importance" jsonschema:"multiplier from 1 to 3"`
}

// SessionParams defines parameters for tools that only need the session
type SessionParams struct {
	SessionID string `json:"session_id"`
}

// AnalyzeCaseParams defines parameters for analyze_case tool
type AnalyzeCaseParams struct {
	SessionID string `json:"session_id"`
	Top       int    `json:"top,omitempty" jsonschema:"number of remedies to return, default from configuration"`
}

// ExportCaseParams defines parameters for export_case tool
type ExportCaseParams struct {
	SessionID string `json:"session_id"`
	Date      string `json:"date,omitempty" jsonschema:"consultation date as YYYY-MM-DD"`
	Repertory string `json:"repertory,omitempty"`
	Top       int    `json:"top,omitempty"`
	Save      bool   `json:"save,omitempty" jsonschema:"also write the export to the export directory"`
}

// SearchRubricsParams defines parameters for search_rubrics tool
type SearchRubricsParams struct {
	Query     string `json:"query"`
	Repertory string `json:"repertory,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// RecordPrescriptionParams defines parameters for record_prescription tool
type RecordPrescriptionParams struct {
	SessionID        string `json:"session_id"`
	ConsultationRef  string `json:"consultation_ref"`
	PrescribedRemedy string `json:"prescribed_remedy" jsonschema:"abbreviation of the remedy prescribed"`
	Potency          string `json:"potency,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// ExportCaseResult defines the result structure for export_case tool
type ExportCaseResult struct {
	Text     string `json:"text"`
	Location string `json:"location,omitempty"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "start_case",
		Description: "Open a new empty case sheet and return its session id",
	}, s.handleStartCase)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_rubric",
		Description: "Select a rubric on a case, given inline or by repertory rubric id. Re-adding a selected rubric changes nothing.",
	}, s.handleAddRubric)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "remove_rubric",
		Description: "Remove a rubric from a case",
	}, s.handleRemoveRubric)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_importance",
		Description: "Set the importance multiplier (1-3) of a selected rubric",
	}, s.handleSetImportance)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "clear_case",
		Description: "Remove every rubric from a case",
	}, s.handleClearCase)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "analyze_case",
		Description: "Rank the remedies of a case by rubric count, then total score",
	}, s.handleAnalyzeCase)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_case",
		Description: "Render a case and its ranked remedies as a plain-text repertory sheet",
	}, s.handleExportCase)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_rubrics",
		Description: "Search the repertory for rubrics matching a symptom",
	}, s.handleSearchRubrics)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "record_prescription",
		Description: "Record which remedy was prescribed for an analysed case",
	}, s.handleRecordPrescription)

	s.logger.WithField("tool_count", 9).Info("Registered MCP tools")
}

func (s *Server) handleStartCase(ctx context.Context, req *mcp.CallToolRequest, params StartCaseParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "start_case").Info("Tool invoked")

	session := s.cases.StartCase()
	out := map[string]string{"session_id": session.ID()}
	return textResult(fmt.Sprintf("Started case %s", session.ID())), out, nil
}

func (s *Server) handleAddRubric(ctx context.Context, req *mcp.CallToolRequest, params AddRubricParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{"tool": "add_rubric", "session_id": params.SessionID}).Info("Tool invoked")

	switch {
	case params.Rubric != nil:
		rubric, err := params.Rubric.ToRubric()
		if err != nil {
			return s.createErrorResult("Invalid rubric", err), nil, nil
		}
		added, err := s.cases.AddRubric(params.SessionID, rubric)
		if err != nil {
			return s.createErrorResult("Could not add rubric", err), nil, nil
		}
		if !added {
			return s.analysisResult(params.SessionID, fmt.Sprintf("Rubric %s is already on the case", rubric.ID))
		}
		return s.analysisResult(params.SessionID, fmt.Sprintf("Added rubric %s", rubric.ID))

	case len(params.RubricIDs) > 0:
		added, err := s.cases.AddRubricsByID(ctx, params.SessionID, params.RubricIDs)
		if err != nil {
			return s.createErrorResult("Could not add rubrics", err), nil, nil
		}
		return s.analysisResult(params.SessionID, fmt.Sprintf("Added %d of %d rubrics", added, len(params.RubricIDs)))

	default:
		return s.createErrorResult("Missing required parameter",
			domain.NewValidationError("rubric", "rubric or rubric_ids is required", nil)), nil, nil
	}
}

func (s *Server) handleRemoveRubric(ctx context.Context, req *mcp.CallToolRequest, params RemoveRubricParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{"tool": "remove_rubric", "session_id": params.SessionID}).Info("Tool invoked")

	removed, err := s.cases.RemoveRubric(params.SessionID, params.RubricID)
	if err != nil {
		return s.createErrorResult("Could not remove rubric", err), nil, nil
	}
	if !removed {
		return s.analysisResult(params.SessionID, fmt.Sprintf("Rubric %s was not on the case", params.RubricID))
	}
	return s.analysisResult(params.SessionID, fmt.Sprintf("Removed rubric %s", params.RubricID))
}

func (s *Server) handleSetImportance(ctx context.Context, req *mcp.CallToolRequest, params SetImportanceParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{"tool": "set_importance", "session_id": params.SessionID}).Info("Tool invoked")

	if err := s.cases.SetImportance(params.SessionID, params.RubricID, params.Importance); err != nil {
		return s.createErrorResult("Could not set importance", err), nil, nil
	}
	return s.analysisResult(params.SessionID, fmt.Sprintf("Rubric %s now counts x%d", params.RubricID, params.Importance))
}

func (s *Server) handleClearCase(ctx context.Context, req *mcp.CallToolRequest, params SessionParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{"tool": "clear_case", "session_id": params.SessionID}).Info("Tool invoked")

	if err := s.cases.ClearCase(params.SessionID); err != nil {
		return s.createErrorResult("Could not clear case", err), nil, nil
	}
	return s.analysisResult(params.SessionID, "Case cleared")
}

func (s *Server) handleAnalyzeCase(ctx context.Context, req *mcp.CallToolRequest, params AnalyzeCaseParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{"tool": "analyze_case", "session_id": params.SessionID}).Info("Tool invoked")

	analysis, err := s.cases.Analyze(params.SessionID, params.Top)
	if err != nil {
		return s.createErrorResult("Could not analyze case", err), nil, nil
	}
	return textResult(formatAnalysis(analysis)), analysis, nil
}

func (s *Server) handleExportCase(ctx context.Context, req *mcp.CallToolRequest, params ExportCaseParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{"tool": "export_case", "session_id": params.SessionID}).Info("Tool invoked")

	meta, err := s.exportMetadata(params)
	if err != nil {
		return s.createErrorResult("Invalid export parameters", err), nil, nil
	}

	text, err := s.cases.ExportText(params.SessionID, meta, params.Top)
	if err != nil {
		return s.createErrorResult("Could not export case", err), nil, nil
	}
	out := ExportCaseResult{Text: text}

	if params.Save {
		location, err := s.cases.SaveExport(ctx, params.SessionID, meta, params.Top)
		if err != nil {
			return s.createErrorResult("Could not save export", err), nil, nil
		}
		out.Location = location
	}

	return textResult(text), out, nil
}

func (s *Server) handleSearchRubrics(ctx context.Context, req *mcp.CallToolRequest, params SearchRubricsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "search_rubrics").Info("Tool invoked")

	rubrics, err := s.cases.SearchRubrics(ctx, domain.SearchQuery{
		Text:      params.Query,
		Repertory: params.Repertory,
		Limit:     params.Limit,
	})
	if err != nil {
		return s.createErrorResult("Rubric search failed", err), nil, nil
	}

	results := make([]domain.RubricResult, len(rubrics))
	var b strings.Builder
	fmt.Fprintf(&b, "%d rubrics found\n", len(rubrics))
	for i, r := range rubrics {
		results[i] = domain.NewRubricResult(r)
		fmt.Fprintf(&b, "- %s (%s, %d remedies)\n", r.FullPath, r.ID, len(r.WeightedRemedies))
	}
	return textResult(b.String()), map[string]any{"results": results}, nil
}

func (s *Server) handleRecordPrescription(ctx context.Context, req *mcp.CallToolRequest, params RecordPrescriptionParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{"tool": "record_prescription", "session_id": params.SessionID}).Info("Tool invoked")

	fb, err := s.cases.RecordPrescription(ctx, service.PrescriptionRequest{
		SessionID:        params.SessionID,
		ConsultationRef:  params.ConsultationRef,
		PrescribedRemedy: params.PrescribedRemedy,
		Potency:          params.Potency,
		Notes:            params.Notes,
	})
	if err != nil {
		return s.createErrorResult("Could not record prescription", err), nil, nil
	}

	verdict := "differs from"
	if fb.Agreed {
		verdict = "matches"
	}
	text := fmt.Sprintf("Recorded %s for %s; it %s the top-ranked remedy %q",
		fb.PrescribedRemedy, fb.ConsultationRef, verdict, fb.SuggestedRemedy)
	return textResult(text), fb, nil
}

// analysisResult answers a mutation with a status line followed by the current ranking
func (s *Server) analysisResult(sessionID, status string) (*mcp.CallToolResult, any, error) {
	analysis, err := s.cases.Analyze(sessionID, 0)
	if err != nil {
		return s.createErrorResult("Could not analyze case", err), nil, nil
	}
	return textResult(status + "\n\n" + formatAnalysis(analysis)), analysis, nil
}

func (s *Server) exportMetadata(params ExportCaseParams) (domain.ExportMetadata, error) {
	meta := domain.ExportMetadata{RepertoryName: params.Repertory}
	if meta.RepertoryName == "" {
		meta.RepertoryName = s.info.RepertoryName
	}
	if params.Date == "" {
		return meta, nil
	}
	date, err := time.Parse("2006-01-02", params.Date)
	if err != nil {
		return meta, domain.NewValidationError("date", "date must be YYYY-MM-DD", params.Date)
	}
	meta.Date = date
	return meta, nil
}

// formatAnalysis renders the ranking for the model to read
func formatAnalysis(a service.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Case %s: %d rubrics, %d remedies\n", a.SessionID, a.Summary.RubricCount, a.Summary.RemedyCount)
	for _, r := range a.Ranked {
		fmt.Fprintf(&b, "%d. %s score=%d rubrics=%d coverage=%d%% [%s]\n",
			r.Rank, r.Remedy.String(), r.TotalScore, r.Occurrences, r.CoveragePercent, r.Band)
	}
	return b.String()
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %s: %v", domain.ErrorCode(err), err)
	}
	s.logger.WithError(err).Warn(message)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}

